package routes

import (
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidASN = errors.New("invalid AS number")

// NormalizeASN strips an optional, case-insensitive "AS" prefix and returns the
// bare decimal AS number.
func NormalizeASN(token string) (string, error) {
	num := token
	if len(num) >= 2 && strings.EqualFold(num[:2], "as") {
		num = num[2:]
	}
	if num == "" {
		return "", errors.Wrapf(ErrInvalidASN, "%q", token)
	}
	for i := 0; i < len(num); i++ {
		if num[i] < '0' || num[i] > '9' {
			return "", errors.Wrapf(ErrInvalidASN, "%q", token)
		}
	}
	return num, nil
}
