package routes

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"

	"github.com/DrC0ns0le/ipban/internal/orderedset"
)

var ErrInvalidPrefix = errors.New("prefix must contain '/'")

// Family is an address family of a blackhole route.
type Family int

const (
	V4 Family = 4
	V6 Family = 6
)

// Families is the fixed order every pass walks the address families in.
var Families = []Family{V4, V6}

// Flag returns the family switch understood by ip(8) and bgpq4, "-4" or "-6".
func (f Family) Flag() string {
	return fmt.Sprintf("-%d", int(f))
}

func (f Family) String() string {
	switch f {
	case V4:
		return "IPv4"
	case V6:
		return "IPv6"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// RouteSet is the desired set of blackhole prefixes, one ordered set per family.
// It is built fresh for every run and only ever grows.
type RouteSet struct {
	v4 orderedset.Set[string]
	v6 orderedset.Set[string]
}

func NewRouteSet() *RouteSet {
	return &RouteSet{}
}

func (rs *RouteSet) set(f Family) *orderedset.Set[string] {
	switch f {
	case V4:
		return &rs.v4
	case V6:
		return &rs.v6
	}
	panic(fmt.Sprintf("routes: unknown address family %d", int(f)))
}

// Add inserts prefix under family f. It returns false when the prefix is
// already present, and ErrInvalidPrefix when the token is not prefix shaped.
func (rs *RouteSet) Add(f Family, prefix string) (bool, error) {
	if !IsPrefix(prefix) {
		return false, errors.Wrapf(ErrInvalidPrefix, "%q", prefix)
	}
	return rs.set(f).Add(prefix), nil
}

// Prefixes returns the prefixes of family f in insertion order.
func (rs *RouteSet) Prefixes(f Family) []string {
	return rs.set(f).Values()
}

func (rs *RouteSet) Len(f Family) int {
	return rs.set(f).Len()
}

// Digest fingerprints the ordered prefixes of family f, so two runs can be
// compared without keeping state between them.
func (rs *RouteSet) Digest(f Family) uint64 {
	h := xxhash.New()
	rs.set(f).Each(func(p string) {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	})
	return h.Sum64()
}

// IsPrefix reports whether token looks like address/length.
func IsPrefix(token string) bool {
	return token != "" && strings.Contains(token, "/")
}
