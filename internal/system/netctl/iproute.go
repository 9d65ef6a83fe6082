package netctl

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/ipban/internal/command"
	"github.com/DrC0ns0le/ipban/internal/routes"
	"github.com/DrC0ns0le/ipban/pkg/logging"
)

const DefaultIPBinary = "ip"

// absentExitCodes are the ip(8) exit codes of "route del" for a route that
// does not exist.
var absentExitCodes = map[int]struct{}{
	2:   {},
	254: {},
}

// IPRoute manages blackhole routes by running ip(8).
type IPRoute struct {
	Runner command.Runner
	Binary string
	Logger logging.Logger
}

func NewIPRoute(runner command.Runner, binary string, logger logging.Logger) *IPRoute {
	if binary == "" {
		binary = DefaultIPBinary
	}
	return &IPRoute{Runner: runner, Binary: binary, Logger: logger}
}

// AddBlackhole runs "ip -<family> route add blackhole <prefix>".
func (r *IPRoute) AddBlackhole(ctx context.Context, f routes.Family, prefix string) error {
	res := r.run(ctx, f.Flag(), "route", "add", "blackhole", prefix)
	return res.Error()
}

// DelBlackhole runs "ip -<family> route del blackhole <prefix>". The exit
// codes ip uses for a missing route are reported as ErrRouteNotFound.
func (r *IPRoute) DelBlackhole(ctx context.Context, f routes.Family, prefix string) error {
	res := r.run(ctx, f.Flag(), "route", "del", "blackhole", prefix)
	if res.Status == command.Exited {
		if _, ok := absentExitCodes[res.ExitCode]; ok {
			return errors.Wrapf(ErrRouteNotFound, "%s (exit code %d)", res.Line(), res.ExitCode)
		}
	}
	return res.Error()
}

// ListBlackholes runs "ip -<family> route show type blackhole" and returns
// the destinations.
func (r *IPRoute) ListBlackholes(ctx context.Context, f routes.Family) ([]string, error) {
	res := r.run(ctx, f.Flag(), "route", "show", "type", "blackhole")
	if err := res.Error(); err != nil {
		return nil, err
	}

	var dsts []string
	scanner := bufio.NewScanner(bytes.NewReader(res.Stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		switch {
		case len(fields) >= 2 && fields[0] == "blackhole":
			dsts = append(dsts, fields[1])
		case len(fields) >= 1:
			dsts = append(dsts, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s output", res.Line())
	}
	return dsts, nil
}

func (r *IPRoute) run(ctx context.Context, args ...string) command.Result {
	r.Logger.Infof("executing: %s", command.Line(r.Binary, args...))
	res := r.Runner.Run(ctx, r.Binary, args...)
	r.Logger.Debugf("%s: %s", res.Line(), res.Describe())
	if !res.OK() && len(res.Stderr) > 0 {
		r.Logger.Debugf("%s stderr: %s", r.Binary, bytes.TrimSpace(res.Stderr))
	}
	return res
}
