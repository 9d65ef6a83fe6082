package ipban

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/ipban/internal/command"
	"github.com/DrC0ns0le/ipban/internal/command/commandtest"
	"github.com/DrC0ns0le/ipban/internal/config"
	"github.com/DrC0ns0le/ipban/internal/lookup"
	"github.com/DrC0ns0le/ipban/internal/routes"
	"github.com/DrC0ns0le/ipban/internal/system/netctl"
	"github.com/DrC0ns0le/ipban/pkg/logging"
)

type recordingMutator struct {
	absent bool
	ops    []string
}

func (m *recordingMutator) DelBlackhole(_ context.Context, f routes.Family, prefix string) error {
	m.ops = append(m.ops, fmt.Sprintf("del %s %s", f.Flag(), prefix))
	if m.absent {
		return errors.Wrap(netctl.ErrRouteNotFound, prefix)
	}
	return nil
}

func (m *recordingMutator) AddBlackhole(_ context.Context, f routes.Family, prefix string) error {
	m.ops = append(m.ops, fmt.Sprintf("add %s %s", f.Flag(), prefix))
	return nil
}

type staticLister struct {
	calls int
	err   error
}

func (l *staticLister) ListBlackholes(context.Context, routes.Family) ([]string, error) {
	l.calls++
	return []string{"192.0.2.0/24"}, l.err
}

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func newJob(path string, runner command.Runner, m *recordingMutator) *Job {
	clock := time.Unix(1700000000, 0)
	return &Job{
		ConfigPath: path,
		Sections:   config.DefaultSections(),
		Expander:   lookup.NewExpander(runner, "", logging.Discard()),
		Mutator:    m,
		Logger:     logging.Discard(),
		now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}
}

func TestRunLiteralRoutes(t *testing.T) {
	path := writeConfig(t, "[ipv4_routes]\nroutes = [\"10.0.0.0/8\", \"10.0.0.0/8\"]\n")
	m := &recordingMutator{}
	runner := &commandtest.Runner{}

	rep, err := newJob(path, runner, m).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Routes[routes.V4])
	assert.Equal(t, 0, rep.Routes[routes.V6])
	assert.Equal(t, []string{"del -4 10.0.0.0/8", "add -4 10.0.0.0/8"}, m.ops)
	assert.Empty(t, runner.Calls(), "no AS numbers, no lookups")
	assert.Equal(t, time.Second, rep.Duration)
	assert.False(t, rep.Failed())
}

func TestRunExpandsASN(t *testing.T) {
	path := writeConfig(t, "[asn_block]\nas_numbers = [\"AS65000\"]\n")
	m := &recordingMutator{}
	runner := &commandtest.Runner{Handler: func(_ string, args []string) command.Result {
		if args[0] == "-4" {
			return commandtest.Output("192.0.2.0/24\n")
		}
		return commandtest.Output("")
	}}

	rep, err := newJob(path, runner, m).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Routes[routes.V4])
	assert.Equal(t, 0, rep.Routes[routes.V6])
	assert.Equal(t, 1, rep.Lookup.Inserted)
	assert.Equal(t, []string{"del -4 192.0.2.0/24", "add -4 192.0.2.0/24"}, m.ops)
}

func TestRunAbsentRoutes(t *testing.T) {
	path := writeConfig(t, "[ipv4_routes]\nroutes = [\"203.0.113.0/24\"]\n")
	m := &recordingMutator{absent: true}

	rep, err := newJob(path, &commandtest.Runner{}, m).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, rep.Reconcile.Failures)
	assert.Equal(t, 1, rep.Reconcile.Absent)
	assert.Equal(t, 1, rep.Reconcile.Added)
	assert.False(t, rep.Failed())
}

func TestRunUnreadableConfig(t *testing.T) {
	m := &recordingMutator{}
	runner := &commandtest.Runner{}
	lister := &staticLister{}
	job := newJob(filepath.Join(t.TempDir(), "missing.toml"), runner, m)
	job.Lister = lister

	rep, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.True(t, errors.Is(err, config.ErrRead))
	assert.Empty(t, m.ops)
	assert.Empty(t, runner.Calls())
	assert.Equal(t, 0, lister.calls)
}

func TestRunDeletesBeforeAddsPerFamily(t *testing.T) {
	path := writeConfig(t, `
[ipv4_routes]
routes = ["10.0.0.0/8", "192.0.2.0/24"]
[ipv6_routes]
routes = ["2001:db8::/32"]
[asn_block]
as_numbers = ["AS1"]
`)
	m := &recordingMutator{}
	runner := &commandtest.Runner{Handler: func(_ string, args []string) command.Result {
		if args[0] == "-6" {
			return commandtest.Output("2001:db8:1::/48\n2001:db8::/32\n")
		}
		return commandtest.Output("10.0.0.0/8\n")
	}}

	rep, err := newJob(path, runner, m).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"del -4 10.0.0.0/8",
		"del -4 192.0.2.0/24",
		"add -4 10.0.0.0/8",
		"add -4 192.0.2.0/24",
		"del -6 2001:db8::/32",
		"del -6 2001:db8:1::/48",
		"add -6 2001:db8::/32",
		"add -6 2001:db8:1::/48",
	}, m.ops)
	assert.Equal(t, 2, rep.Literal[routes.V4])
	assert.Equal(t, 1, rep.Literal[routes.V6])
	assert.Equal(t, 2, rep.Routes[routes.V6])
	assert.Equal(t, 1, rep.Lookup.Inserted)
}

func TestRunLookupFailureIsNotFatal(t *testing.T) {
	path := writeConfig(t, "[ipv4_routes]\nroutes = [\"10.0.0.0/8\"]\n[asn_block]\nas_numbers = [\"AS1\"]\n")
	m := &recordingMutator{}
	runner := &commandtest.Runner{Handler: func(string, []string) command.Result {
		return command.Result{Status: command.StartFailed, Err: errors.New("bgpq4 not installed")}
	}}

	rep, err := newJob(path, runner, m).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"AS1"}, rep.Lookup.Failed)
	assert.Equal(t, []string{"del -4 10.0.0.0/8", "add -4 10.0.0.0/8"}, m.ops)
	assert.True(t, rep.Failed())
}

func TestRunShowsRoutes(t *testing.T) {
	path := writeConfig(t, "[ipv4_routes]\nroutes = [\"10.0.0.0/8\"]\n")
	lister := &staticLister{err: errors.New("listing is advisory")}
	job := newJob(path, &commandtest.Runner{}, &recordingMutator{})
	job.Lister = lister

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, lister.calls, "two families, before and after")
}

func TestReportMetrics(t *testing.T) {
	path := writeConfig(t, "[ipv4_routes]\nroutes = [\"10.0.0.0/8\", \"bad\"]\n[ipv6_routes]\nroutes = [\"2001:db8::/32\"]\n")
	rep, err := newJob(path, &commandtest.Runner{}, &recordingMutator{absent: true}).Run(context.Background())
	require.NoError(t, err)

	run := rep.Metrics()
	assert.Equal(t, 1, run.ConfigWarnings)
	assert.Equal(t, map[string]int{"ipv4": 1, "ipv6": 1}, run.Routes)
	assert.Equal(t, rep.Digests[routes.V6], run.Digests["ipv6"])
	assert.Equal(t, 2, run.Absent)
	assert.Equal(t, 2, run.Added)
	assert.Equal(t, 0, run.Deleted)
	assert.True(t, rep.Failed())
}
