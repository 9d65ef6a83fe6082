package reconcile_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrC0ns0le/ipban/internal/command"
	"github.com/DrC0ns0le/ipban/internal/command/commandtest"
	"github.com/DrC0ns0le/ipban/internal/reconcile"
	"github.com/DrC0ns0le/ipban/internal/routes"
	"github.com/DrC0ns0le/ipban/internal/system/netctl"
	"github.com/DrC0ns0le/ipban/pkg/logging"
)

type fakeMutator struct {
	delErr func(f routes.Family, prefix string) error
	addErr func(f routes.Family, prefix string) error
	ops    []string
}

func (m *fakeMutator) DelBlackhole(_ context.Context, f routes.Family, prefix string) error {
	m.ops = append(m.ops, fmt.Sprintf("del %s %s", f.Flag(), prefix))
	if m.delErr != nil {
		return m.delErr(f, prefix)
	}
	return nil
}

func (m *fakeMutator) AddBlackhole(_ context.Context, f routes.Family, prefix string) error {
	m.ops = append(m.ops, fmt.Sprintf("add %s %s", f.Flag(), prefix))
	if m.addErr != nil {
		return m.addErr(f, prefix)
	}
	return nil
}

func routeSet(t *testing.T, v4, v6 []string) *routes.RouteSet {
	t.Helper()
	rs := routes.NewRouteSet()
	for _, p := range v4 {
		_, err := rs.Add(routes.V4, p)
		require.NoError(t, err)
	}
	for _, p := range v6 {
		_, err := rs.Add(routes.V6, p)
		require.NoError(t, err)
	}
	return rs
}

func TestReconcileOrder(t *testing.T) {
	m := &fakeMutator{}
	rs := routeSet(t, []string{"10.0.0.0/8", "192.0.2.0/24"}, []string{"2001:db8::/32"})

	sum := reconcile.New(m, logging.Discard()).Reconcile(context.Background(), rs)

	assert.Equal(t, []string{
		"del -4 10.0.0.0/8",
		"del -4 192.0.2.0/24",
		"add -4 10.0.0.0/8",
		"add -4 192.0.2.0/24",
		"del -6 2001:db8::/32",
		"add -6 2001:db8::/32",
	}, m.ops)
	assert.Equal(t, 3, sum.Deleted)
	assert.Equal(t, 3, sum.Added)
	assert.Equal(t, 0, sum.Absent)
	assert.Empty(t, sum.Failures)
}

func TestReconcileAbsentIsNotAFailure(t *testing.T) {
	m := &fakeMutator{
		delErr: func(routes.Family, string) error {
			return errors.Wrap(netctl.ErrRouteNotFound, "exit code 2")
		},
	}
	rs := routeSet(t, []string{"203.0.113.0/24"}, nil)

	sum := reconcile.New(m, logging.Discard()).Reconcile(context.Background(), rs)

	assert.Equal(t, 0, len(sum.Failures))
	assert.Equal(t, 1, sum.Absent)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, 0, sum.Deleted)
}

func TestReconcileContinuesAfterFailures(t *testing.T) {
	m := &fakeMutator{
		delErr: func(_ routes.Family, prefix string) error {
			if prefix == "10.0.0.0/8" {
				return errors.New("exit code 1")
			}
			return nil
		},
		addErr: func(f routes.Family, prefix string) error {
			if f == routes.V4 && prefix == "192.0.2.0/24" {
				return errors.New("terminated by signal 15")
			}
			return nil
		},
	}
	rs := routeSet(t, []string{"10.0.0.0/8", "192.0.2.0/24", "198.51.100.0/24"}, []string{"2001:db8::/32"})

	sum := reconcile.New(m, logging.Discard()).Reconcile(context.Background(), rs)

	assert.Len(t, m.ops, 8, "every mutation is attempted")
	assert.Equal(t, 1, sum.DeleteFailures())
	assert.Equal(t, 1, sum.AddFailures())
	assert.Equal(t, 3, sum.Deleted)
	assert.Equal(t, 3, sum.Added)
	require.Len(t, sum.Failures, 2)
	assert.Equal(t, reconcile.Failure{Op: reconcile.OpDelete, Family: routes.V4, Prefix: "10.0.0.0/8", Err: sum.Failures[0].Err}, sum.Failures[0])
	assert.Equal(t, reconcile.OpAdd, sum.Failures[1].Op)
	assert.Equal(t, "192.0.2.0/24", sum.Failures[1].Prefix)
	assert.Contains(t, sum.Failures[1].String(), "add IPv4 blackhole 192.0.2.0/24")
}

func TestReconcileEmptySet(t *testing.T) {
	m := &fakeMutator{}

	sum := reconcile.New(m, logging.Discard()).Reconcile(context.Background(), routes.NewRouteSet())

	assert.Empty(t, m.ops)
	assert.Equal(t, reconcile.Summary{}, sum)
}

func TestReconcileWithIPRoute(t *testing.T) {
	runner := &commandtest.Runner{Handler: func(_ string, args []string) command.Result {
		if args[2] == "del" {
			return commandtest.Exit(2)
		}
		return commandtest.Exit(0)
	}}
	rs := routeSet(t, []string{"203.0.113.0/24"}, nil)

	sum := reconcile.New(netctl.NewIPRoute(runner, "", logging.Discard()), logging.Discard()).Reconcile(context.Background(), rs)

	assert.Empty(t, sum.Failures)
	assert.Equal(t, 1, sum.Absent)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, []string{
		"ip -4 route del blackhole 203.0.113.0/24",
		"ip -4 route add blackhole 203.0.113.0/24",
	}, runner.Calls())
}
