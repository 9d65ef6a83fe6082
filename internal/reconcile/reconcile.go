// Package reconcile drives the routing table towards the desired RouteSet.
//
// For each address family every prefix is first deleted and then added
// again. Both passes are best effort: a failing prefix is recorded and the
// pass carries on with the next one.
package reconcile

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/ipban/internal/routes"
	"github.com/DrC0ns0le/ipban/internal/system/netctl"
	"github.com/DrC0ns0le/ipban/pkg/logging"
)

// Mutator changes blackhole routes in the routing table. DelBlackhole
// returns an error matching netctl.ErrRouteNotFound when the route was not
// there.
type Mutator interface {
	AddBlackhole(ctx context.Context, f routes.Family, prefix string) error
	DelBlackhole(ctx context.Context, f routes.Family, prefix string) error
}

type Op string

const (
	OpDelete Op = "delete"
	OpAdd    Op = "add"
)

// Failure is one mutation that did not go through.
type Failure struct {
	Op     Op
	Family routes.Family
	Prefix string
	Err    error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %s blackhole %s: %v", f.Op, f.Family, f.Prefix, f.Err)
}

// Summary counts the outcomes of one reconciliation.
type Summary struct {
	Deleted int
	// Absent counts deletes of routes that did not exist.
	Absent   int
	Added    int
	Failures []Failure
}

func (s Summary) failures(op Op) int {
	n := 0
	for _, f := range s.Failures {
		if f.Op == op {
			n++
		}
	}
	return n
}

func (s Summary) DeleteFailures() int { return s.failures(OpDelete) }

func (s Summary) AddFailures() int { return s.failures(OpAdd) }

type Reconciler struct {
	Mutator Mutator
	Logger  logging.Logger
}

func New(m Mutator, logger logging.Logger) *Reconciler {
	return &Reconciler{Mutator: m, Logger: logger}
}

// Reconcile deletes and re-adds every prefix of rs, IPv4 first, and never
// stops early.
func (r *Reconciler) Reconcile(ctx context.Context, rs *routes.RouteSet) Summary {
	var sum Summary
	for _, f := range routes.Families {
		prefixes := rs.Prefixes(f)
		if len(prefixes) == 0 {
			r.Logger.Infof("no %s routes to manage", f)
			continue
		}

		r.Logger.Infof("deleting %d %s blackhole routes", len(prefixes), f)
		for _, p := range prefixes {
			r.delete(ctx, f, p, &sum)
		}

		r.Logger.Infof("adding %d %s blackhole routes", len(prefixes), f)
		for _, p := range prefixes {
			r.add(ctx, f, p, &sum)
		}
	}

	if n := len(sum.Failures); n > 0 {
		r.Logger.Warnf("%d route operations failed (%d deletes, %d adds)", n, sum.DeleteFailures(), sum.AddFailures())
		for _, f := range sum.Failures {
			r.Logger.Warnf("failed: %s", f)
		}
	}
	return sum
}

func (r *Reconciler) delete(ctx context.Context, f routes.Family, prefix string, sum *Summary) {
	err := r.Mutator.DelBlackhole(ctx, f, prefix)
	switch {
	case err == nil:
		sum.Deleted++
	case errors.Is(err, netctl.ErrRouteNotFound):
		sum.Absent++
		r.Logger.Infof("%s blackhole %s did not exist", f, prefix)
	default:
		sum.Failures = append(sum.Failures, Failure{Op: OpDelete, Family: f, Prefix: prefix, Err: err})
		r.Logger.Errorf("failed to delete %s blackhole %s: %v", f, prefix, err)
	}
}

func (r *Reconciler) add(ctx context.Context, f routes.Family, prefix string, sum *Summary) {
	if err := r.Mutator.AddBlackhole(ctx, f, prefix); err != nil {
		sum.Failures = append(sum.Failures, Failure{Op: OpAdd, Family: f, Prefix: prefix, Err: err})
		r.Logger.Errorf("failed to add %s blackhole %s: %v", f, prefix, err)
		return
	}
	sum.Added++
}
