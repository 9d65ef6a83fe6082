// Package ipban wires one blackhole run together: read the configuration,
// expand AS numbers, reconcile the routing table and report.
package ipban

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/ipban/internal/config"
	"github.com/DrC0ns0le/ipban/internal/lookup"
	"github.com/DrC0ns0le/ipban/internal/metrics"
	"github.com/DrC0ns0le/ipban/internal/reconcile"
	"github.com/DrC0ns0le/ipban/internal/routes"
	"github.com/DrC0ns0le/ipban/pkg/logging"
)

// Lister reads the blackhole routes currently installed.
type Lister interface {
	ListBlackholes(ctx context.Context, f routes.Family) ([]string, error)
}

// Job holds everything one run needs. Nothing in it outlives the run.
type Job struct {
	ConfigPath string
	Sections   config.Sections

	Expander *lookup.Expander
	Mutator  reconcile.Mutator
	// Lister is optional. When set, installed blackholes are logged before
	// and after reconciliation.
	Lister Lister

	Logger logging.Logger

	now func() time.Time
}

// Report is the end of run summary.
type Report struct {
	Start    time.Time
	Duration time.Duration

	ConfigWarnings int
	// Literal counts the prefixes taken directly from the configuration.
	Literal map[routes.Family]int
	ASNs    int

	Lookup lookup.Summary

	Routes  map[routes.Family]int
	Digests map[routes.Family]uint64

	Reconcile reconcile.Summary
}

// Run performs one full reconciliation. The only error it returns is a
// configuration that could not be read; no route is touched in that case.
// Every other failure is counted in the report.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	now := j.now
	if now == nil {
		now = time.Now
	}
	rep := &Report{
		Start:   now(),
		Literal: make(map[routes.Family]int),
		Routes:  make(map[routes.Family]int),
		Digests: make(map[routes.Family]uint64),
	}

	j.Logger.Infof("reading configuration from %s", j.ConfigPath)
	cfg, err := config.Load(j.ConfigPath, j.Sections, j.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read or parse configuration")
	}
	rep.ConfigWarnings = cfg.Warnings
	for _, f := range routes.Families {
		rep.Literal[f] = cfg.Routes.Len(f)
	}
	rep.ASNs = cfg.ASNs.Len()
	j.Logger.Infof("read %d direct IPv4 routes, %d direct IPv6 routes and %d AS numbers to block (%d warnings)",
		rep.Literal[routes.V4], rep.Literal[routes.V6], rep.ASNs, rep.ConfigWarnings)

	if rep.ASNs > 0 {
		rep.Lookup = j.Expander.Expand(ctx, cfg.ASNs.Values(), cfg.Routes)
		j.Logger.Infof("added %d prefixes from AS lookups", rep.Lookup.Inserted)
	}

	rs := cfg.Routes
	for _, f := range routes.Families {
		rep.Routes[f] = rs.Len(f)
		rep.Digests[f] = rs.Digest(f)
		j.Logger.Infof("total unique %s routes to manage: %d (digest %016x)", f, rep.Routes[f], rep.Digests[f])
	}

	j.show(ctx, "before reconciliation")
	rep.Reconcile = reconcile.New(j.Mutator, j.Logger).Reconcile(ctx, rs)
	j.show(ctx, "after reconciliation")

	rep.Duration = now().Sub(rep.Start)
	j.logReport(rep)
	return rep, nil
}

func (j *Job) show(ctx context.Context, when string) {
	if j.Lister == nil {
		return
	}
	for _, f := range routes.Families {
		dsts, err := j.Lister.ListBlackholes(ctx, f)
		if err != nil {
			j.Logger.Warnf("failed to list %s blackhole routes: %v", f, err)
			continue
		}
		j.Logger.Infof("%s blackhole routes %s: %d [%s]", f, when, len(dsts), strings.Join(dsts, " "))
	}
}

func (j *Job) logReport(rep *Report) {
	rc := rep.Reconcile
	j.Logger.Infof("run finished in %s: %d config warnings, %d/%d AS lookups failed, "+
		"%d deleted, %d already absent, %d added, %d delete failures, %d add failures",
		rep.Duration.Round(time.Millisecond), rep.ConfigWarnings, len(rep.Lookup.Failed), rep.ASNs,
		rc.Deleted, rc.Absent, rc.Added, rc.DeleteFailures(), rc.AddFailures())
}

// Failed reports whether any non-fatal failure happened during the run.
func (rep *Report) Failed() bool {
	return rep.ConfigWarnings > 0 || len(rep.Lookup.Failed) > 0 || len(rep.Reconcile.Failures) > 0
}

// Metrics converts the report for the metrics recorder.
func (rep *Report) Metrics() metrics.Run {
	run := metrics.Run{
		Start:          rep.Start,
		Duration:       rep.Duration,
		ConfigWarnings: rep.ConfigWarnings,
		ASNs:           rep.ASNs,
		ASNsFailed:     len(rep.Lookup.Failed),
		ASNsEmpty:      len(rep.Lookup.Empty),
		ASNPrefixes:    rep.Lookup.Inserted,
		Routes:         make(map[string]int),
		Digests:        make(map[string]uint64),
		Deleted:        rep.Reconcile.Deleted,
		Absent:         rep.Reconcile.Absent,
		Added:          rep.Reconcile.Added,
		DeleteFailures: rep.Reconcile.DeleteFailures(),
		AddFailures:    rep.Reconcile.AddFailures(),
	}
	for f, n := range rep.Routes {
		run.Routes[strings.ToLower(f.String())] = n
	}
	for f, d := range rep.Digests {
		run.Digests[strings.ToLower(f.String())] = d
	}
	return run
}
