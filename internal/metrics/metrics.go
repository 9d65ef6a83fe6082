package metrics

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Run is the part of a run report that is exported.
type Run struct {
	Start    time.Time
	Duration time.Duration

	ConfigWarnings int

	ASNs        int
	ASNsFailed  int
	ASNsEmpty   int
	ASNPrefixes int

	// Routes and Digests are keyed by family label ("ipv4", "ipv6").
	Routes  map[string]int
	Digests map[string]uint64

	Deleted        int
	Absent         int
	Added          int
	DeleteFailures int
	AddFailures    int
}

// Recorder holds the run gauges on a private registry, so that a one-shot
// run can be written out as a node_exporter textfile.
type Recorder struct {
	reg *prometheus.Registry

	routes      *prometheus.GaugeVec
	routeSet    *prometheus.GaugeVec
	warnings    prometheus.Gauge
	asns        *prometheus.GaugeVec
	asnPrefixes prometheus.Gauge
	operations  *prometheus.GaugeVec
	lastRun     prometheus.Gauge
	duration    prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),

		routes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ipban_routes",
			Help: "Blackhole prefixes in the desired route set",
		}, []string{"family"}),
		routeSet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ipban_route_set_info",
			Help: "Digest of the ordered desired route set, value is always 1",
		}, []string{"family", "digest"}),
		warnings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipban_config_warnings",
			Help: "Rejected configuration lines and tokens",
		}),
		asns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ipban_asns",
			Help: "AS numbers to block by lookup state",
		}, []string{"state"}),
		asnPrefixes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipban_asn_prefixes",
			Help: "Prefixes added to the route set from AS lookups",
		}),
		operations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ipban_route_operations",
			Help: "Route operations of the last run by outcome",
		}, []string{"op", "result"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipban_last_run_timestamp_seconds",
			Help: "Start time of the last run",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipban_last_run_duration_seconds",
			Help: "Duration of the last run",
		}),
	}
	r.reg.MustRegister(r.routes, r.routeSet, r.warnings, r.asns, r.asnPrefixes, r.operations, r.lastRun, r.duration)
	return r
}

// Observe sets every gauge from run.
func (r *Recorder) Observe(run Run) {
	for family, n := range run.Routes {
		r.routes.WithLabelValues(family).Set(float64(n))
	}
	r.routeSet.Reset()
	for family, d := range run.Digests {
		r.routeSet.WithLabelValues(family, fmt.Sprintf("%016x", d)).Set(1)
	}

	r.warnings.Set(float64(run.ConfigWarnings))

	r.asns.WithLabelValues("configured").Set(float64(run.ASNs))
	r.asns.WithLabelValues("failed").Set(float64(run.ASNsFailed))
	r.asns.WithLabelValues("empty").Set(float64(run.ASNsEmpty))
	r.asnPrefixes.Set(float64(run.ASNPrefixes))

	r.operations.WithLabelValues("delete", "ok").Set(float64(run.Deleted))
	r.operations.WithLabelValues("delete", "absent").Set(float64(run.Absent))
	r.operations.WithLabelValues("delete", "failed").Set(float64(run.DeleteFailures))
	r.operations.WithLabelValues("add", "ok").Set(float64(run.Added))
	r.operations.WithLabelValues("add", "failed").Set(float64(run.AddFailures))

	if !run.Start.IsZero() {
		r.lastRun.Set(float64(run.Start.Unix()))
	}
	r.duration.Set(run.Duration.Seconds())
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes the gauges to path in the text exposition format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}
	return nil
}
