package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DrC0ns0le/ipban/internal/command"
	"github.com/DrC0ns0le/ipban/internal/config"
	"github.com/DrC0ns0le/ipban/internal/ipban"
	"github.com/DrC0ns0le/ipban/internal/lookup"
	"github.com/DrC0ns0le/ipban/internal/metrics"
	"github.com/DrC0ns0le/ipban/internal/system/netctl"
	"github.com/DrC0ns0le/ipban/pkg/logging"
)

const (
	backendIP      = "ip"
	backendNetlink = "netlink"
	backendDryRun  = "dry-run"
)

type options struct {
	config   string
	sections config.Sections

	lookupTool string

	backend    string
	ipBinary   string
	showRoutes bool

	metricsTextfile string
	debug           bool
}

func main() {
	if err := newRootCmd(logging.NewDefaultLogger()).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logger logging.Logger) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "ipban",
		Short: "Keep blackhole routes in sync with a list of prefixes and AS numbers",
		Long: `ipban reads literal prefixes and AS numbers from its configuration, expands
every AS number into the prefixes it announces using bgpq4, and installs a
blackhole route for each resulting prefix. Every route is deleted and then
re-added, so repeated runs converge on the configured set.

The run exits non-zero only when the configuration cannot be read.
Individual lookup or route failures are logged and counted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Do not output help message if we get this far.
			cmd.SilenceUsage = true
			// run logs its own error.
			cmd.SilenceErrors = true
			return run(cmd.Context(), &opts, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.config, "config", config.DefaultPath, "path to the routes configuration")

	def := config.DefaultSections()
	f.StringVar(&opts.sections.IPv4, "section.ipv4", def.IPv4, "section holding IPv4 routes")
	f.StringVar(&opts.sections.IPv6, "section.ipv6", def.IPv6, "section holding IPv6 routes")
	f.StringVar(&opts.sections.ASN, "section.asn", def.ASN, "section holding AS numbers to block")

	f.StringVar(&opts.lookupTool, "lookup.tool", lookup.DefaultTool, "prefix lookup tool (bgpq4 or bgpq3)")

	f.StringVar(&opts.backend, "route.backend", backendIP, "routing table backend: ip, netlink or dry-run")
	f.StringVar(&opts.ipBinary, "route.ip", netctl.DefaultIPBinary, "path to ip(8) for the ip backend")
	f.BoolVar(&opts.showRoutes, "route.show", false, "log installed blackhole routes before and after reconciliation")

	f.StringVar(&opts.metricsTextfile, "metrics.textfile", "", "write run metrics to this node_exporter textfile")
	f.BoolVar(&opts.debug, "logging.debug", false, "enable debug logging")
	return cmd
}

func run(ctx context.Context, opts *options, logger logging.Logger) error {
	if opts.debug {
		logging.SetLevel(slog.LevelDebug)
	}
	runner := command.ExecRunner{}

	job := &ipban.Job{
		ConfigPath: opts.config,
		Sections:   opts.sections,
		Expander:   lookup.NewExpander(runner, opts.lookupTool, logger),
		Logger:     logger,
	}

	ipRoute := netctl.NewIPRoute(runner, opts.ipBinary, logger)
	switch opts.backend {
	case backendIP:
		job.Mutator = ipRoute
		if opts.showRoutes {
			job.Lister = ipRoute
		}
	case backendNetlink:
		nl, err := netctl.NewNetlink()
		if err != nil {
			logger.Errorf("%v", err)
			return err
		}
		defer nl.Close()
		job.Mutator = nl
		if opts.showRoutes {
			job.Lister = nl
		}
	case backendDryRun:
		job.Mutator = &netctl.DryRun{Binary: opts.ipBinary, Logger: logger}
		if opts.showRoutes {
			job.Lister = ipRoute
		}
	default:
		err := errors.Errorf("unknown route backend %q", opts.backend)
		logger.Errorf("%v", err)
		return err
	}

	rep, err := job.Run(ctx)
	if err != nil {
		logger.Errorf("%v. Exiting.", err)
		return err
	}

	if opts.metricsTextfile != "" {
		rec := metrics.NewRecorder()
		rec.Observe(rep.Metrics())
		if err := rec.WriteTextfile(opts.metricsTextfile); err != nil {
			logger.Warnf("%v", err)
		}
	}

	if rep.Failed() {
		logger.Warnf("done, with non-fatal failures")
	} else {
		logger.Infof("done")
	}
	return nil
}
