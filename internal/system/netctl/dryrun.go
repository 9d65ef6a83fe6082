package netctl

import (
	"context"

	"github.com/DrC0ns0le/ipban/internal/command"
	"github.com/DrC0ns0le/ipban/internal/routes"
	"github.com/DrC0ns0le/ipban/pkg/logging"
)

// DryRun logs the ip(8) command each mutation would run and reports success.
type DryRun struct {
	Binary string
	Logger logging.Logger
}

func (d *DryRun) AddBlackhole(_ context.Context, f routes.Family, prefix string) error {
	d.Logger.Infof("dry-run: %s", command.Line(d.binary(), f.Flag(), "route", "add", "blackhole", prefix))
	return nil
}

func (d *DryRun) DelBlackhole(_ context.Context, f routes.Family, prefix string) error {
	d.Logger.Infof("dry-run: %s", command.Line(d.binary(), f.Flag(), "route", "del", "blackhole", prefix))
	return nil
}

func (d *DryRun) binary() string {
	if d.Binary == "" {
		return DefaultIPBinary
	}
	return d.Binary
}
