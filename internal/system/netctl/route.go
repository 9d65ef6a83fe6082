package netctl

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/DrC0ns0le/ipban/internal/routes"
)

var (
	// ErrRouteNotFound is returned by a delete when the route was not there.
	ErrRouteNotFound = errors.New("route does not exist")

	ErrInvalidPrefix = errors.New("invalid prefix")
)

// netlinkHandle is the subset of *netlink.Handle used here.
type netlinkHandle interface {
	RouteAdd(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
	RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error)
	Close()
}

var _ netlinkHandle = (*netlink.Handle)(nil)

// Netlink manages blackhole routes in the main table over rtnetlink.
type Netlink struct {
	handle netlinkHandle
}

// NewNetlink opens a netlink handle in the current network namespace.
func NewNetlink() (*Netlink, error) {
	h, err := netlink.NewHandle(unix.NETLINK_ROUTE)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open netlink handle")
	}
	return &Netlink{handle: h}, nil
}

func (n *Netlink) Close() {
	n.handle.Close()
}

// AddBlackhole adds a blackhole route for prefix.
func (n *Netlink) AddBlackhole(_ context.Context, f routes.Family, prefix string) error {
	route, err := blackholeRoute(f, prefix)
	if err != nil {
		return err
	}
	if err := n.handle.RouteAdd(route); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return errors.Errorf("failed to add blackhole %s: route already exists", prefix)
		}
		return errors.Wrapf(err, "failed to add blackhole %s", prefix)
	}
	return nil
}

// DelBlackhole removes the blackhole route for prefix. A missing route is
// reported as ErrRouteNotFound.
func (n *Netlink) DelBlackhole(_ context.Context, f routes.Family, prefix string) error {
	route, err := blackholeRoute(f, prefix)
	if err != nil {
		return err
	}

	// delete directly without checking existence
	if err := n.handle.RouteDel(route); err != nil {
		if errors.Is(err, unix.ESRCH) || errors.Is(err, unix.ENOENT) {
			return errors.Wrapf(ErrRouteNotFound, "blackhole %s", prefix)
		}
		return errors.Wrapf(err, "failed to remove blackhole %s", prefix)
	}
	return nil
}

// ListBlackholes returns the destinations of all blackhole routes of family f
// in the main table.
func (n *Netlink) ListBlackholes(_ context.Context, f routes.Family) ([]string, error) {
	filter := &netlink.Route{
		Type: unix.RTN_BLACKHOLE,
	}
	list, err := n.handle.RouteListFiltered(nlFamily(f), filter, netlink.RT_FILTER_TYPE)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list routes")
	}

	dsts := make([]string, 0, len(list))
	for _, r := range list {
		if r.Dst == nil {
			dsts = append(dsts, "default")
			continue
		}
		dsts = append(dsts, r.Dst.String())
	}
	return dsts, nil
}

func blackholeRoute(f routes.Family, prefix string) (*netlink.Route, error) {
	dst, err := parsePrefix(f, prefix)
	if err != nil {
		return nil, err
	}
	return &netlink.Route{
		Dst:    dst,
		Type:   unix.RTN_BLACKHOLE,
		Family: nlFamily(f),
		Table:  unix.RT_TABLE_MAIN,
	}, nil
}

// parsePrefix parses prefix strictly: the family must match f and host bits
// must be clear, the same checks ip(8) applies.
func parsePrefix(f routes.Family, prefix string) (*net.IPNet, error) {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPrefix, "%q: %v", prefix, err)
	}
	if p.Addr().Is4() != (f == routes.V4) {
		return nil, errors.Wrapf(ErrInvalidPrefix, "%q is not an %s prefix", prefix, f)
	}
	if p.Masked() != p {
		return nil, errors.Wrapf(ErrInvalidPrefix, "%q has host bits set", prefix)
	}
	return &net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}, nil
}

func nlFamily(f routes.Family) int {
	switch f {
	case routes.V4:
		return netlink.FAMILY_V4
	case routes.V6:
		return netlink.FAMILY_V6
	}
	panic(fmt.Sprintf("netctl: unknown address family %d", int(f)))
}
