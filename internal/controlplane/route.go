package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/drexelwireless/dragonradio-sub000/internal/neighborhood"
)

// RouteInstaller installs and removes the kernel route toward a peer on
// the external traffic subnet when it is added to or removed from the
// neighborhood, grounded on the original controller's `ip route add`/
// `ip route del` calls.
type RouteInstaller interface {
	InstallRoute(ctx context.Context, peer neighborhood.NodeId) error
	RemoveRoute(ctx context.Context, peer neighborhood.NodeId) error
}

// ipRouteInstaller shells out to ip-route(8), matching the subprocess
// calls the original controller makes. The peer subnet and gateway
// follow the same 192.168.(100+id).0/24 via 10.10.10.id convention.
type ipRouteInstaller struct {
	logger *slog.Logger
}

// NewIPRouteInstaller returns the default RouteInstaller.
func NewIPRouteInstaller(logger *slog.Logger) RouteInstaller {
	if logger == nil {
		logger = slog.Default()
	}
	return &ipRouteInstaller{logger: logger}
}

func (r *ipRouteInstaller) InstallRoute(ctx context.Context, peer neighborhood.NodeId) error {
	subnet := fmt.Sprintf("192.168.%d.0/24", int(peer)+100)
	gateway := fmt.Sprintf("10.10.10.%d", peer)
	cmd := exec.CommandContext(ctx, "ip", "route", "add", subnet, "via", gateway)
	if out, err := cmd.CombinedOutput(); err != nil {
		r.logger.Warn("controlplane: could not add route to peer",
			slog.Int("peer", int(peer)), slog.String("error", err.Error()), slog.String("output", string(out)))
		return fmt.Errorf("controlplane: ip route add %s via %s: %w", subnet, gateway, err)
	}
	return nil
}

func (r *ipRouteInstaller) RemoveRoute(ctx context.Context, peer neighborhood.NodeId) error {
	subnet := fmt.Sprintf("192.168.%d.0/24", int(peer)+100)
	cmd := exec.CommandContext(ctx, "ip", "route", "del", subnet)
	if out, err := cmd.CombinedOutput(); err != nil {
		r.logger.Warn("controlplane: could not remove route to peer",
			slog.Int("peer", int(peer)), slog.String("error", err.Error()), slog.String("output", string(out)))
		return fmt.Errorf("controlplane: ip route del %s: %w", subnet, err)
	}
	return nil
}

// noopRouteInstaller is used in environments without route privileges
// (tests, or a DSP-less dry run).
type noopRouteInstaller struct{}

// NewNoopRouteInstaller returns a RouteInstaller that does nothing,
// for use where kernel routing is out of scope (tests, simulation).
func NewNoopRouteInstaller() RouteInstaller { return noopRouteInstaller{} }

func (noopRouteInstaller) InstallRoute(context.Context, neighborhood.NodeId) error { return nil }
func (noopRouteInstaller) RemoveRoute(context.Context, neighborhood.NodeId) error  { return nil }
