// Package precondition runs the checks the orchestrator performs before
// it starts moving any bytes: network reachability, cellular/metered
// consent, and free disk space.
package precondition

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"

	"github.com/modelfetch/modelfetch/internal/engerr"
)

// diskSpaceMargin is the safety margin required above the raw byte
// total before a download is allowed to start, so a session that lands
// exactly at capacity doesn't fail partway through from ordinary
// filesystem overhead (journals, block rounding, concurrent writers).
const diskSpaceMargin = 1.2

// Checker runs preflight checks. It is safe for concurrent use.
type Checker struct {
	// cellularGranted records whether the caller has explicitly
	// consented to downloading over a metered connection.
	cellularGranted atomic.Bool
	// dialTimeout bounds the reachability dial.
	dialTimeout time.Duration
}

// NewChecker constructs a Checker with default timeouts.
func NewChecker() *Checker {
	return &Checker{dialTimeout: 5 * time.Second}
}

// GrantCellular records that the caller has consented to downloading
// over a metered connection, lifting CheckMeteredConsent's requirement.
func (c *Checker) GrantCellular() {
	c.cellularGranted.Store(true)
}

// CheckConnectivity verifies the origin is reachable at the TCP level
// before any bytes move. Dialing the origin itself, rather than a
// well-known third-party host, means an airplane-mode device and an
// origin outage both fail the same fast way, and nothing outside the
// session's own traffic is contacted. An empty addr (unparseable URL)
// passes here; the Size Prober reports the invalid URL with more detail.
func (c *Checker) CheckConnectivity(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &engerr.NetworkUnavailableError{}
	}
	_ = conn.Close()
	return nil
}

// CheckMeteredConsent reports whether the active network interface is
// metered and, if so, whether the caller has granted consent via
// GrantCellular. isMetered is supplied by the caller because Go has no
// portable, privilege-free way to query interface metering; platform
// front ends are expected to source it from their OS APIs and pass the
// result in.
func (c *Checker) CheckMeteredConsent(isMetered bool) error {
	if isMetered && !c.cellularGranted.Load() {
		return &engerr.CellularConsentRequiredError{}
	}
	return nil
}

// CheckDiskSpace verifies the filesystem containing dir has at least
// requiredBytes * diskSpaceMargin bytes available.
func (c *Checker) CheckDiskSpace(dir string, requiredBytes int64) error {
	available, err := availableBytes(dir)
	if err != nil {
		// Free space could not be determined on this platform; proceed
		// rather than block a download the engine otherwise supports.
		return nil
	}
	needed := int64(float64(requiredBytes) * diskSpaceMargin)
	if int64(available) < needed {
		return &engerr.InsufficientStorageError{Required: needed, Available: int64(available)}
	}
	return nil
}

// DescribeRequirement renders a failed disk space check in human terms,
// e.g. "12GiB required (including safety margin), 8GiB available", for
// CLI error output. The error's Required already includes the margin.
func DescribeRequirement(err *engerr.InsufficientStorageError) string {
	return fmt.Sprintf("%s required (including safety margin), %s available",
		units.BytesSize(float64(err.Required)), units.BytesSize(float64(err.Available)))
}
