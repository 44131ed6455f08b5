package precondition

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/modelfetch/modelfetch/internal/engerr"
)

func TestCheckMeteredConsent(t *testing.T) {
	c := NewChecker()

	if err := c.CheckMeteredConsent(false); err != nil {
		t.Errorf("unmetered connection should never require consent, got %v", err)
	}

	err := c.CheckMeteredConsent(true)
	if _, ok := err.(*engerr.CellularConsentRequiredError); !ok {
		t.Fatalf("expected CellularConsentRequiredError, got %T", err)
	}

	c.GrantCellular()
	if err := c.CheckMeteredConsent(true); err != nil {
		t.Errorf("expected consent to be honored after GrantCellular, got %v", err)
	}
}

func TestCheckConnectivityReachableOrigin(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	c := NewChecker()
	if err := c.CheckConnectivity(context.Background(), ln.Addr().String()); err != nil {
		t.Errorf("expected a listening origin to be reachable, got %v", err)
	}
}

func TestCheckConnectivityUnreachableOrigin(t *testing.T) {
	// Grab a free port and close it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewChecker()
	err = c.CheckConnectivity(context.Background(), addr)
	if _, ok := err.(*engerr.NetworkUnavailableError); !ok {
		t.Fatalf("expected NetworkUnavailableError, got %T (%v)", err, err)
	}
}

func TestCheckConnectivitySkipsEmptyAddr(t *testing.T) {
	c := NewChecker()
	if err := c.CheckConnectivity(context.Background(), ""); err != nil {
		t.Errorf("empty addr must pass (the prober reports invalid URLs), got %v", err)
	}
}

func TestCheckDiskSpaceOnTempDir(t *testing.T) {
	c := NewChecker()
	dir := t.TempDir()

	// A tiny requirement should always be satisfiable on a working temp dir.
	if err := c.CheckDiskSpace(dir, 1); err != nil {
		t.Errorf("expected a 1-byte requirement to pass, got %v", err)
	}
}

func TestCheckDiskSpaceRejectsUnreasonableRequirement(t *testing.T) {
	c := NewChecker()
	dir := t.TempDir()

	const absurd = int64(1) << 62 // larger than any real filesystem
	err := c.CheckDiskSpace(dir, absurd)
	if err == nil {
		// availableBytes is unsupported on this platform/build; treat as
		// untestable rather than failing.
		t.Skip("disk space check unsupported on this platform")
	}
	if _, ok := err.(*engerr.InsufficientStorageError); !ok {
		t.Fatalf("expected InsufficientStorageError, got %T", err)
	}
}

func TestDescribeRequirementIncludesBothSides(t *testing.T) {
	s := DescribeRequirement(&engerr.InsufficientStorageError{
		Required:  12 * 1024 * 1024 * 1024,
		Available: 8 * 1024 * 1024 * 1024,
	})
	if !strings.Contains(s, "12GiB") || !strings.Contains(s, "8GiB") {
		t.Errorf("expected both sizes in the description, got %q", s)
	}
}
