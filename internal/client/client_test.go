package client

import (
	"context"
	"testing"
	"time"

	"rsba1/internal/logging"
	"rsba1/internal/session"
	"rsba1/internal/testradio"
)

// These tests use only the public API, so a package-external test
// (package client_test) would also work; they are kept in-package
// (package client) for symmetry with the rest of the tree's *_test.go
// placement.

func newConnectedClient(t *testing.T, badCreds bool) (*Client, *testradio.Simulator) {
	t.Helper()
	sim := testradio.New()
	sim.BadCredentials = badCreds
	if _, _, _, err := sim.Start(); err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(sim.Stop)

	log, _ := logging.New("test", logging.Debug, "")
	c := New(Options{Address: sim.Host, Username: "admin", Password: "adminadmin"}, log)

	return c, sim
}

func TestConnectReachesEstablished(t *testing.T) {
	c, _ := newConnectedClient(t, false)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-c.Events():
			if e.Kind == session.EventStateChanged && e.State == session.StateEstablished {
				if e.DeviceName != "IC-9700" {
					t.Errorf("device name = %q, want IC-9700", e.DeviceName)
				}
				return
			}
		case <-deadline:
			t.Fatalf("never reached ESTABLISHED, last state = %v", c.State())
		}
	}
}

func TestConnectFailsOnBadCredentials(t *testing.T) {
	c, _ := newConnectedClient(t, true)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.Connect(ctx)
	if err == nil {
		t.Fatal("expected Connect to fail with bad credentials")
	}
}

func TestSendCIVBeforeProvisioningFails(t *testing.T) {
	c, _ := newConnectedClient(t, false)
	t.Cleanup(func() { c.Close() })

	if err := c.SendCIV([]byte{0xFE, 0xFE, 0xE0, 0x42, 0x19, 0xFD}); err == nil {
		t.Fatal("expected SendCIV to fail before provisioning")
	}
}

// TestCIVRoundTripsThroughSimulator drives the opaque CI-V payload
// end-to-end through the real serial transport (Client.SendCIV, the
// simulator's civ-envelope echo, Client.CIV) rather than only at the
// frame-codec level, waiting for provisioning before sending.
func TestCIVRoundTripsThroughSimulator(t *testing.T) {
	c, _ := newConnectedClient(t, false)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	want := []byte{0xFE, 0xFE, 0xE0, 0x42, 0x19, 0xFD}
	deadline := time.After(5 * time.Second)
	for {
		if err := c.SendCIV(want); err == nil {
			break
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("never became provisioned enough to send CI-V")
		}
	}

	select {
	case got := <-c.CIV():
		if string(got) != string(want) {
			t.Fatalf("echoed CI-V payload = %x, want %x", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("never received echoed CI-V payload")
	}
}
