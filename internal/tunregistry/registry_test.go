package tunregistry

import (
	"errors"
	"math/rand"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/vpntest"
)

var (
	peerIP   = net.ParseIP("10.0.0.2")
	serverIP = net.ParseIP("10.0.0.1")
)

func TestInterfaceName(t *testing.T) {
	if InterfaceName(0) != "vpn_tun0" {
		t.Fatalf("InterfaceName(0) = %s", InterfaceName(0))
	}
	if InterfaceName(12) != "vpn_tun12" {
		t.Fatalf("InterfaceName(12) = %s", InterfaceName(12))
	}
}

func TestNextIDIsSmallestFree(t *testing.T) {
	registry := New(vpntest.NewFakeRunner(), vpntest.NewLogger())
	for want := 0; want < 3; want++ {
		id := registry.NextID()
		if id != want {
			t.Fatalf("NextID() = %d, want %d", id, want)
		}
		if err := registry.Create(peerIP, serverIP, id); err != nil {
			t.Fatal(err)
		}
	}
	registry.Close(1)
	if id := registry.NextID(); id != 1 {
		t.Fatalf("NextID() after Close(1) = %d, want 1", id)
	}
}

func TestCreateCommandSequence(t *testing.T) {
	runner := vpntest.NewFakeRunner()
	registry := New(runner, vpntest.NewLogger())
	if err := registry.Create(peerIP, serverIP, 0); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"ip tuntap del dev vpn_tun0 mode tun",
		"ip tuntap add dev vpn_tun0 mode tun",
		"ifconfig vpn_tun0 10.0.0.1 dstaddr 10.0.0.2 up",
	}
	if diff := cmp.Diff(want, runner.Commands()); diff != "" {
		t.Fatal(diff)
	}
}

func TestCreateFailureRollsBack(t *testing.T) {
	runner := vpntest.NewFakeRunner()
	runner.Fail = map[string]error{
		"ifconfig": errors.New("no such device"),
	}
	registry := New(runner, vpntest.NewLogger())
	if err := registry.Create(peerIP, serverIP, 0); err == nil {
		t.Fatal("expected an error")
	}
	if registry.Live() != 0 {
		t.Fatal("failed create must not mark the id live")
	}
	commands := runner.Commands()
	if commands[len(commands)-1] != "ip tuntap del dev vpn_tun0 mode tun" {
		t.Fatalf("expected trailing delete, got %q", commands[len(commands)-1])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	registry := New(vpntest.NewFakeRunner(), vpntest.NewLogger())
	if err := registry.Create(peerIP, serverIP, 0); err != nil {
		t.Fatal(err)
	}
	registry.Close(0)
	registry.Close(0)
	if registry.Live() != 0 {
		t.Fatalf("Live() = %d, want 0", registry.Live())
	}
}

// TestIDUniqueness interleaves NextID/Create/Close randomly and checks
// no two concurrently live ids are ever equal. Liveness is modeled by
// the registry map itself, so the check is that NextID never returns a
// live id.
func TestIDUniqueness(t *testing.T) {
	registry := New(vpntest.NewFakeRunner(), vpntest.NewLogger())
	rng := rand.New(rand.NewSource(7))
	live := make(map[int]bool)
	for round := 0; round < 2048; round++ {
		if rng.Intn(2) == 0 {
			id := registry.NextID()
			if live[id] {
				t.Fatalf("NextID() returned live id %d", id)
			}
			if err := registry.Create(peerIP, serverIP, id); err != nil {
				t.Fatal(err)
			}
			live[id] = true
			continue
		}
		for id := range live {
			registry.Close(id)
			delete(live, id)
			break
		}
		if registry.Live() != len(live) {
			t.Fatalf("registry holds %d, harness holds %d", registry.Live(), len(live))
		}
	}
}

func TestCleanupStale(t *testing.T) {
	runner := vpntest.NewFakeRunner()
	registry := New(runner, vpntest.NewLogger())
	registry.interfaces = func() ([]net.Interface, error) {
		return []net.Interface{
			{Name: "eth0"},
			{Name: "vpn_tun0"},
			{Name: "vpn_tun7"},
			{Name: "lo"},
		}, nil
	}
	registry.CleanupStale()
	want := []string{
		"ip tuntap del dev vpn_tun0 mode tun",
		"ip tuntap del dev vpn_tun7 mode tun",
	}
	if diff := cmp.Diff(want, runner.Commands()); diff != "" {
		t.Fatal(diff)
	}
	if registry.Live() != 0 {
		t.Fatal("cleanup must clear the live set")
	}
}

func TestCleanupStaleEnumerationFailure(t *testing.T) {
	runner := vpntest.NewFakeRunner()
	logger := vpntest.NewLogger()
	registry := New(runner, logger)
	registry.interfaces = func() ([]net.Interface, error) {
		return nil, errors.New("netlink down")
	}
	registry.CleanupStale()
	if len(runner.Commands()) != 0 {
		t.Fatal("no commands expected when enumeration fails")
	}
	if len(logger.Lines()) == 0 {
		t.Fatal("expected the failure to be logged")
	}
}
