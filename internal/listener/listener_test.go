package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/dtls/v2/pkg/crypto/selfsign"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/vpntest"
)

func newTestListener(t *testing.T) *Listener {
	t.Helper()
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		t.Fatal(err)
	}
	return New(cert, nil, vpntest.NewLogger())
}

func localSocket(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	lst := newTestListener(t)
	sock, err := lst.bind(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sock.Close() })
	return sock, sock.LocalAddr().(*net.UDPAddr).Port
}

func dialSocket(t *testing.T, port int) *net.UDPConn {
	t.Helper()
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{
		IP:   net.IPv6loopback,
		Port: port,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// The probe loop must skip every datagram that is not exactly the
// two-byte connect probe and then report the prober's address.
func TestAwaitProbe(t *testing.T) {
	lst := newTestListener(t)
	sock, port := localSocket(t)
	client := dialSocket(t, port)

	go func() {
		client.Write([]byte("hello"))           // junk
		client.Write([]byte{0x00})              // too short
		client.Write([]byte{0x00, 0x02})        // wrong opcode
		client.Write([]byte{0x00, 0x01, 0x00})  // too long
		time.Sleep(10 * time.Millisecond)
		client.Write([]byte{0x00, 0x01}) // the probe
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	peer, err := lst.awaitProbe(ctx, sock)
	if err != nil {
		t.Fatal(err)
	}
	clientPort := client.LocalAddr().(*net.UDPAddr).Port
	if peer.Port != clientPort {
		t.Fatalf("peer port = %d, want %d", peer.Port, clientPort)
	}
}

func TestAwaitProbeObservesCancellation(t *testing.T) {
	lst := newTestListener(t)
	sock, _ := localSocket(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := lst.awaitProbe(ctx, sock); err == nil {
		t.Fatal("expected cancellation error")
	}
}

// After connectSocket the socket only talks to the selected peer:
// datagrams from other sources are filtered out by the kernel.
func TestConnectSocketSelectsPeer(t *testing.T) {
	lst := newTestListener(t)
	sock, port := localSocket(t)
	chosen := dialSocket(t, port)
	other := dialSocket(t, port)

	go chosen.Write([]byte{0x00, 0x01})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	peer, err := lst.awaitProbe(ctx, sock)
	if err != nil {
		t.Fatal(err)
	}
	if err := connectSocket(sock, peer); err != nil {
		t.Fatal(err)
	}

	other.Write([]byte{0x45, 0x01})
	chosen.Write([]byte{0x45, 0x02})
	buffer := make([]byte, 64)
	sock.SetReadDeadline(time.Now().Add(5 * time.Second))
	count, err := sock.Read(buffer)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 || buffer[0] != 0x45 || buffer[1] != 0x02 {
		t.Fatalf("received %x, want the chosen peer's datagram", buffer[:count])
	}
}

// Binding twice on the same port must not fail outright: the second
// bind retries until the first socket goes away.
func TestBindRetriesWhileAddressInUse(t *testing.T) {
	lst := newTestListener(t)
	first, err := lst.bind(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	port := first.LocalAddr().(*net.UDPAddr).Port

	done := make(chan *net.UDPConn, 1)
	go func() {
		second, err := lst.bind(context.Background(), port)
		if err != nil {
			done <- nil
			return
		}
		done <- second
	}()
	time.Sleep(50 * time.Millisecond)
	first.Close()
	select {
	case second := <-done:
		if second == nil {
			t.Fatal("second bind failed")
		}
		second.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("second bind never completed")
	}
}
