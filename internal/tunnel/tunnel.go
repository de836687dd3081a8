// Package tunnel runs the per-peer data plane: it provisions the
// tunnel resources, bridges cleartext IP traffic between the DTLS
// association and the TUN device, and returns every resource to its
// pool when the session ends.
package tunnel

import (
	"net"
	"sync"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/tunregistry"
)

// addressPool is the slice of the pool API the tunnel needs back.
type addressPool interface {
	Release(ip net.IP)
}

// ifaceRegistry is the slice of the registry API the tunnel needs back.
type ifaceRegistry interface {
	Close(id int)
}

// device is an open TUN descriptor.
type device interface {
	ReadPacket(buf []byte) (int, error)
	WritePacket(pkt []byte) error
	Close() error
}

// Tunnel aggregates everything one peer session owns: the tunnel id,
// the two pool addresses, the TUN descriptor and the DTLS association.
// Exactly one worker holds a Tunnel; [Tunnel.Teardown] runs on every
// exit path and has once semantics.
type Tunnel struct {
	// ID is the tunnel id, returned to the registry on teardown.
	ID int

	// ServerIP and PeerIP are the two pool addresses, returned to the
	// pool on teardown.
	ServerIP net.IP
	PeerIP   net.IP

	assoc        net.Conn
	dev          device
	logger       model.Logger
	pool         addressPool
	registry     ifaceRegistry
	teardownOnce sync.Once
}

// Teardown shuts the association, closes the TUN descriptor, destroys
// the interface and returns both addresses to the pool.
func (t *Tunnel) Teardown() {
	t.teardownOnce.Do(func() {
		if t.assoc != nil {
			t.assoc.Close()
		}
		if t.dev != nil {
			t.dev.Close()
		}
		t.registry.Close(t.ID)
		t.pool.Release(t.ServerIP)
		t.pool.Release(t.PeerIP)
		t.logger.Infof("tunnel: %s released", tunregistry.InterfaceName(t.ID))
	})
}
