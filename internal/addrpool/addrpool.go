// Package addrpool allocates and recycles IPv4 host addresses within a
// configured CIDR.
package addrpool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
)

// ErrExhausted is returned by [Pool.Acquire] when every host address in
// the CIDR is currently allocated.
var ErrExhausted = errors.New("addrpool: no free addresses")

// CIDR is an IPv4 network in address/prefix form.
type CIDR struct {
	network uint32
	prefix  int
}

// ParseCIDR parses a string in address/prefix form, e.g. "10.0.0.0/8".
func ParseCIDR(s string) (CIDR, error) {
	_, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return CIDR{}, err
	}
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return CIDR{}, fmt.Errorf("addrpool: not an IPv4 network: %s", s)
	}
	ones, _ := ipnet.Mask.Size()
	return CIDR{
		network: binary.BigEndian.Uint32(ip4),
		prefix:  ones,
	}, nil
}

// Network returns the network address.
func (c CIDR) Network() net.IP {
	return toIP(c.network)
}

// Broadcast returns the broadcast address.
func (c CIDR) Broadcast() net.IP {
	return toIP(c.network | hostMask(c.prefix))
}

// Contains returns true when ip falls inside the network.
func (c CIDR) Contains(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	v := binary.BigEndian.Uint32(ip4)
	return v&^hostMask(c.prefix) == c.network
}

// HostCount returns the number of assignable host addresses, that is
// every address in the network except the network and broadcast ones.
func (c CIDR) HostCount() int {
	total := int(hostMask(c.prefix)) + 1
	if total <= 2 {
		return 0
	}
	return total - 2
}

// String implements fmt.Stringer.
func (c CIDR) String() string {
	return fmt.Sprintf("%s/%d", c.Network(), c.prefix)
}

func hostMask(prefix int) uint32 {
	return ^uint32(0) >> prefix
}

func toIP(v uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

// Pool hands out the numerically smallest free host address first and
// recycles returned addresses. The zero value is invalid; use [New].
// This struct is concurrency safe.
type Pool struct {
	cidr      CIDR
	allocated map[uint32]bool
	logger    model.Logger
	mu        sync.Mutex
}

// New creates a [Pool] over the given CIDR. The capacity argument is a
// sizing hint for the allocation bookkeeping, not a limit.
func New(cidr CIDR, capacity int, logger model.Logger) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool{
		cidr:      cidr,
		allocated: make(map[uint32]bool, capacity),
		logger:    logger,
	}
}

// Acquire returns the smallest free host address in the CIDR, excluding
// the network and broadcast addresses, or [ErrExhausted]. It never
// blocks waiting for an address to be released.
func (p *Pool) Acquire() (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	first := p.cidr.network + 1
	last := p.cidr.network + hostMask(p.cidr.prefix) - 1
	if first > last {
		return nil, ErrExhausted
	}
	for v := first; v <= last; v++ {
		if !p.allocated[v] {
			p.allocated[v] = true
			return toIP(v), nil
		}
	}
	return nil, ErrExhausted
}

// Release returns ip to the free set. Releasing an address that is not
// currently allocated is a no-op, logged as a defect in the caller.
func (p *Pool) Release(ip net.IP) {
	ip4 := ip.To4()
	if ip4 == nil {
		p.logger.Warnf("addrpool: release of non-IPv4 address %s", ip)
		return
	}
	v := binary.BigEndian.Uint32(ip4)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.allocated[v] {
		p.logger.Warnf("addrpool: release of unallocated address %s", ip)
		return
	}
	delete(p.allocated, v)
}

// Allocated returns the number of currently allocated addresses.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}
