// Package tunregistry tracks the live set of kernel TUN interfaces and
// provisions them through the host networking commands.
package tunregistry

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/shellx"
)

// NamePrefix is the reserved interface name prefix. Startup and
// shutdown cleanup remove every interface carrying it, which is how the
// server recovers from a crash without persisted state.
const NamePrefix = "vpn_tun"

// InterfaceName returns the kernel name for the given tunnel id.
func InterfaceName(id int) string {
	return fmt.Sprintf("%s%d", NamePrefix, id)
}

// Registry owns the set of live tunnel ids. The zero value is invalid;
// use [New]. This struct is concurrency safe.
type Registry struct {
	live   map[int]string
	logger model.Logger
	mu     sync.Mutex
	runner shellx.Runner

	// interfaces enumerates the kernel interfaces; overridable in tests.
	interfaces func() ([]net.Interface, error)
}

// New creates a [Registry] that provisions interfaces via runner.
func New(runner shellx.Runner, logger model.Logger) *Registry {
	return &Registry{
		live:       make(map[int]string),
		logger:     logger,
		runner:     runner,
		interfaces: net.Interfaces,
	}
}

// NextID returns the smallest non-negative id not currently live. The
// id is not reserved: callers serialize NextID and Create under the
// setup critical section.
func (r *Registry) NextID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := 0; ; id++ {
		if _, ok := r.live[id]; !ok {
			return id
		}
	}
}

// Create provisions the interface for the given id, assigns the
// server/peer addresses, brings it up, and marks the id live.
func (r *Registry) Create(peerIP, serverIP net.IP, id int) error {
	name := InterfaceName(id)

	// delete-before-add keeps the command idempotent under retry
	_ = r.runner.Run("ip", "tuntap", "del", "dev", name, "mode", "tun")
	if err := r.runner.Run("ip", "tuntap", "add", "dev", name, "mode", "tun"); err != nil {
		return fmt.Errorf("tunregistry: add %s: %w", name, err)
	}
	if err := r.runner.Run("ifconfig", name, serverIP.String(),
		"dstaddr", peerIP.String(), "up"); err != nil {
		_ = r.runner.Run("ip", "tuntap", "del", "dev", name, "mode", "tun")
		return fmt.Errorf("tunregistry: configure %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.live[id]; ok {
		// cannot happen when callers hold the setup critical section
		r.logger.Warnf("tunregistry: id %d already live as %s", id, other)
	}
	r.live[id] = name
	return nil
}

// Close destroys the interface for the given id and frees the id. It is
// idempotent: closing an id that is not live only runs the best-effort
// delete command.
func (r *Registry) Close(id int) {
	name := InterfaceName(id)
	if err := r.runner.Run("ip", "tuntap", "del", "dev", name, "mode", "tun"); err != nil {
		r.logger.Debugf("tunregistry: del %s: %s", name, err.Error())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}

// Live returns the number of currently live ids.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// CleanupStale removes every kernel interface whose name carries
// [NamePrefix], live or not. Called once at startup, to collect the
// leftovers of a previous run, and once at shutdown.
func (r *Registry) CleanupStale() {
	ifaces, err := r.interfaces()
	if err != nil {
		r.logger.Warnf("tunregistry: cannot enumerate interfaces: %s", err.Error())
		return
	}
	for _, iface := range ifaces {
		if !strings.HasPrefix(iface.Name, NamePrefix) {
			continue
		}
		r.logger.Infof("tunregistry: removing stale interface %s", iface.Name)
		if err := r.runner.Run("ip", "tuntap", "del", "dev", iface.Name, "mode", "tun"); err != nil {
			r.logger.Warnf("tunregistry: del %s: %s", iface.Name, err.Error())
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = make(map[int]string)
}
