package tunnel

import (
	"context"
	"fmt"
	"sync"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/addrpool"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/listener"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/tundev"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/tunregistry"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/workers"
)

// paramsResendCount is how many times the ClientParams frame is sent
// right after the handshake to tolerate loss.
const paramsResendCount = 3

// Deps groups everything a worker borrows from the supervisor.
type Deps struct {
	// Listener accepts the peer.
	Listener *listener.Listener

	// Logger is the logger to use.
	Logger model.Logger

	// Manager signals shutdown to the forwarding loop.
	Manager *workers.Manager

	// Params is the session template; the worker fills PeerIP.
	Params model.ClientParams

	// Pool allocates the two tunnel addresses.
	Pool *addrpool.Pool

	// Port is the UDP service port.
	Port int

	// Registry allocates the tunnel id and provisions the interface.
	Registry *tunregistry.Registry

	// SetupMu serializes the compound allocate-and-provision step
	// across workers, so id and address selection stay consistent
	// with the live set.
	SetupMu *sync.Mutex

	// SpawnNext starts the successor worker once the handshake has
	// completed. This is the only concurrency-creation point.
	SpawnNext func()

	// OpenDevice opens the TUN descriptor; tests substitute a fake.
	// When nil, the real device is opened.
	OpenDevice func(name string) (device, error)
}

// Run provisions one tunnel, serves one peer session, and releases
// every resource on the way out. It returns an error only when the
// worker never reached the forwarding loop, which also means no
// successor was spawned; peer-level failures inside the loop are
// logged and absorbed.
func Run(ctx context.Context, deps Deps) error {
	tun, payload, err := setup(deps)
	if err != nil {
		return err
	}
	defer tun.Teardown()

	assoc, err := deps.Listener.AcceptOne(ctx, deps.Port)
	if err != nil {
		return err
	}
	tun.assoc = assoc
	deps.Logger.Infof("tunnel: new peer on %s", tunregistry.InterfaceName(tun.ID))

	// the client is in: hand the listening role to the next worker
	deps.SpawnNext()

	for i := 0; i < paramsResendCount; i++ {
		if _, err := assoc.Write(payload); err != nil {
			deps.Logger.Warnf("tunnel: sending parameters: %s", err.Error())
			return nil
		}
	}

	eng := newEngine(tun.dev, &assocConn{conn: assoc}, deps.Manager.ShouldShutdown(), deps.Logger)
	reason := eng.run()
	deps.Logger.Infof("tunnel: %s closing: %s", tunregistry.InterfaceName(tun.ID), reason)
	return nil
}

// setup performs the compound allocation step under the supervisor
// mutex: two addresses, one id, one kernel interface, one TUN
// descriptor, plus the encoded session parameters. Partial allocations
// are rolled back before returning an error.
func setup(deps Deps) (*Tunnel, []byte, error) {
	deps.SetupMu.Lock()
	defer deps.SetupMu.Unlock()

	serverIP, err := deps.Pool.Acquire()
	if err != nil {
		return nil, nil, fmt.Errorf("tunnel: server address: %w", err)
	}
	peerIP, err := deps.Pool.Acquire()
	if err != nil {
		deps.Pool.Release(serverIP)
		return nil, nil, fmt.Errorf("tunnel: peer address: %w", err)
	}

	id := deps.Registry.NextID()
	if err := deps.Registry.Create(peerIP, serverIP, id); err != nil {
		deps.Pool.Release(serverIP)
		deps.Pool.Release(peerIP)
		return nil, nil, err
	}

	open := deps.OpenDevice
	if open == nil {
		open = func(name string) (device, error) {
			return tundev.Open(name)
		}
	}
	dev, err := open(tunregistry.InterfaceName(id))
	if err != nil {
		deps.Registry.Close(id)
		deps.Pool.Release(serverIP)
		deps.Pool.Release(peerIP)
		return nil, nil, err
	}

	params := deps.Params
	params.PeerIP = peerIP
	tun := &Tunnel{
		ID:       id,
		ServerIP: serverIP,
		PeerIP:   peerIP,
		dev:      dev,
		logger:   deps.Logger,
		pool:     deps.Pool,
		registry: deps.Registry,
	}
	return tun, params.Encode(), nil
}
