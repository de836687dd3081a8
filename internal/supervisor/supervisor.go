// Package supervisor owns the shared tunnel resources and the worker
// chain: each worker, once its peer completes the handshake, spawns
// its successor, so exactly one socket listens on the service port at
// any time.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/addrpool"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/listener"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/runtimex"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/tunnel"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/tunregistry"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/workers"
)

// respawnWait is how long to wait before retrying when a worker died
// without leaving a successor, e.g. on address exhaustion.
const respawnWait = time.Second

// Supervisor holds the address pool, the interface registry and the
// DTLS listener, and coordinates global shutdown. The zero value is
// invalid; use [New].
type Supervisor struct {
	cancel       context.CancelFunc
	ctx          context.Context
	fatal        chan error
	listener     *listener.Listener
	logger       model.Logger
	manager      *workers.Manager
	params       model.ClientParams
	pool         *addrpool.Pool
	port         int
	registry     *tunregistry.Registry
	setupMu      sync.Mutex
	shutdownOnce sync.Once
	workerSeq    atomic.Int64
}

// New creates a [Supervisor] over already-constructed collaborators.
func New(options *model.Options, pool *addrpool.Pool, registry *tunregistry.Registry,
	lst *listener.Listener, logger model.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	routeMask, err := strconv.Atoi(options.RouteMask)
	runtimex.PanicOnError(err, "supervisor: route mask was validated at startup")
	return &Supervisor{
		cancel:   cancel,
		ctx:      ctx,
		fatal:    make(chan error, 1),
		listener: lst,
		logger:   logger,
		manager:  workers.NewManager(logger),
		params: model.ClientParams{
			MTU:       options.MTU,
			DNS:       net.ParseIP(options.DNS),
			RouteIP:   net.ParseIP(options.RouteIP),
			RouteMask: routeMask,
		},
		pool:     pool,
		port:     options.Port,
		registry: registry,
	}
}

// Start removes interfaces leaked by a previous run and spawns the
// first tunnel worker.
func (s *Supervisor) Start() {
	s.registry.CleanupStale()
	s.spawn(true)
}

// Fatal returns the channel that receives the error which leaves the
// server unable to serve any client, such as the first worker failing
// to bind the service port.
func (s *Supervisor) Fatal() <-chan error {
	return s.fatal
}

// Shutdown cancels every worker, waits for them to tear down their
// tunnels, and removes every interface carrying the reserved prefix.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("supervisor: shutting down")
		s.cancel()
		s.manager.StartShutdown()
		s.manager.WaitWorkersShutdown()
		s.registry.CleanupStale()
	})
}

// spawn starts one tunnel worker. Workers spawned with first=true
// escalate accept failures through the fatal channel instead of
// retrying.
func (s *Supervisor) spawn(first bool) {
	name := fmt.Sprintf("tunnel-worker-%d", s.workerSeq.Add(1))
	deps := tunnel.Deps{
		Listener:  s.listener,
		Logger:    s.logger,
		Manager:   s.manager,
		Params:    s.params,
		Pool:      s.pool,
		Port:      s.port,
		Registry:  s.registry,
		SetupMu:   &s.setupMu,
		SpawnNext: func() { s.spawn(false) },
	}
	s.manager.StartWorker(name, func() {
		err := tunnel.Run(s.ctx, deps)
		switch {
		case err == nil:
			// session served; the successor is already listening
		case errors.Is(err, context.Canceled) || s.ctx.Err() != nil:
			// shutdown
		case first && errors.Is(err, listener.ErrAcceptFailed):
			s.fatal <- err
		default:
			// the worker died before spawning a successor: without a
			// replacement nobody would listen on the service port
			s.logger.Warnf("supervisor: %s: %s", name, err.Error())
			s.respawnLater()
		}
	})
}

// respawnLater schedules a replacement worker after a short pause, so
// transient conditions such as a briefly exhausted pool do not spin.
func (s *Supervisor) respawnLater() {
	s.manager.StartWorker("respawn-timer", func() {
		select {
		case <-s.ctx.Done():
		case <-s.manager.ShouldShutdown():
		case <-time.After(respawnWait):
			s.spawn(false)
		}
	})
}
