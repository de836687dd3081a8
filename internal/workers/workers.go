// Package workers contains code to manage the tunnel workers' lifecycle.
package workers

import (
	"sync"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
)

// Manager coordinates the lifecycles of the tunnel workers. The zero
// value is invalid; use [NewManager].
type Manager struct {
	// logger logs worker starts and exits.
	logger model.Logger

	// shouldShutdown is closed to signal all workers to shut down.
	shouldShutdown chan any

	// shutdownOnce ensures we close shouldShutdown once.
	shutdownOnce sync.Once

	// wg tracks the running workers.
	wg sync.WaitGroup
}

// NewManager creates a new manager.
func NewManager(logger model.Logger) *Manager {
	return &Manager{
		logger:         logger,
		shouldShutdown: make(chan any),
	}
}

// StartWorker runs fx in a background goroutine tracked by the manager.
func (m *Manager) StartWorker(name string, fx func()) {
	m.wg.Add(1)
	go func() {
		defer func() {
			m.logger.Debugf("workers: %s: done", name)
			m.wg.Done()
		}()
		m.logger.Debugf("workers: %s: started", name)
		fx()
	}()
}

// StartShutdown initiates the shutdown of all workers.
func (m *Manager) StartShutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shouldShutdown)
	})
}

// ShouldShutdown returns the channel closed when workers should shut down.
func (m *Manager) ShouldShutdown() <-chan any {
	return m.shouldShutdown
}

// WaitWorkersShutdown blocks until all workers have shut down.
func (m *Manager) WaitWorkersShutdown() {
	m.wg.Wait()
}
