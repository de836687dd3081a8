package workers

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/vpntest"
)

func TestManagerShutdown(t *testing.T) {
	manager := NewManager(vpntest.NewLogger())
	var exited atomic.Int64
	for i := 0; i < 3; i++ {
		manager.StartWorker("worker", func() {
			<-manager.ShouldShutdown()
			exited.Add(1)
		})
	}
	manager.StartShutdown()
	manager.StartShutdown() // idempotent
	done := make(chan struct{})
	go func() {
		manager.WaitWorkersShutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers never shut down")
	}
	if exited.Load() != 3 {
		t.Fatalf("exited = %d, want 3", exited.Load())
	}
}

func TestManagerTracksWorkerExit(t *testing.T) {
	manager := NewManager(vpntest.NewLogger())
	manager.StartWorker("short-lived", func() {})
	done := make(chan struct{})
	go func() {
		manager.WaitWorkersShutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager never observed the worker exit")
	}
}
