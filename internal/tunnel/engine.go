package tunnel

//
// The forwarding engine. Both endpoints are polled without blocking;
// an adaptive signed counter decides when to emit keepalives and when
// to give up on a silent peer. The sign of the counter encodes the
// regime (negative: mostly receiving, positive: mostly sending) and
// its magnitude accumulates idle milliseconds in that regime. The
// numeric thresholds are a wire contract: peers run the same state
// machine.
//

import (
	"errors"
	"time"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
	"github.com/xi1314/linux-vpn-2017-autumn/internal/tundev"
)

const (
	// scratchSize is the single-packet scratch buffer. The engine
	// neither reorders nor buffers beyond it.
	scratchSize = 32767

	// idleSleep is how long to sleep when neither endpoint had data.
	idleSleep = 100 * time.Millisecond

	// idleStep is the per-sleep increment of the adaptive counter,
	// in milliseconds.
	idleStep = 100

	// keepaliveThreshold triggers a keepalive burst after about ten
	// seconds of unreciprocated receiving regime.
	keepaliveThreshold = -10000

	// timeoutLimit ends the session after about sixty seconds of
	// unreciprocated sending regime.
	timeoutLimit = 60000

	// keepaliveBurst is how many keepalive frames to send at once to
	// tolerate loss.
	keepaliveBurst = 3
)

// errNoRecord is returned by [assoc.Poll] when no record is pending.
var errNoRecord = errors.New("tunnel: no record available")

// errPeerClosed is returned by [assoc.Poll] when the peer closed the
// association.
var errPeerClosed = errors.New("tunnel: peer closed the association")

// packetDevice is the TUN side of the engine. ReadPacket returns
// [tundev.ErrNoPacket] when nothing is pending.
type packetDevice interface {
	ReadPacket(buf []byte) (int, error)
	WritePacket(pkt []byte) error
}

// assoc is the DTLS side of the engine. Poll never blocks.
type assoc interface {
	Poll(buf []byte) (int, error)
	Send(pkt []byte) error
}

// exitReason tells why the forwarding loop ended.
type exitReason int

const (
	exitPeerClosed = exitReason(iota)
	exitDisconnect
	exitTimeout
	exitShutdown
	exitError
)

// String maps an [exitReason] to a string.
func (r exitReason) String() string {
	switch r {
	case exitPeerClosed:
		return "peer closed"
	case exitDisconnect:
		return "peer disconnected"
	case exitTimeout:
		return "sending but not receiving"
	case exitShutdown:
		return "server shutdown"
	case exitError:
		return "i/o error"
	default:
		return "invalid"
	}
}

// engine forwards packets between one TUN device and one association.
type engine struct {
	assoc    assoc
	dev      packetDevice
	logger   model.Logger
	scratch  []byte
	shutdown <-chan any

	// sleep pauses the loop; tests substitute a counting fake.
	sleep func(d time.Duration)

	// timer is the adaptive counter described above.
	timer int
}

// newEngine creates an engine forwarding between dev and assoc until
// the session ends or shutdown is closed.
func newEngine(dev packetDevice, assoc assoc, shutdown <-chan any, logger model.Logger) *engine {
	return &engine{
		assoc:    assoc,
		dev:      dev,
		logger:   logger,
		scratch:  make([]byte, scratchSize),
		shutdown: shutdown,
		sleep:    time.Sleep,
	}
}

// run keeps forwarding packets until something ends the session and
// returns the reason.
func (e *engine) run() exitReason {
	for {
		if done, reason := e.step(); done {
			return reason
		}
	}
}

// step performs one loop iteration: poll the device, poll the
// association, then handle the idle branch.
func (e *engine) step() (bool, exitReason) {
	select {
	case <-e.shutdown:
		return true, exitShutdown
	default:
	}
	idle := true

	// outgoing: device to peer
	count, err := e.dev.ReadPacket(e.scratch)
	switch {
	case err == nil && count > 0:
		if err := e.assoc.Send(e.scratch[:count]); err != nil {
			e.logger.Warnf("tunnel: send: %s", err.Error())
			return true, exitError
		}
		idle = false
		if e.timer < 1 {
			// we were receiving, switch to sending
			e.timer = 1
		}
	case err != nil && !errors.Is(err, tundev.ErrNoPacket):
		e.logger.Warnf("tunnel: device read: %s", err.Error())
		return true, exitError
	}

	// incoming: peer to device
	count, err = e.assoc.Poll(e.scratch)
	switch {
	case errors.Is(err, errPeerClosed):
		return true, exitPeerClosed
	case errors.Is(err, errNoRecord):
		// nothing pending
	case err != nil:
		e.logger.Warnf("tunnel: recv: %s", err.Error())
		return true, exitError
	case count == 0:
		return true, exitPeerClosed
	default:
		if e.scratch[0] != model.ControlByte {
			if err := e.dev.WritePacket(e.scratch[:count]); err != nil {
				e.logger.Warnf("tunnel: device write: %s", err.Error())
				return true, exitError
			}
		} else if model.IsDisconnect(e.scratch[:count]) {
			return true, exitDisconnect
		}
		// control frames other than disconnect are no-ops
		idle = false
		if e.timer > 0 {
			// we were sending, switch to receiving
			e.timer = 0
		}
	}

	if idle {
		e.sleep(idleSleep)
		if e.timer > 0 {
			e.timer += idleStep
		} else {
			e.timer -= idleStep
		}
		if e.timer < keepaliveThreshold {
			// long silence from the peer: provoke a reply
			for i := 0; i < keepaliveBurst; i++ {
				if err := e.assoc.Send(model.Keepalive()); err != nil {
					e.logger.Warnf("tunnel: keepalive: %s", err.Error())
					return true, exitError
				}
			}
			e.timer = 1
		}
		if e.timer > timeoutLimit {
			return true, exitTimeout
		}
	}
	return false, exitReason(0)
}
