package mesh

import (
	"time"

	"github.com/BioHazard786/meshcall/internal/peer"
)

// Verdict is what the monitor concluded from a state transition.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictDegraded
	VerdictRecovered
	VerdictEvict
)

// HealthMonitor watches link states. A new link gets a timer until it first
// connects, a degraded link gets one until it recovers; when either fires
// the link is evicted. The monitor never negotiates or retries.
type HealthMonitor struct {
	timeout time.Duration
	setup   time.Duration
	expire  func(peerID string, gen uint64)

	gen    uint64
	timers map[string]armed
}

type armed struct {
	timer *time.Timer
	gen   uint64
}

// NewHealthMonitor returns a monitor calling expire from the timer goroutine
// when a degraded window or a negotiation deadline runs out. It is not safe
// for concurrent use.
func NewHealthMonitor(timeout, setup time.Duration, expire func(peerID string, gen uint64)) *HealthMonitor {
	return &HealthMonitor{
		timeout: timeout,
		setup:   setup,
		expire:  expire,
		timers:  make(map[string]armed),
	}
}

// Observe records a transition of peerID's link from prev to next.
func (h *HealthMonitor) Observe(peerID string, prev, next peer.State) Verdict {
	switch next {
	case peer.Degraded:
		if prev == peer.Degraded {
			return VerdictNone
		}
		h.arm(peerID, h.timeout)
		return VerdictDegraded
	case peer.Connected:
		h.Forget(peerID)
		if prev != peer.Degraded {
			return VerdictNone
		}
		return VerdictRecovered
	case peer.Failed:
		h.Forget(peerID)
		return VerdictEvict
	case peer.Closed:
		h.Forget(peerID)
	}
	return VerdictNone
}

// Negotiating starts the deadline of a link that has not connected yet.
func (h *HealthMonitor) Negotiating(peerID string) {
	h.arm(peerID, h.setup)
}

// Expired reports whether gen is still the live timer for peerID.
func (h *HealthMonitor) Expired(peerID string, gen uint64) bool {
	a, ok := h.timers[peerID]
	if !ok || a.gen != gen {
		return false
	}
	delete(h.timers, peerID)
	return true
}

// Forget cancels the timer of peerID.
func (h *HealthMonitor) Forget(peerID string) {
	if a, ok := h.timers[peerID]; ok {
		a.timer.Stop()
		delete(h.timers, peerID)
	}
}

// Armed returns the number of running timers.
func (h *HealthMonitor) Armed() int {
	return len(h.timers)
}

// Stop cancels every timer.
func (h *HealthMonitor) Stop() {
	for id := range h.timers {
		h.Forget(id)
	}
}

func (h *HealthMonitor) arm(peerID string, d time.Duration) {
	h.Forget(peerID)
	h.gen++
	gen := h.gen
	h.timers[peerID] = armed{
		gen:   gen,
		timer: time.AfterFunc(d, func() { h.expire(peerID, gen) }),
	}
}
