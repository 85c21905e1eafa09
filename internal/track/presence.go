package track

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coursemgmt/educhat/internal/bus"
	"github.com/coursemgmt/educhat/internal/timer"
)

// PresenceTracker maintains the global online-peer set. Offline transitions
// are debounced: a rapid reconnect cancels the pending flip so the UI never
// flickers.
type PresenceTracker struct {
	mu       sync.Mutex
	online   map[int64]bool
	debounce time.Duration
	sched    *timer.Scheduler
	bus      *bus.Bus
}

// NewPresenceTracker creates a tracker with the given offline debounce window.
func NewPresenceTracker(debounce time.Duration, sched *timer.Scheduler, b *bus.Bus) *PresenceTracker {
	return &PresenceTracker{
		online:   make(map[int64]bool),
		debounce: debounce,
		sched:    sched,
		bus:      b,
	}
}

// OnPresenceEvent applies an online/offline event. Online applies
// immediately and cancels any pending offline flip; offline only schedules
// the flip.
func (p *PresenceTracker) OnPresenceEvent(peerID int64, isOnline bool) {
	key := presenceKey(peerID)
	if isOnline {
		p.sched.Cancel(key)
		p.mu.Lock()
		changed := !p.online[peerID]
		p.online[peerID] = true
		p.mu.Unlock()
		if changed {
			p.notify()
		}
		return
	}

	p.sched.Schedule(key, p.debounce, func() {
		p.mu.Lock()
		changed := p.online[peerID]
		delete(p.online, peerID)
		p.mu.Unlock()
		if changed {
			p.notify()
		}
	})
}

// IsOnline reports whether a peer is currently considered online.
func (p *PresenceTracker) IsOnline(peerID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[peerID]
}

// Online returns the set of online peers.
func (p *PresenceTracker) Online() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.online))
	for peer := range p.online {
		out = append(out, peer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *PresenceTracker) notify() {
	if p.bus != nil {
		p.bus.Publish(bus.Event{Kind: bus.StateChanged, Timestamp: time.Now()})
	}
}

func presenceKey(peerID int64) string {
	return fmt.Sprintf("presence/%d", peerID)
}
