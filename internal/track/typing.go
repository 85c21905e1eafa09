// Package track maintains the ephemeral peer signals: who is typing in each
// conversation and who is online. Both trackers debounce through the shared
// timer scheduler so teardown cancels everything in one place.
package track

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coursemgmt/educhat/internal/bus"
	"github.com/coursemgmt/educhat/internal/timer"
)

// TypingTracker maintains, per conversation, the set of peers currently
// typing. Entries expire after the TTL unless refreshed.
type TypingTracker struct {
	mu    sync.Mutex
	peers map[int64]map[int64]time.Time // conversation -> peer -> expiry
	ttl   time.Duration
	sched *timer.Scheduler
	bus   *bus.Bus
	now   func() time.Time
}

// NewTypingTracker creates a tracker with the given TTL.
func NewTypingTracker(ttl time.Duration, sched *timer.Scheduler, b *bus.Bus) *TypingTracker {
	return &TypingTracker{
		peers: make(map[int64]map[int64]time.Time),
		ttl:   ttl,
		sched: sched,
		bus:   b,
		now:   time.Now,
	}
}

// OnTypingEvent upserts or removes a typing peer. A true event refreshes the
// expiry; a false event removes the entry immediately and cancels its timer.
func (t *TypingTracker) OnTypingEvent(conversationID, peerID int64, isTyping bool) {
	key := typingKey(conversationID, peerID)

	t.mu.Lock()
	if isTyping {
		byPeer, ok := t.peers[conversationID]
		if !ok {
			byPeer = make(map[int64]time.Time)
			t.peers[conversationID] = byPeer
		}
		byPeer[peerID] = t.now().Add(t.ttl)
		t.mu.Unlock()

		t.sched.Schedule(key, t.ttl, func() { t.expire(conversationID, peerID) })
	} else {
		t.removeLocked(conversationID, peerID)
		t.mu.Unlock()

		t.sched.Cancel(key)
	}
	t.notify()
}

// Peers returns the peers currently typing in a conversation. Expired entries
// are pruned lazily so a missed timer cannot leave a stale indicator.
func (t *TypingTracker) Peers(conversationID int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []int64
	for peer, expiry := range t.peers[conversationID] {
		if expiry.After(now) {
			out = append(out, peer)
		} else {
			t.removeLocked(conversationID, peer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *TypingTracker) expire(conversationID, peerID int64) {
	t.mu.Lock()
	expiry, ok := t.peers[conversationID][peerID]
	if ok && !expiry.After(t.now()) {
		t.removeLocked(conversationID, peerID)
	} else {
		ok = false
	}
	t.mu.Unlock()
	if ok {
		t.notify()
	}
}

func (t *TypingTracker) removeLocked(conversationID, peerID int64) {
	byPeer := t.peers[conversationID]
	delete(byPeer, peerID)
	if len(byPeer) == 0 {
		delete(t.peers, conversationID)
	}
}

func (t *TypingTracker) notify() {
	if t.bus != nil {
		t.bus.Publish(bus.Event{Kind: bus.StateChanged, Timestamp: time.Now()})
	}
}

func typingKey(conversationID, peerID int64) string {
	return fmt.Sprintf("typing/%d/%d", conversationID, peerID)
}
