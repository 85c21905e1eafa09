// Package subs tracks which conversation topics are subscribed on the live
// channel and re-establishes them after a reconnect.
package subs

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/coursemgmt/educhat/internal/wire"
)

// Subscriber is the slice of the connection manager the registry needs.
type Subscriber interface {
	Subscribe(destination string) (string, error)
}

// Registry maps conversation ids to the subscription ids of their topics.
// Each conversation carries four topics: messages, typing, online, offline.
type Registry struct {
	sub    Subscriber
	logger *zap.Logger

	mu     sync.Mutex
	active map[int64][]string
}

// NewRegistry creates an empty registry.
func NewRegistry(sub Subscriber, logger *zap.Logger) *Registry {
	return &Registry{
		sub:    sub,
		logger: logger,
		active: make(map[int64][]string),
	}
}

func topics(conversationID int64) []string {
	return []string{
		wire.MessagesTopic(conversationID),
		wire.TypingTopic(conversationID),
		wire.OnlineTopic(conversationID),
		wire.OfflineTopic(conversationID),
	}
}

// Sync subscribes any conversation in ids that is not yet tracked. Already
// subscribed conversations are left alone, so calling it after every list
// refresh is cheap.
func (r *Registry) Sync(ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if _, ok := r.active[id]; ok {
			continue
		}
		if err := r.subscribeLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// Add subscribes a single conversation if not yet tracked.
func (r *Registry) Add(conversationID int64) error {
	return r.Sync([]int64{conversationID})
}

// Reestablish re-subscribes every tracked conversation. Called after a
// reconnect, when the server has forgotten all prior subscriptions.
func (r *Registry) Reestablish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := r.subscribeLocked(id); err != nil {
			return err
		}
	}
	r.logger.Info("subscriptions re-established", zap.Int("conversations", len(ids)))
	return nil
}

// Tracked reports whether a conversation's topics are subscribed.
func (r *Registry) Tracked(conversationID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[conversationID]
	return ok
}

// Conversations returns the tracked conversation ids.
func (r *Registry) Conversations() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) subscribeLocked(conversationID int64) error {
	subIDs := make([]string, 0, 4)
	for _, dest := range topics(conversationID) {
		id, err := r.sub.Subscribe(dest)
		if err != nil {
			return err
		}
		subIDs = append(subIDs, id)
	}
	r.active[conversationID] = subIDs
	r.logger.Debug("subscribed conversation", zap.Int64("conversation_id", conversationID))
	return nil
}
