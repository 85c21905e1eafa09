// Package store keeps the in-memory conversation and message state and owns
// the optimistic-send reconciliation. It is mutated only by the facade's
// command handlers and dispatch loop; UI code reads snapshots.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/coursemgmt/educhat/internal/wire"
)

// Store holds ordered, deduplicated message history per conversation.
type Store struct {
	mu     sync.RWMutex
	convs  map[int64]*Conversation
	msgs   map[int64][]*Message
	window time.Duration
}

// New creates an empty store. window bounds the createdAt skew under which an
// inbound echo is matched against a provisional entry.
func New(window time.Duration) *Store {
	return &Store{
		convs:  make(map[int64]*Conversation),
		msgs:   make(map[int64][]*Message),
		window: window,
	}
}

// UpsertConversation merges a conversation into the store. Zero-valued fields
// of the incoming record do not clobber known state.
func (s *Store) UpsertConversation(c *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.convs[c.ID]
	if !ok {
		cp := *c
		s.convs[c.ID] = &cp
		return
	}
	if c.Other != nil {
		existing.Other = c.Other
	}
	if c.LastMessage != nil {
		existing.LastMessage = c.LastMessage
	}
	if !c.LastMessageAt.IsZero() {
		existing.LastMessageAt = c.LastMessageAt
	}
	if !c.CreatedAt.IsZero() {
		existing.CreatedAt = c.CreatedAt
	}
	existing.UnreadCount = c.UnreadCount
}

// Conversation returns a copy of the conversation, if known.
func (s *Store) Conversation(id int64) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// Conversations returns all conversations, most recently active first.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ConversationIDs returns the ids of every known conversation.
func (s *Store) ConversationIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetHistory installs fetched history (oldest first) for a conversation.
// Provisional entries still awaiting confirmation are carried over so an
// in-flight send cannot vanish under a refetch.
func (s *Store) SetHistory(conversationID int64, history []*wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*Message
	for _, m := range s.msgs[conversationID] {
		if m.Provisional {
			pending = append(pending, m)
		}
	}

	list := make([]*Message, 0, len(history)+len(pending))
	for _, m := range history {
		cp := *m
		list = append(list, &Message{Message: cp})
	}
	s.msgs[conversationID] = list
	for _, p := range pending {
		s.insertSortedLocked(conversationID, p)
	}
	s.refreshSummaryLocked(conversationID)
}

// AddProvisional inserts an optimistic message. The caller assigns the
// provisional id and createdAt.
func (s *Store) AddProvisional(m *wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.insertSortedLocked(m.ConversationID, &Message{Message: cp, Provisional: true})
	s.refreshSummaryLocked(m.ConversationID)
}

// Apply reconciles one inbound message frame against the stored list:
//
//  1. An exact id match is a duplicate delivery of a confirmed message; drop it.
//  2. A provisional entry from the same sender with the same content whose
//     createdAt is within the window is the optimistic original of this echo;
//     confirm it in place, adopting the server id and timestamp.
//  3. Otherwise the message is genuinely new; insert it in timestamp order.
//
// Rule 2 cannot tell apart two identical messages the same sender fired
// inside the window; that ambiguity is accepted.
func (s *Store) Apply(m *wire.Message) ApplyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.msgs[m.ConversationID]
	for _, existing := range list {
		if existing.ID == m.ID {
			return Duplicate
		}
	}

	for i, existing := range list {
		if !existing.Provisional || existing.SenderID != m.SenderID || existing.Content != m.Content {
			continue
		}
		delta := m.CreatedAt.Sub(existing.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < s.window {
			cp := *m
			list[i] = &Message{Message: cp}
			s.refreshSummaryLocked(m.ConversationID)
			return Replaced
		}
	}

	cp := *m
	s.insertSortedLocked(m.ConversationID, &Message{Message: cp})
	s.refreshSummaryLocked(m.ConversationID)
	return Appended
}

// ApplyUpdate replaces a message's content in place after an edit. Reports
// whether the target was found.
func (s *Store) ApplyUpdate(m *wire.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.msgs[m.ConversationID] {
		if existing.ID == m.ID {
			cp := *m
			s.msgs[m.ConversationID][i] = &Message{Message: cp}
			s.refreshSummaryLocked(m.ConversationID)
			return true
		}
	}
	return false
}

// ApplyDelete tombstones a message. The entry stays in the list so ordering
// and positions are stable; only its content is cleared.
func (s *Store) ApplyDelete(conversationID, messageID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.msgs[conversationID] {
		if existing.ID == messageID {
			existing.IsDeleted = true
			existing.Content = ""
			s.refreshSummaryLocked(conversationID)
			return true
		}
	}
	return false
}

// MarkPeerRead flags every message in the conversation as read, in response
// to the peer's read receipt.
func (s *Store) MarkPeerRead(conversationID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs[conversationID] {
		if !m.IsRead {
			m.IsRead = true
			t := at
			m.ReadAt = &t
		}
	}
}

// Messages returns a copy of the ordered message list for a conversation.
func (s *Store) Messages(conversationID int64) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.msgs[conversationID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// IncrementUnread bumps a conversation's unread counter.
func (s *Store) IncrementUnread(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[conversationID]; ok {
		c.UnreadCount++
	}
}

// ClearUnread zeroes a conversation's unread counter.
func (s *Store) ClearUnread(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[conversationID]; ok {
		c.UnreadCount = 0
	}
}

// insertSortedLocked inserts keeping the list monotonic in createdAt, with id
// as the tiebreaker.
func (s *Store) insertSortedLocked(conversationID int64, m *Message) {
	list := s.msgs[conversationID]
	i := sort.Search(len(list), func(i int) bool {
		if !list[i].CreatedAt.Equal(m.CreatedAt) {
			return list[i].CreatedAt.After(m.CreatedAt)
		}
		return list[i].ID > m.ID
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = m
	s.msgs[conversationID] = list
}

// refreshSummaryLocked recomputes the conversation's denormalized lastMessage
// fields from the tail of its list. Creates a stub conversation if the id is
// unknown, since an inbound message may reference a conversation the history
// fetch has not seen yet.
func (s *Store) refreshSummaryLocked(conversationID int64) {
	c, ok := s.convs[conversationID]
	if !ok {
		c = &Conversation{ID: conversationID}
		s.convs[conversationID] = c
	}
	list := s.msgs[conversationID]
	if len(list) == 0 {
		c.LastMessage = nil
		return
	}
	last := list[len(list)-1]
	cp := *last
	c.LastMessage = &cp
	c.LastMessageAt = last.CreatedAt
}
