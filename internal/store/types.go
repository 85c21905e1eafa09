package store

import (
	"time"

	"github.com/coursemgmt/educhat/internal/wire"
)

// Participant is the other party of a direct conversation.
type Participant struct {
	ID       int64
	FullName string
	Avatar   string
	Role     string
}

// Conversation is a synced conversation with its denormalized summary.
// Conversations are server-owned and never deleted locally.
type Conversation struct {
	ID            int64
	Other         *Participant
	LastMessage   *Message
	LastMessageAt time.Time
	UnreadCount   int
	CreatedAt     time.Time
}

// Message is a stored message. Provisional marks an optimistic entry that has
// not been confirmed by the server yet; its ID is drawn from the unix-milli
// namespace, which server ids (small sequential integers) never reach.
type Message struct {
	wire.Message
	Provisional bool
}

// ApplyResult describes what reconciliation did with an inbound message.
type ApplyResult int

const (
	// Duplicate: the message id was already stored; the frame was ignored.
	Duplicate ApplyResult = iota
	// Replaced: a provisional entry was confirmed in place.
	Replaced
	// Appended: a genuinely new message was inserted.
	Appended
)

func (r ApplyResult) String() string {
	switch r {
	case Duplicate:
		return "duplicate"
	case Replaced:
		return "replaced"
	default:
		return "appended"
	}
}
