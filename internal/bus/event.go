package bus

import "time"

// Event is a domain event published on the bus. Kind is a dot-separated
// name whose prefix doubles as a subscription namespace, e.g. "frame.message"
// is delivered to subscribers of "frame.".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Well-known event kinds. The payload type for each kind is fixed; the
// dispatch loop in internal/chat asserts them.
const (
	// ConnStateChanged carries a status.Change.
	ConnStateChanged = "conn.state_changed"
	// ConnOffline is published once reconnect attempts are exhausted. No payload.
	ConnOffline = "conn.offline"

	// FrameMessage carries a *wire.MessageEvent.
	FrameMessage = "frame.message"
	// FrameMessageUpdated carries a *wire.MessageEvent.
	FrameMessageUpdated = "frame.message_updated"
	// FrameMessageDeleted carries a *wire.DeleteEvent.
	FrameMessageDeleted = "frame.message_deleted"
	// FrameTyping carries a *wire.TypingEvent.
	FrameTyping = "frame.typing"
	// FramePresence carries a *wire.PresenceEvent.
	FramePresence = "frame.presence"
	// FrameRead carries a *wire.ReadEvent.
	FrameRead = "frame.read"

	// StateChanged signals that facade-visible state moved; the UI redraws on it.
	StateChanged = "state.changed"
	// NotifyMessage carries a *wire.MessageEvent for a non-active conversation.
	NotifyMessage = "notify.message"
)
