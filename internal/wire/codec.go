package wire

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/coursemgmt/educhat/internal/bus"
)

// Inbound frame discriminators.
const (
	frameNewMessage     = "new-message"
	frameMessageUpdated = "message-updated"
	frameMessageDeleted = "message-deleted"
	frameUserTyping     = "user-typing"
	frameStoppedTyping  = "user-stopped-typing"
	frameMessageRead    = "message-read"
	frameUserOnline     = "user-online"
	frameUserOffline    = "user-offline"
)

// envelope is the superset of fields an inbound frame may carry; Type picks
// which of them are meaningful.
type envelope struct {
	Type           string   `json:"type"`
	Message        *Message `json:"message"`
	ConversationID int64    `json:"conversationId"`
	MessageID      int64    `json:"messageId"`
	UserID         int64    `json:"userId"`
}

// Decode translates one inbound frame body into a typed bus event. Frames
// with an unknown discriminator or missing required fields are rejected; the
// caller drops them with a warning so one bad frame never stalls dispatch.
func Decode(body []byte) (bus.Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return bus.Event{}, fmt.Errorf("unmarshal frame: %w", err)
	}

	evt := bus.Event{Timestamp: time.Now()}
	switch env.Type {
	case frameNewMessage, frameMessageUpdated:
		if env.Message == nil {
			return bus.Event{}, fmt.Errorf("%s frame without message", env.Type)
		}
		evt.Kind = bus.FrameMessage
		if env.Type == frameMessageUpdated {
			evt.Kind = bus.FrameMessageUpdated
		}
		evt.Payload = &MessageEvent{Message: env.Message}
	case frameMessageDeleted:
		if env.ConversationID == 0 || env.MessageID == 0 {
			return bus.Event{}, fmt.Errorf("message-deleted frame missing ids")
		}
		evt.Kind = bus.FrameMessageDeleted
		evt.Payload = &DeleteEvent{ConversationID: env.ConversationID, MessageID: env.MessageID}
	case frameUserTyping, frameStoppedTyping:
		if env.ConversationID == 0 || env.UserID == 0 {
			return bus.Event{}, fmt.Errorf("%s frame missing ids", env.Type)
		}
		evt.Kind = bus.FrameTyping
		evt.Payload = &TypingEvent{
			ConversationID: env.ConversationID,
			UserID:         env.UserID,
			IsTyping:       env.Type == frameUserTyping,
		}
	case frameUserOnline, frameUserOffline:
		if env.UserID == 0 {
			return bus.Event{}, fmt.Errorf("%s frame missing userId", env.Type)
		}
		evt.Kind = bus.FramePresence
		evt.Payload = &PresenceEvent{UserID: env.UserID, IsOnline: env.Type == frameUserOnline}
	case frameMessageRead:
		evt.Kind = bus.FrameRead
		evt.Payload = &ReadEvent{ConversationID: env.ConversationID, UserID: env.UserID}
	default:
		return bus.Event{}, fmt.Errorf("unknown frame type %q", env.Type)
	}
	return evt, nil
}

// Encode marshals an outbound command payload.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
