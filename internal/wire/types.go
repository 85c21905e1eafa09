// Package wire defines the JSON payloads exchanged with the chat backend and
// the codec that turns inbound frames into typed events.
package wire

import (
	"fmt"
	"time"
)

// Publish destinations.
const (
	SendDest    = "/app/chat.send"
	TypingDest  = "/app/chat.typing"
	DeleteDest  = "/app/chat.delete"
	OnlineDest  = "/app/chat.online"
	OfflineDest = "/app/chat.offline"
)

// MessagesTopic returns the message channel topic for a conversation.
func MessagesTopic(conversationID int64) string {
	return fmt.Sprintf("/topic/conversation/%d", conversationID)
}

// TypingTopic returns the typing channel topic for a conversation.
func TypingTopic(conversationID int64) string {
	return fmt.Sprintf("/topic/conversation/%d/typing", conversationID)
}

// OnlineTopic returns the online-presence channel topic for a conversation.
func OnlineTopic(conversationID int64) string {
	return fmt.Sprintf("/topic/conversation/%d/online", conversationID)
}

// OfflineTopic returns the offline-presence channel topic for a conversation.
func OfflineTopic(conversationID int64) string {
	return fmt.Sprintf("/topic/conversation/%d/offline", conversationID)
}

// Message types.
const (
	TypeText  = "TEXT"
	TypeImage = "IMAGE"
	TypeFile  = "FILE"
)

// Message is the message frame shared by the live channel and the REST API.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversationId"`
	SenderID       int64      `json:"senderId"`
	SenderName     string     `json:"senderName"`
	SenderAvatar   string     `json:"senderAvatar,omitempty"`
	Content        string     `json:"content"`
	MessageType    string     `json:"messageType"`
	FileURL        string     `json:"fileUrl,omitempty"`
	FileName       string     `json:"fileName,omitempty"`
	FileSize       int64      `json:"fileSize,omitempty"`
	IsEdited       bool       `json:"isEdited"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
	IsDeleted      bool       `json:"isDeleted"`
	CreatedAt      time.Time  `json:"createdAt"`
	IsRead         bool       `json:"isRead"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

// SendCommand is published to SendDest.
type SendCommand struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	FileURL        string `json:"fileUrl,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	FileSize       int64  `json:"fileSize,omitempty"`
}

// TypingCommand is published to TypingDest.
type TypingCommand struct {
	ConversationID int64 `json:"conversationId"`
	IsTyping       bool  `json:"isTyping"`
}

// DeleteCommand is published to DeleteDest.
type DeleteCommand struct {
	MessageID      int64 `json:"messageId"`
	ConversationID int64 `json:"conversationId"`
}

// PresenceAnnounce is published to OnlineDest/OfflineDest.
type PresenceAnnounce struct {
	UserID int64 `json:"userId"`
}

// MessageEvent is the decoded payload for new-message and message-updated frames.
type MessageEvent struct {
	Message *Message
}

// DeleteEvent is the decoded payload for message-deleted frames.
type DeleteEvent struct {
	ConversationID int64
	MessageID      int64
}

// TypingEvent is the decoded payload for user-typing / user-stopped-typing frames.
type TypingEvent struct {
	ConversationID int64
	UserID         int64
	IsTyping       bool
}

// PresenceEvent is the decoded payload for user-online / user-offline frames.
type PresenceEvent struct {
	UserID   int64
	IsOnline bool
}

// ReadEvent is the decoded payload for message-read frames.
type ReadEvent struct {
	ConversationID int64
	UserID         int64
}
