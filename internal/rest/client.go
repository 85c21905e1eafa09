// Package rest is the client for the platform's conversation/message REST
// endpoints: history fetch, mark-as-read, and the fallback send path used
// when the live channel is down.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/coursemgmt/educhat/internal/wire"
)

// Participant mirrors the otherParticipant object of the conversation DTO.
type Participant struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
	Role     string `json:"role"`
}

// Conversation is the conversation DTO returned by the API.
type Conversation struct {
	ID               int64         `json:"id"`
	Type             string        `json:"type"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	LastMessageAt    *time.Time    `json:"lastMessageAt"`
	OtherParticipant *Participant  `json:"otherParticipant"`
	LastMessage      *wire.Message `json:"lastMessage"`
	UnreadCount      int           `json:"unreadCount"`
}

// MessagePage is one page of message history, newest first.
type MessagePage struct {
	Content       []*wire.Message `json:"content"`
	TotalPages    int             `json:"totalPages"`
	TotalElements int             `json:"totalElements"`
}

// UpdateMessageRequest is the edit payload.
type UpdateMessageRequest struct {
	Content string `json:"content"`
}

// Client wraps the REST API.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the given base URL, authenticating every
// request with the token.
func NewClient(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// Conversations fetches the caller's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]*Conversation, error) {
	var out []*Conversation
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/chat/conversations")
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch conversations: %s", resp.Status())
	}
	return out, nil
}

// Messages fetches one page of history for a conversation.
func (c *Client) Messages(ctx context.Context, conversationID int64, page, size int) (*MessagePage, error) {
	var out MessagePage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"page": fmt.Sprintf("%d", page),
			"size": fmt.Sprintf("%d", size),
		}).
		SetResult(&out).
		Get(fmt.Sprintf("/v1/chat/conversations/%d/messages", conversationID))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch messages: %s", resp.Status())
	}
	return &out, nil
}

// SendMessage is the fallback send used while the live channel is down.
func (c *Client) SendMessage(ctx context.Context, req *wire.SendCommand) (*wire.Message, error) {
	var out wire.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v1/chat/messages")
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("send message: %s", resp.Status())
	}
	return &out, nil
}

// UpdateMessage edits a message's content.
func (c *Client) UpdateMessage(ctx context.Context, messageID int64, content string) (*wire.Message, error) {
	var out wire.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&UpdateMessageRequest{Content: content}).
		SetResult(&out).
		Put(fmt.Sprintf("/v1/chat/messages/%d", messageID))
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("update message: %s", resp.Status())
	}
	return &out, nil
}

// DeleteMessage removes a message (REST fallback for the live delete).
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/v1/chat/messages/%d", messageID))
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("delete message: %s", resp.Status())
	}
	return nil
}

// MarkRead marks every message of a conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/v1/chat/conversations/%d/read", conversationID))
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mark read: %s", resp.Status())
	}
	return nil
}
