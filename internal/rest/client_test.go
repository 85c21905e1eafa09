package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coursemgmt/educhat/internal/wire"
)

func TestConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/conversations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"id": 10, "type": "DIRECT", "unreadCount": 4,
			"otherParticipant": {"id": 8, "fullName": "Giang", "role": "INSTRUCTOR"}
		}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	convs, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != 10 || convs[0].UnreadCount != 4 {
		t.Errorf("convs = %+v", convs)
	}
	if convs[0].OtherParticipant == nil || convs[0].OtherParticipant.FullName != "Giang" {
		t.Errorf("otherParticipant = %+v", convs[0].OtherParticipant)
	}
}

func TestMessagesPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/conversations/10/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("size") != "50" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(MessagePage{
			Content: []*wire.Message{
				{ID: 2, ConversationID: 10, Content: "newer", CreatedAt: time.Now()},
				{ID: 1, ConversationID: 10, Content: "older", CreatedAt: time.Now().Add(-time.Hour)},
			},
			TotalPages:    3,
			TotalElements: 120,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	page, err := c.Messages(context.Background(), 10, 2, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Content) != 2 || page.TotalPages != 3 {
		t.Errorf("page = %+v", page)
	}
}

func TestSendMessageFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/messages" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var req wire.SendCommand
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.Message{
			ID: 99, ConversationID: req.ConversationID,
			Content: req.Content, MessageType: req.MessageType,
			CreatedAt: time.Now(),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	msg, err := c.SendMessage(context.Background(), &wire.SendCommand{
		ConversationID: 10, Content: "hi", MessageType: wire.TypeText,
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != 99 || msg.Content != "hi" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestMarkReadErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	if err := c.MarkRead(context.Background(), 10); err == nil {
		t.Error("MarkRead() expected error on 500")
	}
}

func TestIdentityFromToken(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "7",
		"userId":   float64(7),
		"fullName": "Minh Anh",
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}

	id, err := IdentityFromToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != 7 || id.FullName != "Minh Anh" {
		t.Errorf("identity = %+v", id)
	}
}

func TestIdentityFromTokenSubjectFallback(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "12",
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}

	id, err := IdentityFromToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != 12 {
		t.Errorf("UserID = %d, want 12", id.UserID)
	}
}

func TestIdentityFromGarbage(t *testing.T) {
	if _, err := IdentityFromToken("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}
