package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/coursemgmt/educhat/internal/bus"
	"github.com/coursemgmt/educhat/internal/config"
	"github.com/coursemgmt/educhat/internal/conn"
	"github.com/coursemgmt/educhat/internal/rest"
	"github.com/coursemgmt/educhat/internal/status"
	"github.com/coursemgmt/educhat/internal/store"
	"github.com/coursemgmt/educhat/internal/subs"
	"github.com/coursemgmt/educhat/internal/timer"
	"github.com/coursemgmt/educhat/internal/track"
	"github.com/coursemgmt/educhat/internal/wire"
)

const selfID = int64(7)

type published struct {
	dest string
	body any
}

type fakeLive struct {
	mu          sync.Mutex
	offline     bool
	connected   bool
	pubs        []published
	subscribed  []string
	onConnected func()
	disconnects int
}

func (f *fakeLive) Connect(_ context.Context, token string) error {
	if token == "" {
		return conn.ErrAuthenticationRequired
	}
	f.mu.Lock()
	hook := f.onConnected
	f.connected = !f.offline
	connected := f.connected
	f.mu.Unlock()
	if connected && hook != nil {
		hook()
	}
	return nil
}

func (f *fakeLive) Publish(destination string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return conn.ErrNotConnected
	}
	f.pubs = append(f.pubs, published{dest: destination, body: v})
	return nil
}

func (f *fakeLive) Subscribe(destination string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return "", conn.ErrNotConnected
	}
	f.subscribed = append(f.subscribed, destination)
	return "sub-1", nil
}

func (f *fakeLive) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeLive) SetOnConnected(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnected = fn
}

func (f *fakeLive) publishedTo(dest string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.pubs {
		if p.dest == dest {
			out = append(out, p)
		}
	}
	return out
}

type fakeAPI struct {
	mu        sync.Mutex
	convs     []*rest.Conversation
	pages     map[int64]*rest.MessagePage
	sent      []*wire.SendCommand
	sendReply *wire.Message
	marked    []int64
	deleted   []int64
}

func (a *fakeAPI) Conversations(context.Context) ([]*rest.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.convs, nil
}

func (a *fakeAPI) Messages(_ context.Context, conversationID int64, _, _ int) (*rest.MessagePage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pages[conversationID]; ok {
		return p, nil
	}
	return &rest.MessagePage{}, nil
}

func (a *fakeAPI) SendMessage(_ context.Context, req *wire.SendCommand) (*wire.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, req)
	reply := *a.sendReply
	reply.ConversationID = req.ConversationID
	reply.Content = req.Content
	return &reply, nil
}

func (a *fakeAPI) UpdateMessage(_ context.Context, messageID int64, content string) (*wire.Message, error) {
	now := time.Now()
	return &wire.Message{
		ID: messageID, ConversationID: 10, SenderID: selfID,
		Content: content, MessageType: wire.TypeText,
		IsEdited: true, EditedAt: &now, CreatedAt: now.Add(-time.Minute),
	}, nil
}

func (a *fakeAPI) DeleteMessage(_ context.Context, messageID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, messageID)
	return nil
}

func (a *fakeAPI) MarkRead(_ context.Context, conversationID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marked = append(a.marked, conversationID)
	return nil
}

func (a *fakeAPI) markedConvs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.marked...)
}

type fixture struct {
	engine *Engine
	live   *fakeLive
	api    *fakeAPI
	store  *store.Store
	bus    *bus.Bus
}

func newFixture(t *testing.T, offline bool) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Token = "tok"
	cfg.TypingIdle = config.Duration(30 * time.Millisecond)

	b := bus.New()
	sched := timer.NewScheduler()
	t.Cleanup(sched.Close)

	live := &fakeLive{offline: offline}
	api := &fakeAPI{
		convs: []*rest.Conversation{{
			ID:               10,
			OtherParticipant: &rest.Participant{ID: 8, FullName: "Giang"},
		}},
		pages:     map[int64]*rest.MessagePage{},
		sendReply: &wire.Message{ID: 99, SenderID: selfID, MessageType: wire.TypeText, CreatedAt: time.Now()},
	}
	st := store.New(3 * time.Second)

	e := New(Deps{
		Config:    cfg,
		Live:      live,
		Registry:  subs.NewRegistry(live, zap.NewNop()),
		Store:     st,
		Typing:    track.NewTypingTracker(cfg.TypingTTL.Std(), sched, b),
		Presence:  track.NewPresenceTracker(cfg.PresenceDebounce.Std(), sched, b),
		API:       api,
		Bus:       b,
		Machine:   status.NewMachine(b),
		Scheduler: sched,
		Logger:    zap.NewNop(),
		Identity:  &rest.Identity{UserID: selfID, FullName: "Minh Anh"},
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return &fixture{engine: e, live: live, api: api, store: st, bus: b}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestStartLoadsConversationsAndSubscribes(t *testing.T) {
	fx := newFixture(t, false)

	convs := fx.store.Conversations()
	if len(convs) != 1 || convs[0].ID != 10 {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].Other == nil || convs[0].Other.FullName != "Giang" {
		t.Errorf("other participant = %+v", convs[0].Other)
	}

	fx.live.mu.Lock()
	subscribed := len(fx.live.subscribed)
	fx.live.mu.Unlock()
	if subscribed != 4 {
		t.Errorf("subscribed %d topics, want 4", subscribed)
	}

	online := fx.live.publishedTo(wire.OnlineDest)
	if len(online) != 1 {
		t.Fatalf("online announces = %d, want 1", len(online))
	}
	if pa := online[0].body.(*wire.PresenceAnnounce); pa.UserID != selfID {
		t.Errorf("announced user = %d", pa.UserID)
	}
}

func TestSendShowsSingleEntryThroughEcho(t *testing.T) {
	fx := newFixture(t, false)

	if err := fx.engine.Send(context.Background(), 10, "Hello"); err != nil {
		t.Fatal(err)
	}

	msgs := fx.store.Messages(10)
	if len(msgs) != 1 || !msgs[0].Provisional {
		t.Fatalf("after send: %+v", msgs)
	}
	provisionalID := msgs[0].ID

	sends := fx.live.publishedTo(wire.SendDest)
	if len(sends) != 1 {
		t.Fatalf("send publishes = %d", len(sends))
	}

	// Server echoes the confirmed message back on the live channel.
	fx.bus.Publish(bus.Event{Kind: bus.FrameMessage, Timestamp: time.Now(), Payload: &wire.MessageEvent{
		Message: &wire.Message{
			ID: 42, ConversationID: 10, SenderID: selfID,
			Content: "Hello", MessageType: wire.TypeText, CreatedAt: time.Now(),
		},
	}})

	waitFor(t, "echo reconciliation", func() bool {
		msgs := fx.store.Messages(10)
		return len(msgs) == 1 && msgs[0].ID == 42 && !msgs[0].Provisional
	})
	if got := fx.store.Messages(10); got[0].ID == provisionalID {
		t.Errorf("provisional id survived reconciliation")
	}
}

func TestSendFallsBackToAPIWhileOffline(t *testing.T) {
	fx := newFixture(t, true)

	if err := fx.engine.Send(context.Background(), 10, "Hello"); err != nil {
		t.Fatal(err)
	}

	msgs := fx.store.Messages(10)
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].ID != 99 || msgs[0].Provisional {
		t.Errorf("message not confirmed by fallback: %+v", msgs[0])
	}

	fx.api.mu.Lock()
	sent := len(fx.api.sent)
	fx.api.mu.Unlock()
	if sent != 1 {
		t.Errorf("api sends = %d, want 1", sent)
	}
}

func TestSelectConversationLoadsHistoryAndMarksRead(t *testing.T) {
	fx := newFixture(t, false)
	fx.store.IncrementUnread(10)

	base := time.Now().Add(-time.Hour)
	fx.api.mu.Lock()
	fx.api.pages[10] = &rest.MessagePage{Content: []*wire.Message{
		{ID: 3, ConversationID: 10, SenderID: 8, Content: "third", CreatedAt: base.Add(2 * time.Minute)},
		{ID: 2, ConversationID: 10, SenderID: selfID, Content: "second", CreatedAt: base.Add(time.Minute)},
		{ID: 1, ConversationID: 10, SenderID: 8, Content: "first", CreatedAt: base},
	}}
	fx.api.mu.Unlock()

	if err := fx.engine.SelectConversation(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	msgs := fx.store.Messages(10)
	if len(msgs) != 3 || msgs[0].ID != 1 || msgs[2].ID != 3 {
		t.Fatalf("history order = %+v", msgs)
	}
	if c, _ := fx.store.Conversation(10); c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
	waitFor(t, "server mark read", func() bool { return len(fx.api.markedConvs()) >= 1 })
}

func TestInboundUnreadPolicy(t *testing.T) {
	fx := newFixture(t, false)
	notify, unsub := fx.bus.Subscribe(bus.NotifyMessage, 10)
	defer unsub()

	if err := fx.engine.SelectConversation(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	// Peer message for a non-active conversation increments unread and raises
	// a notification.
	fx.bus.Publish(bus.Event{Kind: bus.FrameMessage, Timestamp: time.Now(), Payload: &wire.MessageEvent{
		Message: &wire.Message{
			ID: 201, ConversationID: 11, SenderID: 8,
			Content: "psst", MessageType: wire.TypeText, CreatedAt: time.Now(),
		},
	}})
	waitFor(t, "unread increment", func() bool {
		c, ok := fx.store.Conversation(11)
		return ok && c.UnreadCount == 1
	})
	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Error("no notification for background conversation")
	}

	// Peer message for the active conversation stays read.
	fx.bus.Publish(bus.Event{Kind: bus.FrameMessage, Timestamp: time.Now(), Payload: &wire.MessageEvent{
		Message: &wire.Message{
			ID: 202, ConversationID: 10, SenderID: 8,
			Content: "hi", MessageType: wire.TypeText, CreatedAt: time.Now(),
		},
	}})
	waitFor(t, "active conversation message", func() bool {
		return len(fx.store.Messages(10)) == 1
	})
	if c, _ := fx.store.Conversation(10); c.UnreadCount != 0 {
		t.Errorf("active conversation unread = %d, want 0", c.UnreadCount)
	}
}

func TestTypingAnnounceDebounced(t *testing.T) {
	fx := newFixture(t, false)

	fx.engine.SetTyping(10)
	fx.engine.SetTyping(10)
	fx.engine.SetTyping(10)

	typed := fx.live.publishedTo(wire.TypingDest)
	if len(typed) != 1 {
		t.Fatalf("typing publishes = %d, want 1", len(typed))
	}
	if cmd := typed[0].body.(*wire.TypingCommand); !cmd.IsTyping {
		t.Error("first announce should be isTyping=true")
	}

	// Idle timeout pushes the stop announcement.
	waitFor(t, "typing stop", func() bool {
		typed := fx.live.publishedTo(wire.TypingDest)
		return len(typed) == 2 && !typed[1].body.(*wire.TypingCommand).IsTyping
	})
}

func TestSendStopsTyping(t *testing.T) {
	fx := newFixture(t, false)

	fx.engine.SetTyping(10)
	if err := fx.engine.Send(context.Background(), 10, "done typing"); err != nil {
		t.Fatal(err)
	}

	typed := fx.live.publishedTo(wire.TypingDest)
	if len(typed) != 2 || typed[1].body.(*wire.TypingCommand).IsTyping {
		t.Fatalf("typing publishes = %+v, want true then false", typed)
	}
}

func TestTypingAndPresenceFramesSkipSelf(t *testing.T) {
	fx := newFixture(t, false)

	fx.bus.Publish(bus.Event{Kind: bus.FrameTyping, Timestamp: time.Now(), Payload: &wire.TypingEvent{
		ConversationID: 10, UserID: selfID, IsTyping: true,
	}})
	fx.bus.Publish(bus.Event{Kind: bus.FrameTyping, Timestamp: time.Now(), Payload: &wire.TypingEvent{
		ConversationID: 10, UserID: 8, IsTyping: true,
	}})
	fx.bus.Publish(bus.Event{Kind: bus.FramePresence, Timestamp: time.Now(), Payload: &wire.PresenceEvent{
		UserID: 8, IsOnline: true,
	}})

	if err := fx.engine.SelectConversation(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "peer typing", func() bool {
		snap := fx.engine.Snapshot()
		return len(snap.TypingPeers) == 1 && snap.TypingPeers[0] == 8
	})
	waitFor(t, "peer online", func() bool {
		snap := fx.engine.Snapshot()
		return len(snap.Online) == 1 && snap.Online[0] == 8
	})
}

func TestUnknownConversationGetsRefreshed(t *testing.T) {
	fx := newFixture(t, false)

	fx.api.mu.Lock()
	fx.api.convs = append(fx.api.convs, &rest.Conversation{
		ID:               11,
		OtherParticipant: &rest.Participant{ID: 9, FullName: "Tuan"},
	})
	fx.api.mu.Unlock()

	fx.bus.Publish(bus.Event{Kind: bus.FrameMessage, Timestamp: time.Now(), Payload: &wire.MessageEvent{
		Message: &wire.Message{
			ID: 301, ConversationID: 11, SenderID: 9,
			Content: "new thread", MessageType: wire.TypeText, CreatedAt: time.Now(),
		},
	}})

	// The message lands immediately on a stub; the refresh then fills in the
	// participant from the API.
	waitFor(t, "message stored", func() bool { return len(fx.store.Messages(11)) == 1 })
	waitFor(t, "participant resolved", func() bool {
		c, ok := fx.store.Conversation(11)
		return ok && c.Other != nil && c.Other.FullName == "Tuan"
	})
}

func TestPeerReadReceipt(t *testing.T) {
	fx := newFixture(t, false)

	if err := fx.engine.Send(context.Background(), 10, "seen yet?"); err != nil {
		t.Fatal(err)
	}
	fx.bus.Publish(bus.Event{Kind: bus.FrameRead, Timestamp: time.Now(), Payload: &wire.ReadEvent{
		ConversationID: 10, UserID: 8,
	}})

	waitFor(t, "read flag", func() bool {
		msgs := fx.store.Messages(10)
		return len(msgs) == 1 && msgs[0].IsRead && msgs[0].ReadAt != nil
	})
}

func TestDeleteTombstonesLocally(t *testing.T) {
	fx := newFixture(t, true)

	if err := fx.engine.Send(context.Background(), 10, "oops"); err != nil {
		t.Fatal(err)
	}
	if err := fx.engine.DeleteMessage(context.Background(), 10, 99); err != nil {
		t.Fatal(err)
	}

	msgs := fx.store.Messages(10)
	if len(msgs) != 1 || !msgs[0].IsDeleted || msgs[0].Content != "" {
		t.Errorf("messages = %+v", msgs)
	}
	fx.api.mu.Lock()
	deleted := append([]int64(nil), fx.api.deleted...)
	fx.api.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != 99 {
		t.Errorf("api deletes = %v", deleted)
	}
}

func TestCloseAnnouncesOffline(t *testing.T) {
	fx := newFixture(t, false)

	fx.engine.Close()
	fx.engine.Close() // idempotent

	offline := fx.live.publishedTo(wire.OfflineDest)
	if len(offline) != 1 {
		t.Fatalf("offline announces = %d, want 1", len(offline))
	}
	fx.live.mu.Lock()
	disconnects := fx.live.disconnects
	fx.live.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
}
