// Package chat is the synchronization facade. It owns the dispatch loop that
// folds inbound frames into the store and trackers, and exposes the command
// surface (send, edit, delete, select, typing) the UI calls.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
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

// LiveChannel is the slice of the connection manager the engine drives.
type LiveChannel interface {
	Connect(ctx context.Context, token string) error
	Publish(destination string, v any) error
	Subscribe(destination string) (string, error)
	Disconnect()
	SetOnConnected(fn func())
}

// API is the REST surface used for history, the list, and offline fallbacks.
type API interface {
	Conversations(ctx context.Context) ([]*rest.Conversation, error)
	Messages(ctx context.Context, conversationID int64, page, size int) (*rest.MessagePage, error)
	SendMessage(ctx context.Context, req *wire.SendCommand) (*wire.Message, error)
	UpdateMessage(ctx context.Context, messageID int64, content string) (*wire.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
	MarkRead(ctx context.Context, conversationID int64) error
}

// Deps collects everything the engine is built from.
type Deps struct {
	Config    *config.Config
	Live      LiveChannel
	Registry  *subs.Registry
	Store     *store.Store
	Typing    *track.TypingTracker
	Presence  *track.PresenceTracker
	API       API
	Bus       *bus.Bus
	Machine   *status.Machine
	Scheduler *timer.Scheduler
	Logger    *zap.Logger
	Identity  *rest.Identity
}

// Engine coordinates the live channel, the REST client, and the local state.
type Engine struct {
	cfg      *config.Config
	live     LiveChannel
	registry *subs.Registry
	store    *store.Store
	typing   *track.TypingTracker
	presence *track.PresenceTracker
	api      API
	bus      *bus.Bus
	machine  *status.Machine
	sched    *timer.Scheduler
	logger   *zap.Logger
	identity *rest.Identity

	mu         sync.Mutex
	activeConv int64
	typingSent map[int64]bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an engine. Start must be called before any command.
func New(d Deps) *Engine {
	return &Engine{
		cfg:        d.Config,
		live:       d.Live,
		registry:   d.Registry,
		store:      d.Store,
		typing:     d.Typing,
		presence:   d.Presence,
		api:        d.API,
		bus:        d.Bus,
		machine:    d.Machine,
		sched:      d.Scheduler,
		logger:     d.Logger,
		identity:   d.Identity,
		typingSent: make(map[int64]bool),
	}
}

// Start loads the conversation list, connects the live channel, and runs the
// dispatch loop until Close. A failed initial connect is not fatal: the
// reconnect schedule is already armed and the REST data stays usable.
func (e *Engine) Start(ctx context.Context) error {
	token, err := e.cfg.ResolveToken()
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}

	e.live.SetOnConnected(e.onConnected)

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	frames, unsubFrames := e.bus.Subscribe("frame.", 256)
	connEvts, unsubConn := e.bus.Subscribe("conn.", 16)
	go func() {
		defer close(e.done)
		defer unsubFrames()
		defer unsubConn()
		e.dispatch(loopCtx, frames, connEvts)
	}()

	if err := e.refreshConversations(ctx); err != nil {
		e.logger.Warn("initial conversation fetch failed", zap.Error(err))
	}

	if err := e.live.Connect(ctx, token); err != nil {
		if errors.Is(err, conn.ErrAuthenticationRequired) {
			return err
		}
		e.logger.Warn("initial connect failed, retrying in background", zap.Error(err))
	}
	return nil
}

// onConnected runs after every successful handshake: subscriptions are
// re-established (the server forgets them across connections), the own
// presence is announced, and the UI is told to redraw.
func (e *Engine) onConnected() {
	if err := e.registry.Reestablish(); err != nil {
		e.logger.Warn("re-establishing subscriptions failed", zap.Error(err))
	}
	if err := e.registry.Sync(e.store.ConversationIDs()); err != nil {
		e.logger.Warn("subscription sync failed", zap.Error(err))
	}
	if err := e.live.Publish(wire.OnlineDest, &wire.PresenceAnnounce{UserID: e.identity.UserID}); err != nil {
		e.logger.Warn("online announce failed", zap.Error(err))
	}
	e.notify()
}

func (e *Engine) dispatch(ctx context.Context, frames, connEvts <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-frames:
			e.handleFrame(evt)
		case evt := <-connEvts:
			if evt.Kind == bus.ConnOffline {
				e.logger.Warn("live channel gave up reconnecting")
			}
			e.notify()
		}
	}
}

func (e *Engine) handleFrame(evt bus.Event) {
	switch evt.Kind {
	case bus.FrameMessage:
		me, ok := evt.Payload.(*wire.MessageEvent)
		if !ok {
			return
		}
		e.applyInbound(me)

	case bus.FrameMessageUpdated:
		me, ok := evt.Payload.(*wire.MessageEvent)
		if !ok {
			return
		}
		if e.store.ApplyUpdate(me.Message) {
			e.notify()
		}

	case bus.FrameMessageDeleted:
		de, ok := evt.Payload.(*wire.DeleteEvent)
		if !ok {
			return
		}
		if e.store.ApplyDelete(de.ConversationID, de.MessageID) {
			e.notify()
		}

	case bus.FrameTyping:
		te, ok := evt.Payload.(*wire.TypingEvent)
		if !ok || te.UserID == e.identity.UserID {
			return
		}
		e.typing.OnTypingEvent(te.ConversationID, te.UserID, te.IsTyping)

	case bus.FramePresence:
		pe, ok := evt.Payload.(*wire.PresenceEvent)
		if !ok || pe.UserID == e.identity.UserID {
			return
		}
		e.presence.OnPresenceEvent(pe.UserID, pe.IsOnline)

	case bus.FrameRead:
		re, ok := evt.Payload.(*wire.ReadEvent)
		if !ok || re.UserID == e.identity.UserID {
			return
		}
		e.store.MarkPeerRead(re.ConversationID, evt.Timestamp)
		e.notify()
	}
}

// applyInbound folds one inbound message frame into the store and applies the
// unread/notify policy.
func (e *Engine) applyInbound(me *wire.MessageEvent) {
	m := me.Message
	_, known := e.store.Conversation(m.ConversationID)
	result := e.store.Apply(m)
	e.logger.Debug("inbound message",
		zap.Int64("conversation_id", m.ConversationID),
		zap.Int64("message_id", m.ID),
		zap.String("result", result.String()),
	)

	if !known {
		// A message for a conversation the list fetch has not seen yet: the
		// store made a stub, fill it in from the API and subscribe its topics.
		go func() {
			refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelRefresh()
			if err := e.refreshConversations(refreshCtx); err != nil {
				e.logger.Warn("conversation refresh failed", zap.Error(err))
			}
		}()
	}

	if result != store.Duplicate && m.SenderID != e.identity.UserID {
		if m.ConversationID == e.ActiveConversation() {
			go e.markReadRemote(m.ConversationID)
		} else {
			e.store.IncrementUnread(m.ConversationID)
			e.bus.Publish(bus.Event{Kind: bus.NotifyMessage, Timestamp: time.Now(), Payload: me})
		}
	}
	e.notify()
}

// refreshConversations refetches the list, merges it, and syncs subscriptions.
func (e *Engine) refreshConversations(ctx context.Context) error {
	convs, err := e.api.Conversations(ctx)
	if err != nil {
		return err
	}
	for _, rc := range convs {
		e.store.UpsertConversation(conversationFromAPI(rc))
	}
	if err := e.registry.Sync(e.store.ConversationIDs()); err != nil && !errors.Is(err, conn.ErrNotConnected) {
		e.logger.Warn("subscription sync failed", zap.Error(err))
	}
	e.notify()
	return nil
}

func conversationFromAPI(rc *rest.Conversation) *store.Conversation {
	c := &store.Conversation{
		ID:          rc.ID,
		UnreadCount: rc.UnreadCount,
		CreatedAt:   rc.CreatedAt,
	}
	if rc.OtherParticipant != nil {
		c.Other = &store.Participant{
			ID:       rc.OtherParticipant.ID,
			FullName: rc.OtherParticipant.FullName,
			Avatar:   rc.OtherParticipant.Avatar,
			Role:     rc.OtherParticipant.Role,
		}
	}
	if rc.LastMessage != nil {
		c.LastMessage = &store.Message{Message: *rc.LastMessage}
		c.LastMessageAt = rc.LastMessage.CreatedAt
	}
	if rc.LastMessageAt != nil {
		c.LastMessageAt = *rc.LastMessageAt
	}
	return c
}

// SelectConversation makes a conversation active: its newest history page is
// loaded, its unread counter is cleared, and it is marked read server-side.
func (e *Engine) SelectConversation(ctx context.Context, conversationID int64) error {
	e.mu.Lock()
	e.activeConv = conversationID
	e.mu.Unlock()

	page, err := e.api.Messages(ctx, conversationID, 0, e.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	// The API pages newest first; the store wants oldest first.
	history := make([]*wire.Message, len(page.Content))
	for i, m := range page.Content {
		history[len(page.Content)-1-i] = m
	}
	e.store.SetHistory(conversationID, history)

	e.store.ClearUnread(conversationID)
	go e.markReadRemote(conversationID)
	e.notify()
	return nil
}

// ActiveConversation returns the currently selected conversation id, zero if
// none.
func (e *Engine) ActiveConversation() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeConv
}

// Send delivers a text message. The message shows up locally right away as a
// provisional entry; the live echo (or the REST response while offline)
// confirms it in place.
func (e *Engine) Send(ctx context.Context, conversationID int64, content string) error {
	now := time.Now()
	provisional := &wire.Message{
		ID:             now.UnixMilli(),
		ConversationID: conversationID,
		SenderID:       e.identity.UserID,
		SenderName:     e.identity.FullName,
		Content:        content,
		MessageType:    wire.TypeText,
		CreatedAt:      now,
	}
	e.store.AddProvisional(provisional)
	e.notify()

	e.stopTyping(conversationID)

	cmd := &wire.SendCommand{
		ConversationID: conversationID,
		Content:        content,
		MessageType:    wire.TypeText,
	}
	err := e.live.Publish(wire.SendDest, cmd)
	if err == nil {
		return nil
	}
	if !errors.Is(err, conn.ErrNotConnected) {
		return fmt.Errorf("send: %w", err)
	}

	// Offline: the REST path returns the confirmed message directly, which
	// reconciles against the provisional entry like an echo would.
	msg, err := e.api.SendMessage(ctx, cmd)
	if err != nil {
		return fmt.Errorf("send fallback: %w", err)
	}
	e.store.Apply(msg)
	e.notify()
	return nil
}

// EditMessage changes a message's content through the REST API and applies the
// result locally.
func (e *Engine) EditMessage(ctx context.Context, messageID int64, content string) error {
	msg, err := e.api.UpdateMessage(ctx, messageID, content)
	if err != nil {
		return fmt.Errorf("edit: %w", err)
	}
	e.store.ApplyUpdate(msg)
	e.notify()
	return nil
}

// DeleteMessage removes a message. The local entry is tombstoned immediately;
// the live channel carries the delete to the peer, with REST as the offline
// fallback.
func (e *Engine) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	e.store.ApplyDelete(conversationID, messageID)
	e.notify()

	err := e.live.Publish(wire.DeleteDest, &wire.DeleteCommand{
		MessageID:      messageID,
		ConversationID: conversationID,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, conn.ErrNotConnected) {
		return fmt.Errorf("delete: %w", err)
	}
	if err := e.api.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete fallback: %w", err)
	}
	return nil
}

// MarkRead clears a conversation's unread counter. The server-side mark is
// best effort and is never rolled back locally on failure.
func (e *Engine) MarkRead(conversationID int64) {
	e.store.ClearUnread(conversationID)
	e.notify()
	go e.markReadRemote(conversationID)
}

func (e *Engine) markReadRemote(conversationID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.api.MarkRead(ctx, conversationID); err != nil {
		e.logger.Warn("mark read failed",
			zap.Error(err),
			zap.Int64("conversation_id", conversationID),
		)
	}
}

// SetTyping signals that the user is composing in a conversation. The first
// call announces typing; further calls within the idle window only push the
// stop timer out. The stop announcement goes out on idle or on send.
func (e *Engine) SetTyping(conversationID int64) {
	e.mu.Lock()
	announced := e.typingSent[conversationID]
	e.typingSent[conversationID] = true
	e.mu.Unlock()

	if !announced {
		if err := e.live.Publish(wire.TypingDest, &wire.TypingCommand{
			ConversationID: conversationID,
			IsTyping:       true,
		}); err != nil {
			e.logger.Debug("typing announce failed", zap.Error(err))
		}
	}
	e.sched.Schedule(typingIdleKey(conversationID), e.cfg.TypingIdle.Std(), func() {
		e.stopTyping(conversationID)
	})
}

func (e *Engine) stopTyping(conversationID int64) {
	e.mu.Lock()
	announced := e.typingSent[conversationID]
	delete(e.typingSent, conversationID)
	e.mu.Unlock()

	e.sched.Cancel(typingIdleKey(conversationID))
	if !announced {
		return
	}
	if err := e.live.Publish(wire.TypingDest, &wire.TypingCommand{
		ConversationID: conversationID,
		IsTyping:       false,
	}); err != nil {
		e.logger.Debug("typing stop failed", zap.Error(err))
	}
}

func typingIdleKey(conversationID int64) string {
	return fmt.Sprintf("chat/typing-idle/%d", conversationID)
}

// Snapshot is a consistent read of everything the UI renders.
type Snapshot struct {
	Conversations []store.Conversation
	Active        int64
	Messages      []store.Message
	TypingPeers   []int64
	Online        []int64
	State         status.State
}

// Snapshot captures the current view state.
func (e *Engine) Snapshot() Snapshot {
	active := e.ActiveConversation()
	snap := Snapshot{
		Conversations: e.store.Conversations(),
		Active:        active,
		Online:        e.presence.Online(),
		State:         e.machine.Current(),
	}
	if active != 0 {
		snap.Messages = e.store.Messages(active)
		snap.TypingPeers = e.typing.Peers(active)
	}
	return snap
}

// Identity returns the authenticated user.
func (e *Engine) Identity() *rest.Identity {
	return e.identity
}

func (e *Engine) notify() {
	e.bus.Publish(bus.Event{Kind: bus.StateChanged, Timestamp: time.Now()})
}

// Close announces the user offline, tears the live channel down, and stops the
// dispatch loop. Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if err := e.live.Publish(wire.OfflineDest, &wire.PresenceAnnounce{UserID: e.identity.UserID}); err != nil && !errors.Is(err, conn.ErrNotConnected) {
			e.logger.Debug("offline announce failed", zap.Error(err))
		}
		e.live.Disconnect()
		if e.cancel != nil {
			e.cancel()
			<-e.done
		}
	})
}
