// Package tui is the terminal frontend. It renders engine snapshots and
// redraws whenever the bus signals a state change; it never touches the
// transport or the store directly.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/coursemgmt/educhat/internal/bus"
	"github.com/coursemgmt/educhat/internal/chat"
	"github.com/coursemgmt/educhat/internal/tui/views"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	engine    *chat.Engine
	bus       *bus.Bus
	convList  *views.ConversationList
	msgView   *views.MessageView
	composer  *views.Composer
	statusBar *views.StatusBar
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(engine *chat.Engine, b *bus.Bus, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		engine:    engine,
		bus:       b,
		convList:  views.NewConversationList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		statusBar: views.NewStatusBar(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profile)
	a.msgView.SetSelf(engine.Identity().UserID)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.convList.SetOnSelect(func(conversationID int64) {
		a.openConversation(conversationID)
	})

	a.composer.SetOnSend(func(text string) {
		conversationID := a.engine.ActiveConversation()
		if conversationID == 0 {
			return
		}
		go func() {
			if err := a.engine.Send(a.ctx, conversationID, text); err != nil {
				a.app.QueueUpdateDraw(func() {
					a.statusBar.Flash("Send failed: "+err.Error(), 5*time.Second)
				})
			}
		}()
	})

	a.composer.SetOnTyping(func() {
		if conversationID := a.engine.ActiveConversation(); conversationID != 0 {
			a.engine.SetTyping(conversationID)
		}
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "chat" {
			a.pages.SwitchToPage("conversations")
			a.app.SetFocus(a.convList)
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.Stop()
				return nil
			case 'i':
				if currentPage == "chat" {
					a.app.SetFocus(a.composer.InputField)
					return nil
				}
			}
		}

		return event
	})
}

func (a *App) openConversation(conversationID int64) {
	go func() {
		if err := a.engine.SelectConversation(a.ctx, conversationID); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.statusBar.Flash("Load failed: "+err.Error(), 5*time.Second)
			})
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.refresh()
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

// refresh re-renders every view from a fresh engine snapshot. Must run on the
// UI goroutine.
func (a *App) refresh() {
	snap := a.engine.Snapshot()

	online := make(map[int64]bool, len(snap.Online))
	for _, id := range snap.Online {
		online[id] = true
	}
	a.convList.Update(snap.Conversations, online)
	a.statusBar.SetState(snap.State)

	if snap.Active == 0 {
		return
	}
	name := fmt.Sprintf("conversation %d", snap.Active)
	peerNames := make(map[int64]string)
	for _, c := range snap.Conversations {
		if c.Other == nil {
			continue
		}
		peerNames[c.Other.ID] = c.Other.FullName
		if c.ID == snap.Active && c.Other.FullName != "" {
			name = c.Other.FullName
			if online[c.Other.ID] {
				name += " [green]●[-]"
			}
		}
	}
	var typing []string
	for _, peer := range snap.TypingPeers {
		if n := peerNames[peer]; n != "" {
			typing = append(typing, n)
		} else {
			typing = append(typing, fmt.Sprintf("user %d", peer))
		}
	}
	a.msgView.SetConversationName(name)
	a.msgView.Update(snap.Messages, typing)
}

// Run starts the TUI application and blocks until Stop.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("state.", 64)
	go func() {
		defer unsub()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-events:
				// Drain the burst so one redraw covers it.
				for len(events) > 0 {
					<-events
				}
				a.app.QueueUpdateDraw(a.refresh)
			case <-ticker.C:
				// Clock, flash expiry, and typing TTL all need a periodic tick.
				a.app.QueueUpdateDraw(a.refresh)
			}
		}
	}()

	a.app.QueueUpdateDraw(a.refresh)
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
