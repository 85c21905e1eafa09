package views

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"

	"github.com/coursemgmt/educhat/internal/status"
)

// StatusBar displays the profile, the connection state, and transient
// notifications.
type StatusBar struct {
	*tview.TextView
	mu           sync.Mutex
	profile      string
	state        status.State
	flash        string
	flashExpires time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, state: status.Disconnected}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.mu.Lock()
	sb.profile = name
	sb.mu.Unlock()
	sb.render()
}

// SetState updates the connection state display.
func (sb *StatusBar) SetState(s status.State) {
	sb.mu.Lock()
	sb.state = s
	sb.mu.Unlock()
	sb.render()
}

// Flash shows a temporary message that disappears after d.
func (sb *StatusBar) Flash(msg string, d time.Duration) {
	sb.mu.Lock()
	sb.flash = msg
	sb.flashExpires = time.Now().Add(d)
	sb.mu.Unlock()
	sb.render()
}

func (sb *StatusBar) render() {
	sb.mu.Lock()
	profile := sb.profile
	state := sb.state
	flash := sb.flash
	if time.Now().After(sb.flashExpires) {
		flash = ""
	}
	sb.mu.Unlock()

	var conn string
	switch state {
	case status.Connected:
		conn = "[green]online[-]"
	case status.Connecting:
		conn = "[yellow]connecting…[-]"
	case status.Reconnecting:
		conn = "[orange]reconnecting…[-]"
	default:
		conn = "[red]offline[-]"
	}

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", profile, conn, clock)
	if flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(flash))
	}

	sb.Clear()
	_, _ = fmt.Fprint(sb, line)
}
