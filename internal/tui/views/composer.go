package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the message input line.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onTyping func()
}

// NewComposer creates a new composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldBackgroundColor(tcell.ColorDefault)

	c := &Composer{InputField: input}
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(input.GetText())
		if text == "" || c.onSend == nil {
			return
		}
		input.SetText("")
		c.onSend(text)
	})
	input.SetChangedFunc(func(text string) {
		if text != "" && c.onTyping != nil {
			c.onTyping()
		}
	})
	return c
}

// SetOnSend sets the callback fired when the user submits a message.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnTyping sets the callback fired while the user is composing.
func (c *Composer) SetOnTyping(fn func()) {
	c.onTyping = fn
}
