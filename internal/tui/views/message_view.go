package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/coursemgmt/educhat/internal/store"
)

// MessageView renders the message history of the active conversation.
type MessageView struct {
	*tview.TextView
	selfID int64
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	return &MessageView{TextView: tv}
}

// SetSelf sets the id used to tell own messages from the peer's.
func (mv *MessageView) SetSelf(id int64) {
	mv.selfID = id
}

// SetConversationName updates the view title.
func (mv *MessageView) SetConversationName(name string) {
	mv.SetTitle(" " + name + " ")
}

// Update re-renders the history. typing lists the display names of peers
// currently composing.
func (mv *MessageView) Update(msgs []store.Message, typing []string) {
	var b strings.Builder
	for _, m := range msgs {
		ts := m.CreatedAt.Format("15:04")
		sender := m.SenderName
		if sender == "" {
			sender = fmt.Sprintf("user %d", m.SenderID)
		}

		switch {
		case m.IsDeleted:
			fmt.Fprintf(&b, "[gray]%s[-] [aqua]%s[-]: [::d]message deleted[-:-:-]\n", ts, tview.Escape(sender))
		default:
			fmt.Fprintf(&b, "[gray]%s[-] [aqua]%s[-]: %s", ts, tview.Escape(sender), tview.Escape(m.Content))
			if m.IsEdited {
				b.WriteString(" [gray](edited)[-]")
			}
			if m.SenderID == mv.selfID {
				switch {
				case m.Provisional:
					b.WriteString(" [gray]…[-]")
				case m.IsRead:
					b.WriteString(" [green]✓✓[-]")
				default:
					b.WriteString(" [gray]✓[-]")
				}
			}
			b.WriteString("\n")
		}
	}
	if len(typing) > 0 {
		fmt.Fprintf(&b, "[green]%s typing…[-]\n", strings.Join(typing, ", "))
	}

	mv.SetText(b.String())
	mv.ScrollToEnd()
}
