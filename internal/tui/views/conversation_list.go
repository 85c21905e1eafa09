package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/coursemgmt/educhat/internal/store"
)

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	convs      []store.Conversation
	selectedFn func() (int, int)
	onSelect   func(conversationID int64)
}

// NewConversationList creates a new conversation table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	cl := &ConversationList{Table: table}
	cl.selectedFn = table.GetSelection
	table.SetSelectedFunc(func(row, col int) {
		if cl.onSelect == nil {
			return
		}
		if id := cl.Selected(); id != 0 {
			cl.onSelect(id)
		}
	})
	return cl
}

// SetOnSelect sets the callback when a conversation is chosen.
func (cl *ConversationList) SetOnSelect(fn func(conversationID int64)) {
	cl.onSelect = fn
}

// Update refreshes the table with new data. online holds the ids of peers
// currently online.
func (cl *ConversationList) Update(convs []store.Conversation, online map[int64]bool) {
	cl.convs = convs
	cl.Clear()

	// Header row.
	cl.SetCell(0, 0, tview.NewTableCell(" With").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, c := range convs {
		row := i + 1
		name := fmt.Sprintf("conversation %d", c.ID)
		dot := " "
		if c.Other != nil {
			if c.Other.FullName != "" {
				name = c.Other.FullName
			}
			if online[c.Other.ID] {
				dot = "[green]●[-]"
			}
		}
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("[::b]%s (%d)[-:-:-]", name, c.UnreadCount)
		}

		preview := ""
		if c.LastMessage != nil {
			if c.LastMessage.IsDeleted {
				preview = "[::d]message deleted[-:-:-]"
			} else {
				preview = tview.Escape(c.LastMessage.Content)
			}
		}

		cl.SetCell(row, 0, tview.NewTableCell(dot+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+preview).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatWhen(c.LastMessageAt)).SetMaxWidth(12))
	}
}

// Selected returns the id of the currently selected conversation, zero if
// the cursor is not on one.
func (cl *ConversationList) Selected() int64 {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.convs) {
		return cl.convs[idx].ID
	}
	return 0
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
