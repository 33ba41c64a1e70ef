package client

import (
	"slices"
	"sync"

	"github.com/adwski/whiteboard/backend/model"
)

// Board is a participant's replica of the session. A snapshot replaces the
// history, draw events extend it. Every update is passed on to the optional
// next handler after the replica has been updated.
type Board struct {
	mx      sync.RWMutex
	history []model.Drawable
	roster  []string
	lines   []string
	ended   string
	next    Handler
}

func NewBoard(next Handler) *Board {
	return &Board{next: next}
}

func (b *Board) OnDraw(d model.Drawable) {
	b.mx.Lock()
	b.history = append(b.history, d.Clone())
	b.mx.Unlock()
	if b.next != nil {
		b.next.OnDraw(d)
	}
}

func (b *Board) OnHistorySnapshot(history []model.Drawable) {
	b.mx.Lock()
	b.history = model.CloneHistory(history)
	b.mx.Unlock()
	if b.next != nil {
		b.next.OnHistorySnapshot(history)
	}
}

func (b *Board) OnChat(from, text string) {
	b.appendLine(from + ": " + text)
	if b.next != nil {
		b.next.OnChat(from, text)
	}
}

func (b *Board) OnSystemNotice(text string) {
	b.appendLine(text)
	if b.next != nil {
		b.next.OnSystemNotice(text)
	}
}

func (b *Board) OnRosterUpdate(usernames []string) {
	b.mx.Lock()
	b.roster = slices.Clone(usernames)
	b.mx.Unlock()
	if b.next != nil {
		b.next.OnRosterUpdate(usernames)
	}
}

func (b *Board) OnKicked() {
	b.end(model.EventTypeKicked)
	if b.next != nil {
		b.next.OnKicked()
	}
}

func (b *Board) OnManagerLeft() {
	b.end(model.EventTypeManagerLeft)
	if b.next != nil {
		b.next.OnManagerLeft()
	}
}

func (b *Board) appendLine(line string) {
	b.mx.Lock()
	b.lines = append(b.lines, line)
	b.mx.Unlock()
}

func (b *Board) end(reason string) {
	b.mx.Lock()
	if b.ended == "" {
		b.ended = reason
	}
	b.mx.Unlock()
}

// History returns a deep copy of the local history.
func (b *Board) History() []model.Drawable {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return model.CloneHistory(b.history)
}

func (b *Board) Roster() []string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return slices.Clone(b.roster)
}

// Lines returns chat and notice lines in arrival order.
func (b *Board) Lines() []string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return slices.Clone(b.lines)
}

// Ended returns the event type that ended this view, if any.
func (b *Board) Ended() (string, bool) {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.ended, b.ended != ""
}
