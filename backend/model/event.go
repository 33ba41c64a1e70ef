package model

import "slices"

// Event types pushed by the session to participants.
const (
	EventTypeDraw        = "draw"
	EventTypeChat        = "chat"
	EventTypeNotice      = "notice"
	EventTypeRoster      = "roster"
	EventTypeSnapshot    = "snapshot"
	EventTypeKicked      = "kicked"
	EventTypeManagerLeft = "manager_left"

	// EventTypeDenied is only written by the transport, as the answer to
	// a join request that did not go through.
	EventTypeDenied = "denied"
)

type Event struct {
	Type      string     `json:"type"`
	Drawable  *Drawable  `json:"drawable,omitempty"`
	From      string     `json:"from,omitempty"`
	Text      string     `json:"text,omitempty"`
	Usernames []string   `json:"usernames,omitempty"`
	History   []Drawable `json:"history,omitempty"`
}

func DrawEvent(d Drawable) Event {
	d = d.Clone()
	return Event{Type: EventTypeDraw, Drawable: &d}
}

func ChatEvent(from, text string) Event {
	return Event{Type: EventTypeChat, From: from, Text: text}
}

func NoticeEvent(text string) Event {
	return Event{Type: EventTypeNotice, Text: text}
}

func RosterEvent(usernames []string) Event {
	return Event{Type: EventTypeRoster, Usernames: slices.Clone(usernames)}
}

func SnapshotEvent(history []Drawable) Event {
	return Event{Type: EventTypeSnapshot, History: CloneHistory(history)}
}

func KickedEvent() Event {
	return Event{Type: EventTypeKicked}
}

func ManagerLeftEvent() Event {
	return Event{Type: EventTypeManagerLeft}
}

func DeniedEvent(reason string) Event {
	return Event{Type: EventTypeDenied, Text: reason}
}

// Terminal reports whether the receiving participant's session view ends
// with this event.
func (ev Event) Terminal() bool {
	return ev.Type == EventTypeKicked || ev.Type == EventTypeManagerLeft || ev.Type == EventTypeDenied
}

// Clone deep-copies the event so that every receiver owns its payload.
func (ev Event) Clone() Event {
	out := ev
	if ev.Drawable != nil {
		d := ev.Drawable.Clone()
		out.Drawable = &d
	}
	if ev.Usernames != nil {
		out.Usernames = slices.Clone(ev.Usernames)
	}
	if ev.History != nil {
		out.History = CloneHistory(ev.History)
	}
	return out
}
