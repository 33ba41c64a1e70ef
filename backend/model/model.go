package model

import "context"

// Callback is the registry's handle to a participant. Deliver must not retain
// ev beyond the call unless it owns a copy.
type Callback interface {
	Deliver(ctx context.Context, ev Event) error
}

type Participant struct {
	Username string   `json:"username"`
	ConnID   string   `json:"conn_id"`
	Callback Callback `json:"-"`
}

// Request types sent by participants.
const (
	RequestTypeDraw  = "draw"
	RequestTypeChat  = "chat"
	RequestTypeLeave = "leave"
)

type Request struct {
	Type     string    `json:"type"`
	Drawable *Drawable `json:"drawable,omitempty"`
	Text     string    `json:"text,omitempty"`
}

type Wire struct {
	RX chan Request
	TX chan Event
}

func NewWire(size int) Wire {
	return Wire{
		RX: make(chan Request),
		TX: make(chan Event, size),
	}
}

type JoinResult struct {
	ConnID   string
	Snapshot []Drawable
}

// JoinError is returned for every join that does not go through. Reason is
// what the requester gets to see.
type JoinError struct {
	Reason string
	Err    error
}

func (e *JoinError) Error() string {
	return e.Reason
}

func (e *JoinError) Unwrap() error {
	return e.Err
}
