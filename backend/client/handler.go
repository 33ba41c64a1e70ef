package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/rs/zerolog"
)

var ErrUnknownEvent = errors.New("unknown event")

// Handler receives what the session pushes to a participant.
type Handler interface {
	OnDraw(d model.Drawable)
	OnChat(from, text string)
	OnSystemNotice(text string)
	OnKicked()
	OnManagerLeft()
	OnRosterUpdate(usernames []string)
	OnHistorySnapshot(history []model.Drawable)
}

// Dispatch routes ev to the matching Handler method. Events that cannot be
// applied are reported and left for the caller to log and drop.
func Dispatch(h Handler, ev model.Event) error {
	switch ev.Type {
	case model.EventTypeDraw:
		if ev.Drawable == nil {
			return fmt.Errorf("%w: draw event without drawable", ErrUnknownEvent)
		}
		if err := ev.Drawable.Validate(); err != nil {
			return err
		}
		h.OnDraw(*ev.Drawable)
	case model.EventTypeChat:
		h.OnChat(ev.From, ev.Text)
	case model.EventTypeNotice:
		h.OnSystemNotice(ev.Text)
	case model.EventTypeRoster:
		h.OnRosterUpdate(ev.Usernames)
	case model.EventTypeSnapshot:
		h.OnHistorySnapshot(ev.History)
	case model.EventTypeKicked:
		h.OnKicked()
	case model.EventTypeManagerLeft:
		h.OnManagerLeft()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return nil
}

// Local is an in-process participant handle. The host uses it for the
// manager's own view.
type Local struct {
	h      Handler
	logger zerolog.Logger
}

func NewLocal(h Handler, logger *zerolog.Logger) *Local {
	return &Local{
		h:      h,
		logger: logger.With().Str("component", "local-view").Logger(),
	}
}

func (l *Local) Deliver(_ context.Context, ev model.Event) error {
	if err := Dispatch(l.h, ev); err != nil {
		l.logger.Warn().Err(err).Str("type", ev.Type).Msg("event dropped")
	}
	return nil
}
