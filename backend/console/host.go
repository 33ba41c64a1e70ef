package console

import (
	"github.com/adwski/whiteboard/backend/model"
	"github.com/adwski/whiteboard/backend/storage/file"
)

// Host is the manager-only part of the session.
type Host interface {
	Kick(requester, target string) error
	ResetHistory(requester string, history []model.Drawable) error
}

// RegisterHost adds the manager commands: join decisions, kicking and
// board replacement.
func (c *Console) RegisterHost(h Host, a *Approver) {
	c.Register("approve", "/approve username", func(args []string) error {
		if len(args) != 1 {
			return ErrUsage
		}
		return a.Decide(args[0], true)
	})
	c.Register("deny", "/deny username", func(args []string) error {
		if len(args) != 1 {
			return ErrUsage
		}
		return a.Decide(args[0], false)
	})
	c.Register("pending", "/pending", func([]string) error {
		for _, username := range a.Pending() {
			c.printf("  %s\n", username)
		}
		return nil
	})
	c.Register("kick", "/kick username", func(args []string) error {
		if len(args) != 1 {
			return ErrUsage
		}
		return h.Kick(c.self, args[0])
	})
	c.Register("new", "/new", func([]string) error {
		return h.ResetHistory(c.self, nil)
	})
	c.Register("open", "/open path", func(args []string) error {
		if len(args) != 1 {
			return ErrUsage
		}
		history, err := file.Load(args[0])
		if err != nil {
			return err
		}
		if err = h.ResetHistory(c.self, history); err != nil {
			return err
		}
		c.printf("opened %s, %d item(s)\n", args[0], len(history))
		return nil
	})
}

// ManagerSubmitter submits input on behalf of the session's manager.
type ManagerSubmitter struct {
	Session interface {
		SubmitDraw(from string, d model.Drawable) error
		SubmitChat(from, text string) error
	}
	Username string
}

func (m ManagerSubmitter) SubmitDraw(d model.Drawable) error {
	return m.Session.SubmitDraw(m.Username, d)
}

func (m ManagerSubmitter) SubmitChat(text string) error {
	return m.Session.SubmitChat(m.Username, text)
}
