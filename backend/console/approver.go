package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/gookit/color"
	"github.com/samber/lo"
)

var ErrNoPendingRequest = errors.New("no pending join request")

// Approver asks the manager at the terminal. Decisions arrive through
// Decide, typically from the /approve and /deny commands, so the prompt
// never blocks the console or the session.
type Approver struct {
	mx      sync.Mutex
	out     io.Writer
	pending map[string]chan bool
}

func NewApprover(out io.Writer) *Approver {
	return &Approver{
		out:     out,
		pending: make(map[string]chan bool),
	}
}

func (a *Approver) Approve(ctx context.Context, username string) (bool, error) {
	decision := make(chan bool, 1)

	a.mx.Lock()
	a.pending[username] = decision
	_, _ = fmt.Fprintln(a.out, color.Magenta.Sprintf(
		"%s wants to join your whiteboard. Approve? (/approve %s or /deny %s)", username, username, username))
	a.mx.Unlock()

	defer func() {
		a.mx.Lock()
		if a.pending[username] == decision {
			delete(a.pending, username)
		}
		a.mx.Unlock()
	}()

	select {
	case ok := <-decision:
		return ok, nil
	case <-ctx.Done():
		a.mx.Lock()
		_, _ = fmt.Fprintln(a.out, color.Gray.Sprintf("join request from %s expired", username))
		a.mx.Unlock()
		return false, ctx.Err()
	}
}

func (a *Approver) Decide(username string, approve bool) error {
	a.mx.Lock()
	defer a.mx.Unlock()

	decision, ok := a.pending[username]
	if !ok {
		return fmt.Errorf("%w from %q", ErrNoPendingRequest, username)
	}
	delete(a.pending, username)
	decision <- approve
	return nil
}

// Pending lists usernames waiting for a decision, sorted.
func (a *Approver) Pending() []string {
	a.mx.Lock()
	defer a.mx.Unlock()
	usernames := lo.Keys(a.pending)
	slices.Sort(usernames)
	return usernames
}
