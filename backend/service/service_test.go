package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/adwski/whiteboard/backend/model"
	sw "github.com/adwski/whiteboard/backend/switch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manager = "host"

type recorder struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (r *recorder) Deliver(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) types() []string {
	var out []string
	for _, ev := range r.all() {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) ofType(typ string) []model.Event {
	var out []model.Event
	for _, ev := range r.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) notices() []string {
	var out []string
	for _, ev := range r.ofType(model.EventTypeNotice) {
		out = append(out, ev.Text)
	}
	return out
}

type approver struct {
	mu     sync.Mutex
	asked  []string
	prompt chan string
	decide func(ctx context.Context, username string) (bool, error)
}

func approveAll() *approver {
	return &approver{decide: func(context.Context, string) (bool, error) { return true, nil }}
}

func (a *approver) Approve(ctx context.Context, username string) (bool, error) {
	a.mu.Lock()
	a.asked = append(a.asked, username)
	a.mu.Unlock()
	if a.prompt != nil {
		a.prompt <- username
	}
	return a.decide(ctx, username)
}

func (a *approver) askedFor() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.asked...)
}

type journal struct {
	mu       sync.Mutex
	appended []int
	replaced [][]model.Drawable
}

func (j *journal) Append(seq int, _ model.Drawable) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appended = append(j.appended, seq)
	return nil
}

func (j *journal) Replace(history []model.Drawable) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.replaced = append(j.replaced, history)
	return nil
}

type fixture struct {
	s        *Session
	host     *recorder
	approver *approver
	journal  *journal
}

func newFixture(t *testing.T, a *approver, history []model.Drawable, timeout time.Duration) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &fixture{host: &recorder{}, approver: a, journal: &journal{}}
	s, err := NewSession(Config{
		Manager:         manager,
		ManagerCallback: f.host,
		Approver:        a,
		Switch:          sw.NewSwitch(sw.Config{Logger: &logger}),
		Journal:         f.journal,
		History:         history,
		ApprovalTimeout: timeout,
		Logger:          &logger,
	})
	require.NoError(t, err)
	f.s = s
	return f
}

func (f *fixture) join(t *testing.T, username string) *recorder {
	t.Helper()
	r := &recorder{}
	_, err := f.s.Join(context.Background(), username, r)
	require.NoError(t, err)
	return r
}

func text(s string) model.Drawable {
	return model.NewText(model.Point{X: 1, Y: 1}, s, model.Black, 12)
}

func TestNewSession_Config(t *testing.T) {
	logger := zerolog.Nop()
	_, err := NewSession(Config{Manager: manager, Logger: &logger})
	assert.ErrorIs(t, err, ErrConfig)

	f := newFixture(t, approveAll(), []model.Drawable{text("a"), {Kind: "sticker"}, text("b")}, 0)
	assert.Equal(t, manager, f.s.Manager())
	assert.Equal(t, []string{manager}, f.s.Roster())
	assert.Equal(t, []model.Drawable{text("a"), text("b")}, f.s.History())

	f.s.Shutdown()
	require.Equal(t, []string{model.EventTypeSnapshot, model.EventTypeRoster}, f.host.types())
	assert.Len(t, f.host.all()[0].History, 2)
}

func TestSession_JoinApproved(t *testing.T) {
	f := newFixture(t, approveAll(), []model.Drawable{text("first")}, 0)

	bob := &recorder{}
	res, err := f.s.Join(context.Background(), "bob", bob)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ConnID)
	assert.Equal(t, []model.Drawable{text("first")}, res.Snapshot)
	assert.Equal(t, []string{"bob"}, f.approver.askedFor())
	assert.Equal(t, []string{manager, "bob"}, f.s.Roster())

	f.s.Shutdown()

	events := bob.all()
	require.Len(t, events, 4)
	assert.Equal(t, model.EventTypeSnapshot, events[0].Type)
	assert.Equal(t, []model.Drawable{text("first")}, events[0].History)
	assert.Equal(t, model.RosterEvent([]string{manager, "bob"}), events[1])
	assert.Equal(t, model.NoticeEvent("bob joined."), events[2])
	assert.Equal(t, model.EventTypeManagerLeft, events[3].Type)

	assert.Equal(t, []string{"bob joined."}, f.host.notices())
	rosters := f.host.ofType(model.EventTypeRoster)
	require.Len(t, rosters, 2)
	assert.Equal(t, []string{manager, "bob"}, rosters[1].Usernames)
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	f := newFixture(t, approveAll(), []model.Drawable{text("original")}, 0)
	defer f.s.Shutdown()

	res, err := f.s.Join(context.Background(), "bob", &recorder{})
	require.NoError(t, err)
	res.Snapshot[0].Text.Content = "tampered"

	assert.Equal(t, "original", f.s.History()[0].Text.Content)
}

func TestSession_DuplicateUsernameIsNotPrompted(t *testing.T) {
	f := newFixture(t, approveAll(), nil, 0)
	defer f.s.Shutdown()
	f.join(t, "bob")

	for _, username := range []string{"bob", manager} {
		_, err := f.s.Join(context.Background(), username, &recorder{})
		assert.ErrorIs(t, err, ErrUsernameTaken)

		var joinErr *model.JoinError
		require.ErrorAs(t, err, &joinErr)
		assert.Equal(t, ErrUsernameTaken.Error(), joinErr.Reason)
	}
	assert.Equal(t, []string{"bob"}, f.approver.askedFor())
	assert.Equal(t, []string{manager, "bob"}, f.s.Roster())
}

func TestSession_InvalidUsername(t *testing.T) {
	f := newFixture(t, approveAll(), nil, 0)
	defer f.s.Shutdown()

	for _, username := range []string{"", "   ", " bob"} {
		_, err := f.s.Join(context.Background(), username, &recorder{})
		assert.ErrorIs(t, err, ErrInvalidUsername, "%q", username)
	}
	assert.Empty(t, f.approver.askedFor())
}

func TestSession_JoinDenied(t *testing.T) {
	a := &approver{decide: func(context.Context, string) (bool, error) { return false, nil }}
	f := newFixture(t, a, nil, 0)

	_, err := f.s.Join(context.Background(), "mallory", &recorder{})
	assert.ErrorIs(t, err, ErrDenied)
	assert.EqualError(t, err, ErrDenied.Error())
	assert.Equal(t, []string{manager}, f.s.Roster())

	f.s.Shutdown()
	assert.Empty(t, f.host.notices())
	assert.Len(t, f.host.ofType(model.EventTypeRoster), 1)
}

func TestSession_ConcurrentJoinForSameUsernameIsRejected(t *testing.T) {
	release := make(chan struct{})
	a := &approver{
		prompt: make(chan string, 1),
		decide: func(ctx context.Context, _ string) (bool, error) {
			<-release
			return true, nil
		},
	}
	f := newFixture(t, a, nil, 0)
	defer f.s.Shutdown()

	done := make(chan error, 1)
	go func() {
		_, err := f.s.Join(context.Background(), "bob", &recorder{})
		done <- err
	}()
	assert.Equal(t, "bob", <-a.prompt)

	_, err := f.s.Join(context.Background(), "bob", &recorder{})
	assert.ErrorIs(t, err, ErrJoinPending)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"bob"}, a.askedFor())
}

func TestSession_ApprovalTimeoutIsDenial(t *testing.T) {
	a := &approver{decide: func(ctx context.Context, _ string) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}}
	f := newFixture(t, a, nil, 20*time.Millisecond)
	defer f.s.Shutdown()

	_, err := f.s.Join(context.Background(), "bob", &recorder{})
	assert.ErrorIs(t, err, ErrDenied)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{manager}, f.s.Roster())

	// The username is free again afterwards.
	a.decide = func(context.Context, string) (bool, error) { return true, nil }
	_, err = f.s.Join(context.Background(), "bob", &recorder{})
	assert.NoError(t, err)
}

func TestSession_RequesterGoneIsDenial(t *testing.T) {
	a := &approver{
		prompt: make(chan string, 1),
		decide: func(ctx context.Context, _ string) (bool, error) {
			<-ctx.Done()
			return true, nil
		},
	}
	f := newFixture(t, a, nil, 0)
	defer f.s.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.s.Join(ctx, "bob", &recorder{})
		done <- err
	}()
	<-a.prompt
	cancel()

	err := <-done
	assert.ErrorIs(t, err, ErrDenied)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{manager}, f.s.Roster())
}

func TestSession_ShutdownAbortsPendingJoin(t *testing.T) {
	a := &approver{
		prompt: make(chan string, 1),
		decide: func(ctx context.Context, _ string) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
	}
	f := newFixture(t, a, nil, 0)

	done := make(chan error, 1)
	go func() {
		_, err := f.s.Join(context.Background(), "bob", &recorder{})
		done <- err
	}()
	<-a.prompt
	f.s.Shutdown()

	err := <-done
	assert.ErrorIs(t, err, ErrSessionClosed)
	var joinErr *model.JoinError
	require.ErrorAs(t, err, &joinErr)
	assert.Equal(t, ErrSessionClosed.Error(), joinErr.Reason)
}

func TestSession_Kick(t *testing.T) {
	f := newFixture(t, approveAll(), nil, 0)
	bob := f.join(t, "bob")
	alice := f.join(t, "alice")

	assert.ErrorIs(t, f.s.Kick("alice", "bob"), ErrNotManager)
	assert.ErrorIs(t, f.s.Kick(manager, manager), ErrKickManager)
	assert.ErrorIs(t, f.s.Kick(manager, "carol"), ErrUnknownParticipant)
	assert.Equal(t, []string{manager, "bob", "alice"}, f.s.Roster())

	require.NoError(t, f.s.Kick(manager, "bob"))
	assert.Equal(t, []string{manager, "alice"}, f.s.Roster())
	assert.ErrorIs(t, f.s.Kick(manager, "bob"), ErrUnknownParticipant)

	f.s.Shutdown()

	bobEvents := bob.all()
	require.NotEmpty(t, bobEvents)
	assert.Equal(t, model.EventTypeKicked, bobEvents[len(bobEvents)-1].Type)
	assert.Empty(t, bob.ofType(model.EventTypeManagerLeft))

	assert.Equal(t, []string{"alice joined.", "bob was kicked."}, alice.notices())
	rosters := alice.ofType(model.EventTypeRoster)
	assert.Equal(t, []string{manager, "alice"}, rosters[len(rosters)-1].Usernames)
	assert.Equal(t, []string{"bob joined.", "alice joined.", "bob was kicked."}, f.host.notices())
}

func TestSession_Leave(t *testing.T) {
	f := newFixture(t, approveAll(), nil, 0)
	f.join(t, "bob")
	alice := f.join(t, "alice")

	f.s.Leave("bob")
	f.s.Leave("bob")
	f.s.Leave("nobody")
	assert.Equal(t, []string{manager, "alice"}, f.s.Roster())

	f.s.Shutdown()
	assert.Equal(t, []string{"alice joined.", "bob left."}, alice.notices())
}

func TestSession_DropIgnoresStaleConnection(t *testing.T) {
	f := newFixture(t, approveAll(), nil, 0)
	defer f.s.Shutdown()

	first, err := f.s.Join(context.Background(), "bob", &recorder{})
	require.NoError(t, err)
	f.s.Leave("bob")
	second, err := f.s.Join(context.Background(), "bob", &recorder{})
	require.NoError(t, err)
	require.NotEqual(t, first.ConnID, second.ConnID)

	f.s.Drop("bob", first.ConnID)
	assert.Equal(t, []string{manager, "bob"}, f.s.Roster())

	f.s.Drop("bob", second.ConnID)
	assert.Equal(t, []string{manager}, f.s.Roster())

	f.s.Drop(manager, "whatever")
	assert.False(t, f.s.Closed())
}

func TestSession_UnreachableParticipantIsEvicted(t *testing.T) {
	f := newFixture(t, approveAll(), nil, 0)
	defer f.s.Shutdown()

	_, err := f.s.Join(context.Background(), "ghost", &recorder{err: errors.New("broken pipe")})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(f.s.Roster()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		n := f.host.notices()
		return len(n) == 2 && n[1] == "ghost left."
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_ManagerLeaving(t *testing.T) {
	f := newFixture(t, approveAll(), nil, 0)
	bob := f.join(t, "bob")

	f.s.Leave(manager)
	assert.True(t, f.s.Closed())
	assert.Empty(t, f.s.Roster())

	events := bob.all()
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventTypeManagerLeft, events[len(events)-1].Type)
	assert.Empty(t, f.host.ofType(model.EventTypeManagerLeft))

	_, err := f.s.Join(context.Background(), "carol", &recorder{})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, f.s.SubmitDraw("bob", text("x")), ErrSessionClosed)
	assert.ErrorIs(t, f.s.SubmitChat("bob", "hello?"), ErrSessionClosed)
	assert.ErrorIs(t, f.s.Kick(manager, "bob"), ErrSessionClosed)
	assert.ErrorIs(t, f.s.ResetHistory(manager, nil), ErrSessionClosed)

	// Idempotent.
	f.s.Shutdown()
}

func TestSession_SubmitDraw(t *testing.T) {
	f := newFixture(t, approveAll(), []model.Drawable{text("seed")}, 0)
	bob := f.join(t, "bob")

	require.NoError(t, f.s.SubmitDraw("bob", text("one")))
	require.NoError(t, f.s.SubmitDraw(manager, text("two")))

	assert.ErrorIs(t, f.s.SubmitDraw("bob", model.Drawable{Kind: "sticker"}), model.ErrUnknownKind)
	assert.ErrorIs(t, f.s.SubmitDraw("bob", model.NewStroke(nil, model.Black, 1)), model.ErrInvalidDrawable)
	assert.ErrorIs(t, f.s.SubmitDraw("eve", text("intruder")), ErrNotAMember)

	assert.Equal(t, []model.Drawable{text("seed"), text("one"), text("two")}, f.s.History())
	assert.Equal(t, []int{1, 2}, f.journal.appended)

	f.s.Shutdown()

	// The sender receives its own drawable too.
	for _, r := range []*recorder{bob, f.host} {
		draws := r.ofType(model.EventTypeDraw)
		require.Len(t, draws, 2)
		assert.Equal(t, "one", draws[0].Drawable.Text.Content)
		assert.Equal(t, "two", draws[1].Drawable.Text.Content)
	}
}

func TestSession_DrawOrderIsGlobal(t *testing.T) {
	f := newFixture(t, approveAll(), nil, 0)
	members := map[string]*recorder{manager: f.host}
	for _, u := range []string{"alice", "bob", "carol"} {
		members[u] = f.join(t, u)
	}

	const perMember = 50
	var wg sync.WaitGroup
	for username := range members {
		wg.Add(1)
		go func(username string) {
			defer wg.Done()
			for i := 0; i < perMember; i++ {
				assert.NoError(t, f.s.SubmitDraw(username, text(fmt.Sprintf("%s-%d", username, i))))
			}
		}(username)
	}
	wg.Wait()

	history := f.s.History()
	require.Len(t, history, perMember*len(members))
	f.s.Shutdown()

	var want []string
	for _, d := range history {
		want = append(want, d.Text.Content)
	}
	for username, r := range members {
		var got []string
		for _, ev := range r.ofType(model.EventTypeDraw) {
			got = append(got, ev.Drawable.Text.Content)
		}
		assert.Equal(t, want, got, username)
	}
}

func TestSession_SubmitChat(t *testing.T) {
	f := newFixture(t, approveAll(), nil, 0)
	bob := f.join(t, "bob")

	require.NoError(t, f.s.SubmitChat("bob", "  hi all  "))
	assert.ErrorIs(t, f.s.SubmitChat("bob", "   "), ErrEmptyMessage)
	assert.ErrorIs(t, f.s.SubmitChat("eve", "hi"), ErrNotAMember)

	f.s.Shutdown()
	for _, r := range []*recorder{bob, f.host} {
		assert.Equal(t, []model.Event{model.ChatEvent("bob", "hi all")}, r.ofType(model.EventTypeChat))
	}
}

func TestSession_ResetHistory(t *testing.T) {
	f := newFixture(t, approveAll(), []model.Drawable{text("old")}, 0)
	bob := f.join(t, "bob")

	assert.ErrorIs(t, f.s.ResetHistory("bob", nil), ErrNotManager)

	replacement := []model.Drawable{text("new"), {Kind: "sticker"}}
	require.NoError(t, f.s.ResetHistory(manager, replacement))
	assert.Equal(t, []model.Drawable{text("new")}, f.s.History())
	require.Len(t, f.journal.replaced, 1)
	assert.Equal(t, []model.Drawable{text("new")}, f.journal.replaced[0])

	require.NoError(t, f.s.ResetHistory(manager, nil))
	assert.Empty(t, f.s.History())

	f.s.Shutdown()
	snaps := bob.ofType(model.EventTypeSnapshot)
	require.Len(t, snaps, 3)
	assert.Equal(t, []model.Drawable{text("old")}, snaps[0].History)
	assert.Equal(t, []model.Drawable{text("new")}, snaps[1].History)
	assert.Empty(t, snaps[2].History)
}
