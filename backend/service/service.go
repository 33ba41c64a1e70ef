package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/adwski/whiteboard/backend/storage/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrJoinPending        = errors.New("join request for this username is already pending")
	ErrDenied             = errors.New("denied by manager")
	ErrSessionClosed      = errors.New("session is closed")
	ErrNotManager         = errors.New("only the manager can do this")
	ErrKickManager        = errors.New("manager cannot be kicked")
	ErrUnknownParticipant = errors.New("no such participant")
	ErrNotAMember         = errors.New("user is not a member of this session")
	ErrEmptyMessage       = errors.New("empty chat message")
	ErrConfig             = errors.New("invalid session config")
)

type (
	Switch interface {
		Connect(p model.Participant) error
		Disconnect(username string)
		Send(username string, ev model.Event) bool
		Broadcast(ev model.Event, excluding string) int
		SetFailureFunc(fn func(username, connID string))
		Close()
	}

	// Approver asks the manager whether username may join. It must return
	// once ctx is done.
	Approver interface {
		Approve(ctx context.Context, username string) (bool, error)
	}

	// Journal persists history changes. Failures are logged and do not
	// affect the session.
	Journal interface {
		Append(seq int, d model.Drawable) error
		Replace(history []model.Drawable) error
	}

	Config struct {
		Manager         string
		ManagerCallback model.Callback
		Approver        Approver
		Switch          Switch
		Journal         Journal
		History         []model.Drawable
		ApprovalTimeout time.Duration
		Logger          *zerolog.Logger
	}

	// Session is the authoritative state of one hosted whiteboard. Every
	// mutation runs under mx, which gives all participants the same total
	// order of draw events and membership changes.
	Session struct {
		mx       sync.Mutex
		manager  string
		store    *memory.MemStore
		sw       Switch
		approver Approver
		journal  Journal
		pending  map[string]struct{}
		closed   bool

		approvalTimeout time.Duration

		// done is canceled on shutdown to abort pending approvals.
		done   context.Context
		cancel context.CancelFunc

		logger zerolog.Logger
	}
)

func NewSession(cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.Manager) == "" || cfg.ManagerCallback == nil || cfg.Approver == nil || cfg.Switch == nil {
		return nil, ErrConfig
	}
	done, cancel := context.WithCancel(context.Background())
	s := &Session{
		manager:         cfg.Manager,
		store:           memory.NewMemStore(filterValid(cfg.History, cfg.Logger)),
		sw:              cfg.Switch,
		approver:        cfg.Approver,
		journal:         cfg.Journal,
		pending:         make(map[string]struct{}),
		approvalTimeout: cfg.ApprovalTimeout,
		done:            done,
		cancel:          cancel,
		logger:          cfg.Logger.With().Str("component", "session").Logger(),
	}
	s.sw.SetFailureFunc(s.evict)

	manager := model.Participant{
		Username: cfg.Manager,
		ConnID:   uuid.NewString(),
		Callback: cfg.ManagerCallback,
	}
	if err := s.store.AddParticipant(manager); err != nil {
		cancel()
		return nil, errors.Join(ErrConfig, err)
	}
	if err := s.sw.Connect(manager); err != nil {
		cancel()
		return nil, errors.Join(ErrConfig, err)
	}
	s.sw.Send(manager.Username, model.SnapshotEvent(s.store.History()))
	s.broadcastRoster()

	s.logger.Info().
		Str("manager", cfg.Manager).
		Int("history", s.store.HistoryLen()).
		Msg("session started")
	return s, nil
}

func (s *Session) Manager() string {
	return s.manager
}

// Join registers username after the manager approves it. Duplicate
// usernames are rejected without asking the manager. The approval wait
// holds no lock and ends early if ctx is done, which counts as a denial.
// Failures are *model.JoinError wrapping one of the package errors.
func (s *Session) Join(ctx context.Context, username string, cb model.Callback) (model.JoinResult, error) {
	res, err := s.join(ctx, username, cb)
	if err != nil {
		return res, &model.JoinError{Reason: denialReason(err), Err: err}
	}
	return res, nil
}

func (s *Session) join(ctx context.Context, username string, cb model.Callback) (model.JoinResult, error) {
	logger := s.logger.With().Str("username", username).Logger()

	s.mx.Lock()
	if err := s.admissible(username); err != nil {
		s.mx.Unlock()
		logger.Debug().Err(err).Msg("join rejected")
		return model.JoinResult{}, err
	}
	s.pending[username] = struct{}{}
	s.mx.Unlock()

	approved, err := s.approve(ctx, username)

	s.mx.Lock()
	defer s.mx.Unlock()
	delete(s.pending, username)

	if s.closed {
		return model.JoinResult{}, ErrSessionClosed
	}
	if err != nil {
		logger.Warn().Err(err).Msg("join approval did not complete")
		return model.JoinResult{}, errors.Join(ErrDenied, err)
	}
	if !approved {
		logger.Debug().Msg("join denied by manager")
		return model.JoinResult{}, ErrDenied
	}

	p := model.Participant{
		Username: username,
		ConnID:   uuid.NewString(),
		Callback: cb,
	}
	if err = s.store.AddParticipant(p); err != nil {
		return model.JoinResult{}, errors.Join(ErrUsernameTaken, err)
	}
	if err = s.sw.Connect(p); err != nil {
		_, _ = s.store.RemoveParticipant(username)
		return model.JoinResult{}, errors.Join(ErrSessionClosed, err)
	}

	// The snapshot is the first thing the joiner sees, so nothing queued
	// after it can be wiped by it.
	snapshot := s.store.History()
	s.sw.Send(username, model.SnapshotEvent(snapshot))
	s.broadcastRoster()
	s.sw.Broadcast(model.NoticeEvent(username+" joined."), "")

	logger.Info().Str("conn", p.ConnID).Msg("participant joined")
	return model.JoinResult{ConnID: p.ConnID, Snapshot: snapshot}, nil
}

func (s *Session) admissible(username string) error {
	switch {
	case s.closed:
		return ErrSessionClosed
	case strings.TrimSpace(username) == "" || username != strings.TrimSpace(username):
		return ErrInvalidUsername
	}
	if _, ok := s.store.GetParticipant(username); ok {
		return ErrUsernameTaken
	}
	if _, ok := s.pending[username]; ok {
		return ErrJoinPending
	}
	return nil
}

func (s *Session) approve(ctx context.Context, username string) (bool, error) {
	var cancel context.CancelFunc
	if s.approvalTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.approvalTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	stop := context.AfterFunc(s.done, cancel)
	defer stop()

	approved, err := s.approver.Approve(ctx, username)
	if err != nil {
		return false, err
	}
	if err = ctx.Err(); err != nil {
		return false, err
	}
	return approved, nil
}

// Leave removes username from the session. Leaving twice is a no-op. The
// manager leaving ends the session.
func (s *Session) Leave(username string) {
	if username == s.manager {
		s.Shutdown()
		return
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return
	}
	s.remove(username, " left.")
}

// Drop is Leave bound to a specific connection. Transports call it on
// teardown so that a stale connection never removes a newer one.
func (s *Session) Drop(username, connID string) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed || username == s.manager {
		return
	}
	p, ok := s.store.GetParticipant(username)
	if !ok || p.ConnID != connID {
		return
	}
	s.remove(username, " left.")
}

func (s *Session) evict(username, connID string) {
	if username == s.manager {
		s.logger.Error().Msg("deliveries to the manager view are failing")
		return
	}
	s.logger.Warn().
		Str("username", username).
		Str("conn", connID).
		Msg("evicting unreachable participant")
	s.Drop(username, connID)
}

func (s *Session) remove(username, notice string) bool {
	if _, err := s.store.RemoveParticipant(username); err != nil {
		return false
	}
	s.sw.Disconnect(username)
	s.broadcastRoster()
	s.sw.Broadcast(model.NoticeEvent(username+notice), "")
	s.logger.Info().Str("username", username).Msg("participant removed")
	return true
}

// Kick removes target on the manager's behalf. The removed participant is
// told before its connection is dropped.
func (s *Session) Kick(requester, target string) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	switch {
	case s.closed:
		return ErrSessionClosed
	case requester != s.manager:
		return ErrNotManager
	case target == s.manager:
		return ErrKickManager
	}
	if _, ok := s.store.GetParticipant(target); !ok {
		return ErrUnknownParticipant
	}

	s.sw.Send(target, model.KickedEvent())
	s.remove(target, " was kicked.")
	return nil
}

// SubmitDraw appends d to history and broadcasts it to every participant,
// the sender included.
func (s *Session) SubmitDraw(from string, d model.Drawable) error {
	if err := d.Validate(); err != nil {
		s.logger.Warn().Err(err).
			Str("username", from).
			Str("kind", string(d.Kind)).
			Msg("dropping drawable")
		return err
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if err := s.member(from); err != nil {
		return err
	}
	seq := s.store.AppendDrawable(d)
	if s.journal != nil {
		if err := s.journal.Append(seq, d); err != nil {
			s.logger.Error().Err(err).Int("seq", seq).Msg("failed to journal drawable")
		}
	}
	s.sw.Broadcast(model.DrawEvent(d), "")
	return nil
}

func (s *Session) SubmitChat(from, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if err := s.member(from); err != nil {
		return err
	}
	s.sw.Broadcast(model.ChatEvent(from, text), "")
	return nil
}

// ResetHistory replaces the whole history, as the manager does for a new
// board or an opened file, and pushes the result to everyone. Invalid
// drawables in the replacement are dropped.
func (s *Session) ResetHistory(requester string, history []model.Drawable) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	switch {
	case s.closed:
		return ErrSessionClosed
	case requester != s.manager:
		return ErrNotManager
	}

	history = filterValid(history, &s.logger)
	s.store.ReplaceHistory(history)
	if s.journal != nil {
		if err := s.journal.Replace(history); err != nil {
			s.logger.Error().Err(err).Msg("failed to journal history reset")
		}
	}
	s.sw.Broadcast(model.SnapshotEvent(history), "")

	s.logger.Info().Int("history", len(history)).Msg("history replaced")
	return nil
}

func (s *Session) Roster() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.store.Usernames()
}

// History returns a deep copy of the authoritative history.
func (s *Session) History() []model.Drawable {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.store.History()
}

func (s *Session) Closed() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.closed
}

// Shutdown ends the session: every remaining participant is told the
// manager left, pending joins are aborted and queued deliveries are flushed.
func (s *Session) Shutdown() {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	s.closed = true
	s.cancel()

	for _, p := range s.store.Participants() {
		if p.Username != s.manager {
			s.sw.Send(p.Username, model.ManagerLeftEvent())
		}
		_, _ = s.store.RemoveParticipant(p.Username)
	}
	s.mx.Unlock()

	s.sw.Close()
	s.logger.Info().Msg("session closed")
}

func (s *Session) member(username string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.store.GetParticipant(username); !ok {
		return ErrNotAMember
	}
	return nil
}

func (s *Session) broadcastRoster() {
	s.sw.Broadcast(model.RosterEvent(s.store.Usernames()), "")
}

func filterValid(history []model.Drawable, logger *zerolog.Logger) []model.Drawable {
	return lo.Filter(history, func(d model.Drawable, i int) bool {
		if err := d.Validate(); err != nil {
			logger.Warn().Err(err).Int("seq", i).Msg("dropping invalid drawable from history")
			return false
		}
		return true
	})
}

func denialReason(err error) string {
	for _, known := range []error{
		ErrUsernameTaken, ErrJoinPending, ErrInvalidUsername, ErrSessionClosed, ErrDenied,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ErrDenied.Error()
}
