package memory

import (
	"errors"
	"slices"

	"github.com/adwski/whiteboard/backend/model"
)

var (
	ErrUsernameTaken = errors.New("username taken")
	ErrUnknownUser   = errors.New("participant is not registered")
	ErrEmptyUsername = errors.New("username is empty")
)

// MemStore holds the state of one session: participants in registration
// order and the draw history. It does no locking of its own; the owning
// session serializes every call.
type MemStore struct {
	order        []string
	participants map[string]model.Participant
	history      []model.Drawable
}

func NewMemStore(history []model.Drawable) *MemStore {
	return &MemStore{
		participants: make(map[string]model.Participant),
		history:      model.CloneHistory(history),
	}
}

func (ms *MemStore) AddParticipant(p model.Participant) error {
	if p.Username == "" {
		return ErrEmptyUsername
	}
	if _, ok := ms.participants[p.Username]; ok {
		return ErrUsernameTaken
	}
	ms.participants[p.Username] = p
	ms.order = append(ms.order, p.Username)
	return nil
}

func (ms *MemStore) RemoveParticipant(username string) (model.Participant, error) {
	p, ok := ms.participants[username]
	if !ok {
		return p, ErrUnknownUser
	}
	delete(ms.participants, username)
	ms.order = slices.DeleteFunc(ms.order, func(u string) bool { return u == username })
	return p, nil
}

func (ms *MemStore) GetParticipant(username string) (model.Participant, bool) {
	p, ok := ms.participants[username]
	return p, ok
}

// Usernames returns the roster in registration order.
func (ms *MemStore) Usernames() []string {
	return slices.Clone(ms.order)
}

func (ms *MemStore) Participants() []model.Participant {
	out := make([]model.Participant, 0, len(ms.order))
	for _, u := range ms.order {
		out = append(out, ms.participants[u])
	}
	return out
}

// AppendDrawable stores a private copy of d and returns its position in history.
func (ms *MemStore) AppendDrawable(d model.Drawable) int {
	ms.history = append(ms.history, d.Clone())
	return len(ms.history) - 1
}

func (ms *MemStore) ReplaceHistory(history []model.Drawable) {
	ms.history = model.CloneHistory(history)
}

// History returns a deep copy of the draw history.
func (ms *MemStore) History() []model.Drawable {
	return model.CloneHistory(ms.history)
}

func (ms *MemStore) HistoryLen() int {
	return len(ms.history)
}
