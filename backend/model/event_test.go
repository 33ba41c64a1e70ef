package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_CloneIsDeep(t *testing.T) {
	ev := Event{
		Type:      EventTypeSnapshot,
		Drawable:  &Drawable{Kind: KindText, Text: &Text{Content: "a", FontSize: 1}},
		Usernames: []string{"alice"},
		History:   []Drawable{NewStroke([]Point{{1, 1}}, Black, 1)},
	}
	cp := ev.Clone()
	cp.Drawable.Text.Content = "b"
	cp.Usernames[0] = "mallory"
	cp.History[0].Stroke.Points[0] = Point{9, 9}

	assert.Equal(t, "a", ev.Drawable.Text.Content)
	assert.Equal(t, "alice", ev.Usernames[0])
	assert.Equal(t, Point{1, 1}, ev.History[0].Stroke.Points[0])
}

func TestEventConstructors_Copy(t *testing.T) {
	names := []string{"host", "bob"}
	roster := RosterEvent(names)
	names[1] = "eve"
	assert.Equal(t, []string{"host", "bob"}, roster.Usernames)

	history := []Drawable{NewText(Point{}, "x", Black, 1)}
	snap := SnapshotEvent(history)
	history[0].Text.Content = "y"
	require.Len(t, snap.History, 1)
	assert.Equal(t, "x", snap.History[0].Text.Content)
}

func TestEvent_Terminal(t *testing.T) {
	assert.True(t, KickedEvent().Terminal())
	assert.True(t, ManagerLeftEvent().Terminal())
	assert.True(t, DeniedEvent("no").Terminal())
	assert.False(t, ChatEvent("a", "b").Terminal())
	assert.False(t, NoticeEvent("a joined.").Terminal())
}

func TestJoinError(t *testing.T) {
	cause := errors.New("denied by manager")
	var err error = &JoinError{Reason: "denied by manager", Err: cause}
	assert.EqualError(t, err, "denied by manager")
	assert.ErrorIs(t, err, cause)
}
