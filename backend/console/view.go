package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/gookit/color"
	"github.com/samber/lo"
)

// View prints session events to a terminal.
type View struct {
	mx    sync.Mutex
	out   io.Writer
	self  string
	onEnd func(reason string)
}

// NewView returns a view for username. onEnd, if set, is called when the
// session ends for this participant.
func NewView(out io.Writer, username string, onEnd func(reason string)) *View {
	return &View{out: out, self: username, onEnd: onEnd}
}

func (v *View) println(s string) {
	v.mx.Lock()
	defer v.mx.Unlock()
	_, _ = fmt.Fprintln(v.out, s)
}

func (v *View) OnDraw(d model.Drawable) {
	v.println(color.Gray.Sprint("[draw] ") + Describe(d))
}

func (v *View) OnChat(from, text string) {
	name := color.Cyan.Sprint(from)
	if from == v.self {
		name = color.Green.Sprint(from)
	}
	v.println(name + ": " + text)
}

func (v *View) OnSystemNotice(text string) {
	v.println(color.Yellow.Sprint("* " + text))
}

func (v *View) OnKicked() {
	v.println(color.Red.Sprint("You have been kicked."))
	v.end(model.EventTypeKicked)
}

func (v *View) OnManagerLeft() {
	v.println(color.Red.Sprint("Manager has exited. The whiteboard will now close."))
	v.end(model.EventTypeManagerLeft)
}

func (v *View) OnRosterUpdate(usernames []string) {
	v.println(color.Gray.Sprint("[users] ") + strings.Join(usernames, ", "))
}

func (v *View) OnHistorySnapshot(history []model.Drawable) {
	v.println(color.Gray.Sprintf("[board] synchronized, %d item(s)", len(history)))
}

func (v *View) end(reason string) {
	if v.onEnd != nil {
		v.onEnd(reason)
	}
}

// Describe renders a one-line summary of d.
func Describe(d model.Drawable) string {
	switch d.Kind {
	case model.KindStroke:
		if d.Stroke != nil {
			return fmt.Sprintf("stroke %s %s w=%d", pointsString(d.Stroke.Points), d.Stroke.Color, d.Stroke.Width)
		}
	case model.KindErase:
		if d.Erase != nil {
			return fmt.Sprintf("erase %s w=%d", pointsString(d.Erase.Points), d.Erase.Width)
		}
	case model.KindShape:
		if d.Shape != nil {
			return fmt.Sprintf("%s %s %s w=%d", d.Shape.Kind,
				pointsString(d.Shape.Vertices()), d.Shape.Color, d.Shape.Width)
		}
	case model.KindText:
		if d.Text != nil {
			return fmt.Sprintf("text %q at (%d,%d) %s size=%d", d.Text.Content,
				d.Text.Anchor.X, d.Text.Anchor.Y, d.Text.Color, d.Text.FontSize)
		}
	}
	return fmt.Sprintf("unknown %q", d.Kind)
}

func pointsString(points []model.Point) string {
	return strings.Join(lo.Map(points, func(p model.Point, _ int) string {
		return fmt.Sprintf("(%d,%d)", p.X, p.Y)
	}), "-")
}
