package model

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownKind     = errors.New("unknown drawable kind")
	ErrInvalidDrawable = errors.New("invalid drawable")
)

var validate = validator.New()

type Kind string

const (
	KindStroke Kind = "stroke"
	KindErase  Kind = "erase"
	KindShape  Kind = "shape"
	KindText   Kind = "text"
)

type ShapeKind string

const (
	ShapeLine      ShapeKind = "line"
	ShapeRectangle ShapeKind = "rectangle"
	ShapeOval      ShapeKind = "oval"
	ShapeTriangle  ShapeKind = "triangle"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Stroke struct {
	Points []Point `json:"points" validate:"min=1"`
	Color  Color   `json:"color"`
	Width  int     `json:"width" validate:"gt=0"`
}

// EraseStroke paints with the background color but is never treated as ink.
type EraseStroke struct {
	Points []Point `json:"points" validate:"min=1"`
	Width  int     `json:"width" validate:"gt=0"`
}

type Shape struct {
	Kind    ShapeKind `json:"kind" validate:"oneof=line rectangle oval triangle"`
	Anchor1 Point     `json:"anchor1"`
	Anchor2 Point     `json:"anchor2"`
	Color   Color     `json:"color"`
	Width   int       `json:"width" validate:"gt=0"`
}

type Text struct {
	Anchor   Point  `json:"anchor"`
	Content  string `json:"content" validate:"required"`
	Color    Color  `json:"color"`
	FontSize int    `json:"font_size" validate:"gt=0"`
}

// Drawable is one unit of board content. Exactly one payload, matching Kind,
// is set.
type Drawable struct {
	Kind   Kind         `json:"kind"`
	Stroke *Stroke      `json:"stroke,omitempty"`
	Erase  *EraseStroke `json:"erase,omitempty"`
	Shape  *Shape       `json:"shape,omitempty"`
	Text   *Text        `json:"text,omitempty"`
}

func NewStroke(points []Point, color Color, width int) Drawable {
	return Drawable{Kind: KindStroke, Stroke: &Stroke{Points: copyPoints(points), Color: color, Width: width}}
}

func NewErase(points []Point, width int) Drawable {
	return Drawable{Kind: KindErase, Erase: &EraseStroke{Points: copyPoints(points), Width: width}}
}

func NewShape(kind ShapeKind, a1, a2 Point, color Color, width int) Drawable {
	return Drawable{Kind: KindShape, Shape: &Shape{Kind: kind, Anchor1: a1, Anchor2: a2, Color: color, Width: width}}
}

func NewText(anchor Point, content string, color Color, fontSize int) Drawable {
	return Drawable{Kind: KindText, Text: &Text{Anchor: anchor, Content: content, Color: color, FontSize: fontSize}}
}

// Validate reports ErrUnknownKind for kinds outside the closed set and
// ErrInvalidDrawable for structurally broken payloads.
func (d Drawable) Validate() error {
	var payload any
	switch d.Kind {
	case KindStroke:
		payload = d.Stroke
	case KindErase:
		payload = d.Erase
	case KindShape:
		payload = d.Shape
	case KindText:
		payload = d.Text
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}

	set := 0
	for _, p := range []bool{d.Stroke != nil, d.Erase != nil, d.Shape != nil, d.Text != nil} {
		if p {
			set++
		}
	}
	if set != 1 || isNilPayload(payload) {
		return fmt.Errorf("%w: %s must carry exactly its own payload", ErrInvalidDrawable, d.Kind)
	}
	if err := validate.Struct(payload); err != nil {
		return errors.Join(ErrInvalidDrawable, err)
	}
	return nil
}

func isNilPayload(payload any) bool {
	switch p := payload.(type) {
	case *Stroke:
		return p == nil
	case *EraseStroke:
		return p == nil
	case *Shape:
		return p == nil
	case *Text:
		return p == nil
	}
	return true
}

// Clone returns a copy that shares no mutable state with d.
func (d Drawable) Clone() Drawable {
	out := Drawable{Kind: d.Kind}
	if d.Stroke != nil {
		s := *d.Stroke
		s.Points = copyPoints(d.Stroke.Points)
		out.Stroke = &s
	}
	if d.Erase != nil {
		e := *d.Erase
		e.Points = copyPoints(d.Erase.Points)
		out.Erase = &e
	}
	if d.Shape != nil {
		s := *d.Shape
		out.Shape = &s
	}
	if d.Text != nil {
		t := *d.Text
		out.Text = &t
	}
	return out
}

func CloneHistory(history []Drawable) []Drawable {
	out := make([]Drawable, len(history))
	for i := range history {
		out[i] = history[i].Clone()
	}
	return out
}

// Vertices returns the outline points of the shape. Rectangles and ovals
// yield their normalized bounding box corners (top-left, bottom-right).
func (s Shape) Vertices() []Point {
	switch s.Kind {
	case ShapeTriangle:
		midX := (s.Anchor1.X + s.Anchor2.X) / 2
		return []Point{
			{X: midX, Y: s.Anchor1.Y},
			{X: s.Anchor1.X, Y: s.Anchor2.Y},
			{X: s.Anchor2.X, Y: s.Anchor2.Y},
		}
	case ShapeRectangle, ShapeOval:
		x, y, w, h := s.Bounds()
		return []Point{{X: x, Y: y}, {X: x + w, Y: y + h}}
	default:
		return []Point{s.Anchor1, s.Anchor2}
	}
}

// Bounds returns the top-left corner, width and height spanned by the anchors.
func (s Shape) Bounds() (x, y, w, h int) {
	x, y = min(s.Anchor1.X, s.Anchor2.X), min(s.Anchor1.Y, s.Anchor2.Y)
	w, h = abs(s.Anchor1.X-s.Anchor2.X), abs(s.Anchor1.Y-s.Anchor2.Y)
	return
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func copyPoints(points []Point) []Point {
	if points == nil {
		return nil
	}
	out := make([]Point, len(points))
	copy(out, points)
	return out
}
