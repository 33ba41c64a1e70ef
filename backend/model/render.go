package model

// Canvas is implemented by whatever paints the board.
type Canvas interface {
	Polyline(points []Point, color Color, width int)
	Polygon(points []Point, color Color, width int)
	Rect(x, y, w, h int, color Color, width int)
	Oval(x, y, w, h int, color Color, width int)
	Text(at Point, content string, color Color, fontSize int)
}

// Render paints d onto c. Drawables of unknown kind are skipped and reported
// as false.
func Render(c Canvas, d Drawable) bool {
	switch d.Kind {
	case KindStroke:
		if d.Stroke == nil {
			return false
		}
		c.Polyline(d.Stroke.Points, d.Stroke.Color, d.Stroke.Width)
	case KindErase:
		if d.Erase == nil {
			return false
		}
		c.Polyline(d.Erase.Points, Background, d.Erase.Width)
	case KindText:
		if d.Text == nil {
			return false
		}
		c.Text(d.Text.Anchor, d.Text.Content, d.Text.Color, d.Text.FontSize)
	case KindShape:
		if d.Shape == nil {
			return false
		}
		s := d.Shape
		switch s.Kind {
		case ShapeLine:
			c.Polyline([]Point{s.Anchor1, s.Anchor2}, s.Color, s.Width)
		case ShapeRectangle:
			x, y, w, h := s.Bounds()
			c.Rect(x, y, w, h, s.Color, s.Width)
		case ShapeOval:
			x, y, w, h := s.Bounds()
			c.Oval(x, y, w, h, s.Color, s.Width)
		case ShapeTriangle:
			c.Polygon(s.Vertices(), s.Color, s.Width)
		default:
			return false
		}
	default:
		return false
	}
	return true
}
