package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidColor = errors.New("invalid color")

var (
	Black = Color{}
	White = Color{R: 0xff, G: 0xff, B: 0xff}

	// Background is what erase strokes render with.
	Background = White
)

// Color is an opaque RGB value, encoded as "#rrggbb".
type Color struct {
	R uint8
	G uint8
	B uint8
}

func ParseColor(s string) (Color, error) {
	var c Color
	if len(s) != 7 || !strings.HasPrefix(s, "#") {
		return c, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return c, errors.Join(ErrInvalidColor, err)
	}
	c.R, c.G, c.B = uint8(v>>16), uint8(v>>8), uint8(v)
	return c, nil
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(b []byte) error {
	parsed, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
