// Package file stores whiteboard history as a versioned JSON document
// (.wbd). Records are flat and tagged by kind so the format does not
// depend on in-memory layout.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/samber/lo"
)

const (
	Extension     = ".wbd"
	SchemaVersion = 1
)

var (
	ErrUnsupportedVersion = errors.New("unsupported file version")
	ErrMalformedRecord    = errors.New("malformed record")
)

// Record kinds. Shapes are stored under their shape kind.
const (
	recordFreehand  = "freehand"
	recordEraser    = "eraser"
	recordText      = "text"
	recordLine      = "line"
	recordRectangle = "rectangle"
	recordOval      = "oval"
	recordTriangle  = "triangle"
)

type Document struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Record is one drawable. Points holds the stroke path, the two shape
// anchors or the single text anchor. Color is absent for eraser records.
type Record struct {
	Kind     string        `json:"kind"`
	Points   []model.Point `json:"points"`
	Color    *model.Color  `json:"color,omitempty"`
	Size     int           `json:"size"`
	Text     string        `json:"text,omitempty"`
	FontSize int           `json:"font_size,omitempty"`
}

func Encode(w io.Writer, history []model.Drawable) error {
	records := make([]Record, 0, len(history))
	for i, d := range history {
		r, err := toRecord(d)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, r)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Document{Version: SchemaVersion, Records: records})
}

func Decode(r io.Reader) ([]model.Drawable, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	history := make([]model.Drawable, 0, len(doc.Records))
	for i, rec := range doc.Records {
		d, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		history = append(history, d)
	}
	return history, nil
}

// Save writes history to path, adding the .wbd extension when missing, and
// returns the path actually written.
func Save(path string, history []model.Drawable) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), Extension) {
		path += Extension
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err = Encode(f, history); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

func Load(path string) ([]model.Drawable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Decode(f)
}

func toRecord(d model.Drawable) (Record, error) {
	if err := d.Validate(); err != nil {
		return Record{}, err
	}
	switch d.Kind {
	case model.KindStroke:
		return Record{
			Kind:   recordFreehand,
			Points: clonePoints(d.Stroke.Points),
			Color:  lo.ToPtr(d.Stroke.Color),
			Size:   d.Stroke.Width,
		}, nil
	case model.KindErase:
		return Record{
			Kind:   recordEraser,
			Points: clonePoints(d.Erase.Points),
			Size:   d.Erase.Width,
		}, nil
	case model.KindText:
		return Record{
			Kind:     recordText,
			Points:   []model.Point{d.Text.Anchor},
			Color:    lo.ToPtr(d.Text.Color),
			Text:     d.Text.Content,
			FontSize: d.Text.FontSize,
		}, nil
	default:
		return Record{
			Kind:   string(d.Shape.Kind),
			Points: []model.Point{d.Shape.Anchor1, d.Shape.Anchor2},
			Color:  lo.ToPtr(d.Shape.Color),
			Size:   d.Shape.Width,
		}, nil
	}
}

func fromRecord(r Record) (model.Drawable, error) {
	var d model.Drawable
	color := lo.FromPtr(r.Color)

	switch r.Kind {
	case recordFreehand:
		d = model.NewStroke(r.Points, color, r.Size)
	case recordEraser:
		d = model.NewErase(r.Points, r.Size)
	case recordText:
		if len(r.Points) != 1 {
			return d, fmt.Errorf("%w: text needs one anchor, got %d", ErrMalformedRecord, len(r.Points))
		}
		d = model.NewText(r.Points[0], r.Text, color, r.FontSize)
	case recordLine, recordRectangle, recordOval, recordTriangle:
		if len(r.Points) != 2 {
			return d, fmt.Errorf("%w: %s needs two anchors, got %d", ErrMalformedRecord, r.Kind, len(r.Points))
		}
		d = model.NewShape(model.ShapeKind(r.Kind), r.Points[0], r.Points[1], color, r.Size)
	default:
		return d, fmt.Errorf("%w: %q", model.ErrUnknownKind, r.Kind)
	}
	if err := d.Validate(); err != nil {
		return d, errors.Join(ErrMalformedRecord, err)
	}
	return d, nil
}

func clonePoints(points []model.Point) []model.Point {
	return append([]model.Point(nil), points...)
}
