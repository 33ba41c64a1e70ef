package file

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHistory() []model.Drawable {
	blue := model.Color{B: 0xff}
	return []model.Drawable{
		model.NewStroke([]model.Point{{X: 1, Y: 1}, {X: 2, Y: 3}}, blue, 2),
		model.NewErase([]model.Point{{X: 2, Y: 3}}, 12),
		model.NewShape(model.ShapeLine, model.Point{X: 0, Y: 0}, model.Point{X: 10, Y: 10}, blue, 1),
		model.NewShape(model.ShapeRectangle, model.Point{X: 5, Y: 5}, model.Point{X: 1, Y: 1}, blue, 3),
		model.NewShape(model.ShapeOval, model.Point{X: 0, Y: 0}, model.Point{X: 8, Y: 4}, blue, 1),
		model.NewShape(model.ShapeTriangle, model.Point{X: 0, Y: 0}, model.Point{X: 6, Y: 6}, blue, 2),
		model.NewText(model.Point{X: 4, Y: 4}, "hello board", blue, 16),
	}
}

func TestEncodeDecode(t *testing.T) {
	history := sampleHistory()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, history))
	assert.Contains(t, buf.String(), `"kind": "triangle"`)
	assert.Contains(t, buf.String(), `"kind": "freehand"`)
	assert.Contains(t, buf.String(), `"kind": "eraser"`)

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, history, got)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"version": 2, "records": []}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Decode(strings.NewReader(`{"version": 1, "records": [{"kind": "sticker", "points": []}]}`))
	assert.ErrorIs(t, err, model.ErrUnknownKind)

	_, err = Decode(strings.NewReader(`{"version": 1, "records": [{"kind": "oval", "points": [{"x": 1, "y": 1}], "size": 1}]}`))
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, err = Decode(strings.NewReader(`{"version": 1, "records": [{"kind": "freehand", "points": [{"x": 1, "y": 1}], "size": 0}]}`))
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, err = Decode(strings.NewReader(`not json`))
	assert.Error(t, err)
}

func TestEncode_RejectsInvalid(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, []model.Drawable{{Kind: "sticker"}})
	assert.ErrorIs(t, err, model.ErrUnknownKind)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()

	path, err := Save(filepath.Join(dir, "board"), sampleHistory())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "board.wbd"), path)

	path2, err := Save(filepath.Join(dir, "other.wbd"), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "other.wbd"), path2)

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, sampleHistory(), got)

	empty, err := Load(path2)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Load(filepath.Join(dir, "missing.wbd"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
