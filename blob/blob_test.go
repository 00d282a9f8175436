package blob

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omholt/munroe"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	data := encodePNG(t, 4, 2)
	require.NoError(t, s.Save(data, 42))

	got, err := s.Load(42)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Path points at the stored file.
	onDisk, err := os.ReadFile(s.Path(42))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestSave_Overwrites(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save(encodePNG(t, 4, 2), 42))
	second := encodePNG(t, 8, 8)
	require.NoError(t, s.Save(second, 42))

	got, err := s.Load(42)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestLoad_NotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load(7)
	require.ErrorIs(t, err, munroe.ErrNotFound)
}

func TestDimensions(t *testing.T) {
	width, height, err := Dimensions(encodePNG(t, 740, 440))
	require.NoError(t, err)
	assert.Equal(t, 740.0, width)
	assert.Equal(t, 440.0, height)
}

func TestDimensions_Garbage(t *testing.T) {
	_, _, err := Dimensions([]byte("not an image"))
	require.ErrorIs(t, err, munroe.ErrDecode)
}
