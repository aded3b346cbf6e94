package codec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, FormatJPEG},
		{"png", []byte("\x89PNG\r\n\x1a\nrest"), FormatPNG},
		{"gif", []byte("GIF89a...."), FormatGIF},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"avif", []byte("\x00\x00\x00\x1cftypavif\x00\x00"), FormatAVIF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Detect([]byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormatFromContentType(t *testing.T) {
	f, ok := FormatFromContentType("Image/JPEG; charset=binary")
	require.True(t, ok)
	assert.Equal(t, FormatJPEG, f)

	_, ok = FormatFromContentType("application/pdf")
	assert.False(t, ok)
}

func TestFormat_ContentTypeAndExt(t *testing.T) {
	assert.Equal(t, "image/webp", FormatWebP.ContentType())
	assert.Equal(t, ".jpg", FormatJPEG.Ext())
	assert.Equal(t, ".avif", FormatAVIF.Ext())
}

func TestParseFormat(t *testing.T) {
	f, ok := ParseFormat("JPG")
	require.True(t, ok)
	assert.Equal(t, FormatJPEG, f)

	_, ok = ParseFormat("bmp")
	assert.False(t, ok)
}

func TestMagickProbe_DecodesHeaderInProcess(t *testing.T) {
	m := NewMagick("/nonexistent/magick")

	info, err := m.Probe(context.Background(), pngBytes(t, 7, 3))
	require.NoError(t, err)
	assert.Equal(t, Info{Width: 7, Height: 3, Format: FormatPNG}, info)
	assert.Equal(t, int64(21), info.Pixels())
}

func TestMagickProbe_RejectsUnknown(t *testing.T) {
	_, err := NewMagick("").Probe(context.Background(), []byte("not an image"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestMagickArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-", "-auto-orient", "-strip", "-quality", "80", "webp:-"},
		magickArgs(Options{Format: FormatWebP, Quality: 80}),
	)
	assert.Equal(t,
		[]string{"-", "-auto-orient", "-strip", "-resize", "100x50!", "-quality", "60", "jpeg:-"},
		magickArgs(Options{Format: FormatJPEG, Quality: 60, Width: 100, Height: 50}),
	)
}

func TestParseDims(t *testing.T) {
	w, h, err := parseDims([]byte("640 480\n640 480\n"))
	require.NoError(t, err)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	_, _, err = parseDims([]byte("garbage"))
	assert.Error(t, err)
}

func TestMagickTranscode_MissingBinary(t *testing.T) {
	_, err := NewMagick("/nonexistent/magick").Transcode(context.Background(), pngBytes(t, 2, 2), Options{Format: FormatPNG, Quality: 80})
	assert.Error(t, err)
}
