// Package codec wraps the external image tooling the engine delegates pixel
// work to.
package codec

import (
	"bytes"
	"errors"
	"strings"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatGIF  Format = "gif"
	FormatAVIF Format = "avif"
)

var ErrUnknownFormat = errors.New("codec: unknown image format")

// Info is what a probe learns from the image header.
type Info struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format Format `json:"format"`
}

func (i Info) Pixels() int64 {
	return int64(i.Width) * int64(i.Height)
}

// Options drives a transcode. Zero Width and Height keep the source
// dimensions.
type Options struct {
	Format  Format `json:"format"`
	Quality int    `json:"quality"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

func (f Format) ContentType() string {
	if f == "" {
		return "application/octet-stream"
	}
	return "image/" + string(f)
}

func (f Format) Ext() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// FormatFromContentType maps a MIME type to a supported format.
func FormatFromContentType(ct string) (Format, bool) {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return FormatJPEG, true
	case "image/png":
		return FormatPNG, true
	case "image/webp":
		return FormatWebP, true
	case "image/gif":
		return FormatGIF, true
	case "image/avif":
		return FormatAVIF, true
	}
	return "", false
}

func ParseFormat(s string) (Format, bool) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "jpg":
		return FormatJPEG, true
	case FormatJPEG, FormatPNG, FormatWebP, FormatGIF, FormatAVIF:
		return f, true
	}
	return "", false
}

// Detect sniffs the format from magic bytes.
func Detect(data []byte) (Format, error) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG, nil
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG, nil
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF, nil
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP, nil
	case len(data) >= 12 && string(data[4:8]) == "ftyp" && isAVIFBrand(data[8:12]):
		return FormatAVIF, nil
	}
	return "", ErrUnknownFormat
}

func isAVIFBrand(b []byte) bool {
	brand := string(b)
	return brand == "avif" || brand == "avis" || brand == "mif1" || brand == "msf1"
}
