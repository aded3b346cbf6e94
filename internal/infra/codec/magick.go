package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os/exec"
	"strconv"
	"strings"
)

// magickCodec drives the ImageMagick CLI through stdin and stdout so no temp
// files are involved.
type magickCodec struct {
	binary string
}

func NewMagick(binary string) *magickCodec {
	if binary == "" {
		binary = "magick"
	}
	return &magickCodec{binary: binary}
}

// Probe reads only the header. Formats the standard decoders know are parsed
// in process; webp and avif go through `magick identify -ping`.
func (m *magickCodec) Probe(ctx context.Context, data []byte) (Info, error) {
	format, err := Detect(data)
	if err != nil {
		return Info{}, err
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return Info{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
	}

	out, err := m.run(ctx, data, "identify", "-ping", "-format", "%w %h\n", string(format)+":-")
	if err != nil {
		return Info{}, fmt.Errorf("identify: %w", err)
	}
	w, h, err := parseDims(out)
	if err != nil {
		return Info{}, err
	}
	return Info{Width: w, Height: h, Format: format}, nil
}

func (m *magickCodec) Transcode(ctx context.Context, data []byte, o Options) ([]byte, error) {
	args := magickArgs(o)
	out, err := m.run(ctx, data, args...)
	if err != nil {
		return nil, fmt.Errorf("transcode to %s: %w", o.Format, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("transcode to %s: empty output", o.Format)
	}
	return out, nil
}

func magickArgs(o Options) []string {
	args := []string{"-", "-auto-orient", "-strip"}
	if o.Width > 0 && o.Height > 0 {
		args = append(args, "-resize", fmt.Sprintf("%dx%d!", o.Width, o.Height))
	}
	args = append(args,
		"-quality", strconv.Itoa(o.Quality),
		fmt.Sprintf("%s:-", o.Format),
	)
	return args
}

func (m *magickCodec) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", m.binary, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", m.binary, err)
	}
	return stdout.Bytes(), nil
}

// parseDims reads the first "W H" line; animated inputs print one per frame.
func parseDims(out []byte) (int, int, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("identify: unexpected output %q", line)
	}
	w, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("identify: width: %w", err)
	}
	h, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("identify: height: %w", err)
	}
	return w, h, nil
}
