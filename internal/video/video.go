// Package video reads and writes video files frame by frame.
//
// Frames are plain *image.RGBA values so that everything above this package
// can be exercised without a codec library.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/your-org/vds/internal/config"
)

var (
	ErrOpen               = errors.New("video: cannot open source")
	ErrWriterInit         = errors.New("video: cannot initialise writer")
	ErrEmptyOutput        = errors.New("video: output is empty")
	ErrBackendUnavailable = errors.New("video: backend not compiled in")
)

// Frame is one decoded picture. Index is 1-based and increases by one per frame.
type Frame struct {
	Index int
	Image *image.RGBA
}

// Info describes the geometry and timing of a stream.
// FrameCount is advisory and may be zero when the container does not record it.
type Info struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
}

// Source yields frames in order. Next returns io.EOF once the stream is
// exhausted. A Source cannot be rewound.
type Source interface {
	Info() Info
	Next() (Frame, error)
	Close() error
}

// Writer accepts frames in presentation order. Close flushes the container.
type Writer interface {
	Write(img image.Image) error
	Close() error
}

// Backend opens sources and creates writers.
type Backend interface {
	Open(ctx context.Context, path string) (Source, error)
	Create(ctx context.Context, path string, info Info) (Writer, error)
}

// Transcoder re-encodes a finished file into a browser-playable one.
type Transcoder interface {
	ToBrowser(ctx context.Context, in, out string) error
}

// NewBackend returns the backend named in cfg.
func NewBackend(cfg config.VideoConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "ffmpeg":
		return &FFmpegBackend{DefaultFPS: cfg.DefaultFPS, Codec: cfg.TempCodec}, nil
	case "gocv":
		return newGoCVBackend(cfg.DefaultFPS)
	default:
		return nil, fmt.Errorf("unknown video backend %q", cfg.Backend)
	}
}

// CheckNonEmpty returns ErrEmptyOutput when path is missing or zero bytes.
func CheckNonEmpty(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEmptyOutput, path, err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyOutput, path)
	}
	return nil
}

// parseRate parses an ffprobe rational such as "30000/1001" or a plain number.
// It returns 0 for anything unusable.
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0
	}
	return n / d
}

func fallbackFPS(fps, def float64) float64 {
	if fps > 0 {
		return fps
	}
	if def > 0 {
		return def
	}
	return 30
}

// toRGBA returns img as *image.RGBA anchored at the origin, copying only when needed.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// rgb24ToRGBA expands packed RGB bytes into RGBA pixels.
func rgb24ToRGBA(dst, src []byte) {
	for i, j := 0, 0; j+2 < len(src) && i+3 < len(dst); i, j = i+4, j+3 {
		dst[i] = src[j]
		dst[i+1] = src[j+1]
		dst[i+2] = src[j+2]
		dst[i+3] = 0xff
	}
}

// rgbaToRGB24 packs RGBA pixels into RGB bytes, dropping alpha.
func rgbaToRGB24(dst []byte, img *image.RGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	j := 0
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			dst[j] = row[i]
			dst[j+1] = row[i+1]
			dst[j+2] = row[i+2]
			j += 3
		}
	}
}
