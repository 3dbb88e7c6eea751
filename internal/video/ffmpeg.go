package video

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegBackend decodes and encodes through ffmpeg subprocesses exchanging
// raw rgb24 frames over pipes.
type FFmpegBackend struct {
	DefaultFPS float64
	// Codec is the encoder used for the intermediate file.
	Codec string
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

// parseProbe extracts the first video stream from ffprobe JSON output.
func parseProbe(raw string, defaultFPS float64) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Info{}, fmt.Errorf("decode probe output: %w", err)
	}
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return Info{}, fmt.Errorf("video stream has no geometry")
		}
		fps := parseRate(s.AvgFrameRate)
		if fps == 0 {
			fps = parseRate(s.RFrameRate)
		}
		count, _ := strconv.Atoi(s.NbFrames)
		return Info{
			Width:      s.Width,
			Height:     s.Height,
			FPS:        fallbackFPS(fps, defaultFPS),
			FrameCount: count,
		}, nil
	}
	return Info{}, fmt.Errorf("no video stream")
}

func (b *FFmpegBackend) Open(ctx context.Context, path string) (Source, error) {
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %v", ErrOpen, path, err)
	}
	info, err := parseProbe(raw, b.DefaultFPS)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}

	args := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"format":   "rawvideo",
			"pix_fmt":  "rgb24",
			"loglevel": "error",
		}).
		GetArgs()

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdout pipe: %v", ErrOpen, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stderr pipe: %v", ErrOpen, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrOpen, err)
	}
	go logStderr(stderr, "decode", path)

	return &ffmpegSource{
		info: info,
		cmd:  cmd,
		r:    bufio.NewReaderSize(stdout, info.Width*info.Height*3),
		buf:  make([]byte, info.Width*info.Height*3),
	}, nil
}

func (b *FFmpegBackend) Create(ctx context.Context, path string, info Info) (Writer, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrWriterInit, info.Width, info.Height)
	}
	codec := b.Codec
	if codec == "" {
		codec = "mpeg4"
	}
	fps := fallbackFPS(info.FPS, b.DefaultFPS)

	args := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "rgb24",
		"s":       fmt.Sprintf("%dx%d", info.Width, info.Height),
		"r":       strconv.FormatFloat(fps, 'f', -1, 64),
	}).
		Output(path, ffmpeg.KwArgs{
			"c:v":      codec,
			"pix_fmt":  "yuv420p",
			"q:v":      "4",
			"loglevel": "error",
		}).
		OverWriteOutput().
		GetArgs()

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdin pipe: %v", ErrWriterInit, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stderr pipe: %v", ErrWriterInit, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrWriterInit, err)
	}
	go logStderr(stderr, "encode", path)

	return &ffmpegWriter{
		cmd:    cmd,
		stdin:  stdin,
		width:  info.Width,
		height: info.Height,
		buf:    make([]byte, info.Width*info.Height*3),
	}, nil
}

type ffmpegSource struct {
	info  Info
	cmd   *exec.Cmd
	r     io.Reader
	buf   []byte
	index int

	once sync.Once
	eof  bool
	err  error
}

func (s *ffmpegSource) Info() Info { return s.info }

func (s *ffmpegSource) Next() (Frame, error) {
	if s.eof {
		return Frame{}, io.EOF
	}
	if _, err := io.ReadFull(s.r, s.buf); err != nil {
		s.eof = true
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("read frame %d: %w", s.index+1, err)
	}
	s.index++
	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	rgb24ToRGBA(img.Pix, s.buf)
	return Frame{Index: s.index, Image: img}, nil
}

func (s *ffmpegSource) Close() error {
	s.once.Do(func() {
		if !s.eof && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
			return
		}
		if err := s.cmd.Wait(); err != nil {
			s.err = fmt.Errorf("ffmpeg decode: %w", err)
		}
	})
	return s.err
}

type ffmpegWriter struct {
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	width, height int
	buf           []byte

	once sync.Once
	err  error
}

func (w *ffmpegWriter) Write(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != w.width || b.Dy() != w.height {
		return fmt.Errorf("frame size %dx%d does not match writer %dx%d", b.Dx(), b.Dy(), w.width, w.height)
	}
	rgbaToRGB24(w.buf, toRGBA(img))
	if _, err := w.stdin.Write(w.buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (w *ffmpegWriter) Close() error {
	w.once.Do(func() {
		_ = w.stdin.Close()
		if err := w.cmd.Wait(); err != nil {
			w.err = fmt.Errorf("ffmpeg encode: %w", err)
		}
	})
	return w.err
}

// FFmpegTranscoder produces H.264 MP4 files that browsers can play inline.
type FFmpegTranscoder struct {
	Codec string
}

func (t FFmpegTranscoder) ToBrowser(ctx context.Context, in, out string) error {
	codec := t.Codec
	if codec == "" {
		codec = "libx264"
	}
	args := ffmpeg.Input(in).
		Output(out, ffmpeg.KwArgs{
			"map":      "0:v:0",
			"c:v":      codec,
			"pix_fmt":  "yuv420p",
			"preset":   "fast",
			"movflags": "+faststart",
			"loglevel": "error",
		}).
		OverWriteOutput().
		GetArgs()

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("transcode %s: %w: %s", in, err, strings.TrimSpace(stderr.String()))
	}
	return CheckNonEmpty(out)
}

func logStderr(r io.Reader, stage, path string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Warn("ffmpeg stderr", "stage", stage, "path", path, "output", scanner.Text())
	}
}
