//go:build gocv

package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"gocv.io/x/gocv"
)

// GoCVBackend reads and writes through OpenCV's VideoCapture and VideoWriter.
type GoCVBackend struct {
	DefaultFPS float64
	FourCC     string
}

func newGoCVBackend(defaultFPS float64) (Backend, error) {
	return &GoCVBackend{DefaultFPS: defaultFPS, FourCC: "mp4v"}, nil
}

func (b *GoCVBackend) Open(_ context.Context, path string) (Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s", ErrOpen, path)
	}
	info := Info{
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        fallbackFPS(vc.Get(gocv.VideoCaptureFPS), b.DefaultFPS),
		FrameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}
	if info.Width <= 0 || info.Height <= 0 {
		vc.Close()
		return nil, fmt.Errorf("%w: %s: no geometry", ErrOpen, path)
	}
	return &gocvSource{cap: vc, info: info, mat: gocv.NewMat()}, nil
}

func (b *GoCVBackend) Create(_ context.Context, path string, info Info) (Writer, error) {
	fourcc := b.FourCC
	if fourcc == "" {
		fourcc = "mp4v"
	}
	w, err := gocv.VideoWriterFile(path, fourcc, fallbackFPS(info.FPS, b.DefaultFPS), info.Width, info.Height, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrWriterInit, path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("%w: %s", ErrWriterInit, path)
	}
	return &gocvWriter{w: w}, nil
}

type gocvSource struct {
	cap   *gocv.VideoCapture
	info  Info
	mat   gocv.Mat
	index int
	once  sync.Once
}

func (s *gocvSource) Info() Info { return s.info }

func (s *gocvSource) Next() (Frame, error) {
	if ok := s.cap.Read(&s.mat); !ok || s.mat.Empty() {
		return Frame{}, io.EOF
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return Frame{}, fmt.Errorf("convert frame %d: %w", s.index+1, err)
	}
	s.index++
	return Frame{Index: s.index, Image: toRGBA(img)}, nil
}

func (s *gocvSource) Close() error {
	var err error
	s.once.Do(func() {
		s.mat.Close()
		err = s.cap.Close()
	})
	return err
}

type gocvWriter struct {
	w    *gocv.VideoWriter
	once sync.Once
}

func (w *gocvWriter) Write(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()
	if err := w.w.Write(mat); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (w *gocvWriter) Close() error {
	var err error
	w.once.Do(func() {
		err = w.w.Close()
	})
	return err
}
