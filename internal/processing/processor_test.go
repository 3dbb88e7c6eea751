package processing

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vds/internal/alert"
	"github.com/your-org/vds/internal/models"
	"github.com/your-org/vds/internal/observability"
	"github.com/your-org/vds/internal/verdict"
	"github.com/your-org/vds/internal/video"
	"github.com/your-org/vds/internal/vision"
)

// fakeBackend produces n small frames whose red channel carries the frame index.
// The writer appends one byte per frame to the output file.
type fakeBackend struct {
	frames   int
	openErr  error
	closeErr error
	writeNil bool
}

func (b *fakeBackend) Open(_ context.Context, path string) (video.Source, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &fakeSource{n: b.frames, closeErr: b.closeErr}, nil
}

func (b *fakeBackend) Create(_ context.Context, path string, _ video.Info) (video.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fakeWriter{f: f, discard: b.writeNil}, nil
}

type fakeSource struct {
	n, next  int
	closeErr error
}

func (s *fakeSource) Info() video.Info { return video.Info{Width: 4, Height: 4, FPS: 30} }

func (s *fakeSource) Next() (video.Frame, error) {
	if s.next >= s.n {
		return video.Frame{}, io.EOF
	}
	s.next++
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(0, 0, color.RGBA{R: uint8(s.next), A: 255})
	return video.Frame{Index: s.next, Image: img}, nil
}

func (s *fakeSource) Close() error { return s.closeErr }

type fakeWriter struct {
	f       *os.File
	discard bool
}

func (w *fakeWriter) Write(image.Image) error {
	if w.discard {
		return nil
	}
	_, err := w.f.Write([]byte{1})
	return err
}

func (w *fakeWriter) Close() error { return w.f.Close() }

// fakeTranscoder copies in to out, or writes an empty file when empty is set.
type fakeTranscoder struct {
	empty bool
	err   error
}

func (t fakeTranscoder) ToBrowser(_ context.Context, in, out string) error {
	if t.err != nil {
		return t.err
	}
	if t.empty {
		return os.WriteFile(out, nil, 0o644)
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

type frameDetector struct{ hits map[int]float32 }

func (d frameDetector) Detect(_ context.Context, img image.Image, _ []int) ([]vision.Detection, error) {
	r, _, _, _ := img.At(0, 0).RGBA()
	if conf, ok := d.hits[int(r>>8)]; ok {
		return []vision.Detection{{ClassID: 1, Label: "violence", Confidence: conf, BBox: [4]float32{0, 0, 3, 3}}}, nil
	}
	return nil, nil
}

type fakeRecorder struct {
	records []*models.Detection
	err     error
}

func (r *fakeRecorder) CreateDetection(_ context.Context, d *models.Detection) error {
	if r.err != nil {
		return r.err
	}
	d.ID = int64(len(r.records) + 1)
	r.records = append(r.records, d)
	return nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (d *fakeDispatcher) Dispatch(_ context.Context, a alert.Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, a)
	return nil
}

func (d *fakeDispatcher) Close(context.Context) error { return nil }

type fakeEvents struct{ events []models.DetectionEvent }

func (f *fakeEvents) PublishDetection(_ context.Context, ev models.DetectionEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fixture struct {
	dir        string
	backend    *fakeBackend
	transcoder fakeTranscoder
	records    *fakeRecorder
	alerts     *fakeDispatcher
	events     *fakeEvents
	hits       map[int]float32
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		dir:     t.TempDir(),
		backend: &fakeBackend{frames: 10},
		records: &fakeRecorder{},
		alerts:  &fakeDispatcher{},
		events:  &fakeEvents{},
	}
}

func (f *fixture) processor(t *testing.T) *Processor {
	t.Helper()
	engine, err := verdict.NewEngine(frameDetector{hits: f.hits}, vision.NewBoxRenderer(), verdict.Params{
		Stride:      2,
		Threshold:   0.25,
		TargetClass: 1,
		Policy:      verdict.AnyFrame{},
	})
	require.NoError(t, err)

	p, err := NewProcessor(Options{
		UploadDir:  f.dir,
		Backend:    f.backend,
		Transcoder: f.transcoder,
		Engine:     engine,
		Records:    f.records,
		Alerts:     f.alerts,
		Events:     f.events,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(f.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(f.dir, path)
			out = append(out, rel)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestProcessPositiveVideo(t *testing.T) {
	f := newFixture(t)
	f.hits = map[int]float32{6: 0.30}

	res, err := f.processor(t).Process(context.Background(), Request{
		Filename: "LAB1_11-06-25_11-00.mp4",
		Body:     strings.NewReader("video-bytes"),
	})
	require.NoError(t, err)

	assert.True(t, res.Verdict.Detected)
	assert.Equal(t, 10, res.Verdict.FramesRead)
	require.NotNil(t, res.Verdict.Evidence)
	assert.Equal(t, 6, res.Verdict.Evidence.FrameIndex)

	require.NotNil(t, res.Metadata)
	assert.Equal(t, "LAB1", res.Metadata.Room)
	assert.Equal(t, "11:00 WIB", res.Metadata.Time)

	assert.ElementsMatch(t, []string{
		"LAB1_11-06-25_11-00.mp4",
		"result_LAB1_11-06-25_11-00.mp4",
		"violence_frame_LAB1_11-06-25_11-00.jpg",
	}, f.files(t))

	result, err := os.ReadFile(res.ResultPath)
	require.NoError(t, err)
	assert.Len(t, result, 10, "one output frame per input frame")

	evidence, err := os.ReadFile(res.EvidencePath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(evidence, []byte{0xff, 0xd8}), "evidence is a JPEG")

	require.Len(t, f.records.records, 1)
	rec := f.records.records[0]
	assert.True(t, rec.ViolenceDetected)
	assert.Equal(t, "LAB1", *rec.Room)
	require.NotNil(t, rec.ScreenshotPath)
	assert.Equal(t, res.EvidencePath, *rec.ScreenshotPath)
	assert.Equal(t, int64(1), res.RecordID)

	require.Len(t, f.alerts.alerts, 1)
	a := f.alerts.alerts[0]
	assert.Equal(t, res.ID, a.ID)
	assert.Equal(t, evidence, a.EvidenceJPEG)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, 6, f.events.events[0].EvidenceFrame)
}

func TestProcessNegativeVideoSendsNoAlert(t *testing.T) {
	f := newFixture(t)

	res, err := f.processor(t).Process(context.Background(), Request{Filename: "abc.mp4", Body: strings.NewReader("x")})
	require.NoError(t, err)

	assert.False(t, res.Verdict.Detected)
	assert.Nil(t, res.Verdict.Evidence)
	assert.Nil(t, res.Metadata, "abc.mp4 carries no metadata but still completes")
	assert.Empty(t, res.EvidencePath)
	assert.Empty(t, f.alerts.alerts)
	assert.ElementsMatch(t, []string{"abc.mp4", "result_abc.mp4"}, f.files(t))

	require.Len(t, f.records.records, 1)
	assert.Nil(t, f.records.records[0].ScreenshotPath)
	assert.Nil(t, f.records.records[0].Room)
}

func TestProcessFailuresLeaveNoArtifacts(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fixture)
		wantErr error
	}{
		{"zero-byte browser output", func(f *fixture) { f.transcoder.empty = true }, ErrTranscode},
		{"transcoder error", func(f *fixture) { f.transcoder.err = errors.New("libx264 missing") }, ErrTranscode},
		{"undecodable upload", func(f *fixture) { f.backend.openErr = video.ErrOpen }, ErrDecode},
		{"empty intermediate", func(f *fixture) { f.backend.writeNil = true }, ErrEncode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.hits = map[int]float32{2: 0.9}
			tt.mutate(f)

			res, err := f.processor(t).Process(context.Background(), Request{Filename: "abc.mp4", Body: strings.NewReader("x")})

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Empty(t, f.files(t), "no files remain")
			entries, err := os.ReadDir(filepath.Join(f.dir, WorkDirName))
			require.NoError(t, err)
			assert.Empty(t, entries, "no workspace remains")
			assert.Empty(t, f.alerts.alerts)
			assert.Empty(t, f.records.records)
		})
	}
}

func TestProcessPersistenceFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.hits = map[int]float32{4: 0.5}
	f.records.err = errors.New("connection refused")

	res, err := f.processor(t).Process(context.Background(), Request{Filename: "abc.mp4", Body: strings.NewReader("x")})
	require.NoError(t, err)
	assert.Zero(t, res.RecordID)
	assert.Len(t, f.alerts.alerts, 1)
}

func TestProcessRejectsUnsafeFilename(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor(t).Process(context.Background(), Request{Filename: "../etc/passwd", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, f.files(t))
}

func TestProcessCountsDecoderExitErrors(t *testing.T) {
	f := newFixture(t)
	f.hits = map[int]float32{2: 0.9}
	f.backend.closeErr = errors.New("ffmpeg decode: exit status 1")
	before := counterValue(t)

	res, err := f.processor(t).Process(context.Background(), Request{Filename: "abc.mp4", Body: strings.NewReader("x")})

	require.NoError(t, err)
	assert.True(t, res.Verdict.Detected)
	assert.Equal(t, before+1, counterValue(t))
}

func counterValue(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, observability.SourceCloseErrors.Write(&m))
	return m.GetCounter().GetValue()
}

func TestProcessFailureKeepsEarlierArtifacts(t *testing.T) {
	f := newFixture(t)
	f.hits = map[int]float32{2: 0.9}
	p := f.processor(t)

	first, err := p.Process(context.Background(), Request{Filename: "abc.mp4", Body: strings.NewReader("first")})
	require.NoError(t, err)

	f.transcoder.err = errors.New("libx264 missing")
	p = f.processor(t)
	_, err = p.Process(context.Background(), Request{Filename: "abc.mp4", Body: strings.NewReader("second")})
	require.ErrorIs(t, err, ErrTranscode)

	data, err := os.ReadFile(first.OriginalPath)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	assert.FileExists(t, first.ResultPath)
	assert.FileExists(t, first.EvidencePath)
}

func TestFanOutJoinsErrors(t *testing.T) {
	ok := &fakeEvents{}
	fan := FanOut{ok, failingPublisher{}}

	err := fan.PublishDetection(context.Background(), models.DetectionEvent{Filename: "abc.mp4"})
	assert.Error(t, err)
	assert.Len(t, ok.events, 1)
}

type failingPublisher struct{}

func (failingPublisher) PublishDetection(context.Context, models.DetectionEvent) error {
	return errors.New("nats down")
}
