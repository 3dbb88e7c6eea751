// Package processing runs one uploaded video through decode, verdict,
// encode and transcode, then publishes the outcome.
package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/vds/internal/alert"
	"github.com/your-org/vds/internal/models"
	"github.com/your-org/vds/internal/observability"
	"github.com/your-org/vds/internal/storage"
	"github.com/your-org/vds/internal/upload"
	"github.com/your-org/vds/internal/verdict"
	"github.com/your-org/vds/internal/video"
)

// Fatal request outcomes. Every one of them leaves no artifact on disk.
var (
	ErrInvalidInput = errors.New("invalid upload")
	ErrDecode       = errors.New("decode failed")
	ErrEncode       = errors.New("encode failed")
	ErrInference    = errors.New("inference failed")
	ErrTranscode    = errors.New("transcode failed")
	ErrStore        = errors.New("store artifacts failed")
)

// Recorder persists detection records.
type Recorder interface {
	CreateDetection(ctx context.Context, d *models.Detection) error
}

// Mirror copies finished artifacts to object storage.
type Mirror interface {
	PutFile(ctx context.Context, key, filePath, contentType string) error
}

// EventPublisher receives a completion event per finished request.
type EventPublisher interface {
	PublishDetection(ctx context.Context, ev models.DetectionEvent) error
}

// FanOut publishes to every publisher, joining their errors.
type FanOut []EventPublisher

func (f FanOut) PublishDetection(ctx context.Context, ev models.DetectionEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishDetection(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Request is one upload. Filename must already be sanitised.
type Request struct {
	Filename string
	Body     io.Reader
}

// Result describes a completed request.
type Result struct {
	ID           uuid.UUID
	Filename     string
	Metadata     *upload.Metadata
	Verdict      *verdict.Verdict
	OriginalPath string
	ResultName   string
	ResultPath   string
	EvidenceName string
	EvidencePath string
	RecordID     int64
	ProcessedAt  time.Time
}

type Options struct {
	UploadDir  string
	Zone       string
	Backend    video.Backend
	Transcoder video.Transcoder
	Engine     *verdict.Engine

	// Optional collaborators.
	Records Recorder
	Mirror  Mirror
	Alerts  alert.Dispatcher
	Events  EventPublisher
	Sweeper *Sweeper
}

type Processor struct {
	opts Options
	now  func() time.Time
}

func NewProcessor(opts Options) (*Processor, error) {
	if opts.UploadDir == "" {
		return nil, fmt.Errorf("upload dir is required")
	}
	if opts.Backend == nil || opts.Transcoder == nil || opts.Engine == nil {
		return nil, fmt.Errorf("backend, transcoder and engine are required")
	}
	if opts.Alerts == nil {
		opts.Alerts = alert.NopDispatcher{}
	}
	if opts.Zone == "" {
		opts.Zone = upload.DefaultZone
	}
	if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Processor{opts: opts, now: time.Now}, nil
}

// Process runs one upload to completion. Persistence, mirroring, alerting
// and event publication failures are logged and do not fail the request.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := p.process(ctx, req)
	observability.StageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		observability.VideosProcessed.WithLabelValues(outcomeLabel(err)).Inc()
		slog.Error("process upload", "file", req.Filename, "error", err)
	case res.Verdict.Detected:
		observability.VideosProcessed.WithLabelValues("violence").Inc()
	default:
		observability.VideosProcessed.WithLabelValues("clean").Inc()
	}
	return res, err
}

func (p *Processor) process(ctx context.Context, req Request) (*Result, error) {
	if p.opts.Sweeper != nil {
		if _, err := p.opts.Sweeper.SweepOnce(); err != nil {
			slog.Warn("pre-request sweep", "error", err)
		}
	}

	name := req.Filename
	if name == "" || upload.SecureFilename(name) != name {
		return nil, fmt.Errorf("%w: unsafe filename %q", ErrInvalidInput, name)
	}

	ws, err := NewWorkspace(p.opts.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	ok := false
	defer func() {
		if !ok {
			if err := ws.Discard(); err != nil {
				slog.Error("discard workspace", "workspace", ws.Dir, "error", err)
			}
		}
	}()

	log := slog.With("request_id", ws.ID, "file", name)

	if err := saveFile(ws.Path(name), req.Body); err != nil {
		return nil, fmt.Errorf("%w: save upload: %w", ErrStore, err)
	}

	res := &Result{
		ID:           ws.ID,
		Filename:     name,
		ResultName:   upload.ResultName(name),
		EvidenceName: upload.EvidenceName(name),
	}
	if meta, found := upload.ParseMetadata(name, p.opts.Zone); found {
		res.Metadata = &meta
	} else {
		log.Info("filename carries no room/date/time metadata")
	}

	tempName := "temp_" + res.ResultName
	v, err := p.runEngine(ctx, ws.Path(name), ws.Path(tempName))
	if err != nil {
		return nil, err
	}
	res.Verdict = v

	if err := video.CheckNonEmpty(ws.Path(tempName)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	tstart := time.Now()
	if err := p.opts.Transcoder.ToBrowser(ctx, ws.Path(tempName), ws.Path(res.ResultName)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscode, err)
	}
	if err := video.CheckNonEmpty(ws.Path(res.ResultName)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscode, err)
	}
	observability.StageDuration.WithLabelValues("transcode").Observe(time.Since(tstart).Seconds())
	_ = os.Remove(ws.Path(tempName))

	var evidenceJPEG []byte
	if v.Evidence != nil {
		evidenceJPEG, err = encodeJPEG(v.Evidence)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
		if err := os.WriteFile(ws.Path(res.EvidenceName), evidenceJPEG, 0o644); err != nil {
			return nil, fmt.Errorf("%w: write evidence: %v", ErrStore, err)
		}
	}

	if res.OriginalPath, err = ws.Promote(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if res.ResultPath, err = ws.Promote(res.ResultName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if v.Evidence != nil {
		if res.EvidencePath, err = ws.Promote(res.EvidenceName); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
	}
	ok = true
	if err := ws.Remove(); err != nil {
		log.Warn("remove workspace", "error", err)
	}
	res.ProcessedAt = p.now()

	p.publish(ctx, log, res, evidenceJPEG)
	return res, nil
}

// runEngine opens the source and the intermediate writer and runs the verdict engine.
func (p *Processor) runEngine(ctx context.Context, inPath, outPath string) (*verdict.Verdict, error) {
	src, err := p.opts.Backend.Open(ctx, inPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	// A decoder that dies mid-file looks like end of stream to the engine;
	// its exit status only shows up here.
	defer func() {
		if err := src.Close(); err != nil {
			observability.SourceCloseErrors.Inc()
			slog.Warn("video source closed with error, verdict may cover a truncated stream",
				"path", inPath, "error", err)
		}
	}()

	w, err := p.opts.Backend.Create(ctx, outPath, src.Info())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	estart := time.Now()
	v, err := p.opts.Engine.Run(ctx, src, w)
	closeErr := w.Close()
	observability.StageDuration.WithLabelValues("verdict").Observe(time.Since(estart).Seconds())
	switch {
	case errors.Is(err, verdict.ErrSource):
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	case errors.Is(err, verdict.ErrDetect):
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	case closeErr != nil:
		return nil, fmt.Errorf("%w: %v", ErrEncode, closeErr)
	}
	return v, nil
}

// publish runs the best-effort side effects of a finished request.
func (p *Processor) publish(ctx context.Context, log *slog.Logger, res *Result, evidenceJPEG []byte) {
	v := res.Verdict

	var prefix, evidenceKey string
	if p.opts.Mirror != nil {
		prefix = storage.DetectionPrefix(res.ID)
		if err := p.opts.Mirror.PutFile(ctx, path.Join(prefix, res.ResultName), res.ResultPath, "video/mp4"); err != nil {
			log.Warn("mirror result video", "error", err)
			prefix = ""
		} else if res.EvidencePath != "" {
			key := path.Join(prefix, res.EvidenceName)
			if err := p.opts.Mirror.PutFile(ctx, key, res.EvidencePath, "image/jpeg"); err != nil {
				log.Warn("mirror evidence image", "error", err)
			} else {
				evidenceKey = key
			}
		}
	}

	if p.opts.Records != nil {
		rec := &models.Detection{
			RequestID:         res.ID,
			Filename:          res.Filename,
			ProcessedAt:       res.ProcessedAt,
			ViolenceDetected:  v.Detected,
			PositiveFrames:    len(v.Hits),
			FramesSampled:     v.FramesSampled,
			MeanConfidence:    float32(v.MeanConfidence()),
			OriginalVideoPath: res.OriginalPath,
			ResultVideoPath:   res.ResultPath,
			ObjectPrefix:      prefix,
		}
		if res.Metadata != nil {
			rec.Room, rec.DetectionDate, rec.DetectionTime = &res.Metadata.Room, &res.Metadata.Date, &res.Metadata.Time
		}
		if res.EvidencePath != "" {
			rec.ScreenshotPath = &res.EvidencePath
		}
		if err := p.opts.Records.CreateDetection(ctx, rec); err != nil {
			log.Error("save detection record", "error", err)
		} else {
			res.RecordID = rec.ID
		}
	}

	if v.Detected {
		a := alert.Alert{
			ID:           res.ID,
			Filename:     res.Filename,
			Metadata:     res.Metadata,
			ProcessedAt:  res.ProcessedAt,
			EvidenceJPEG: evidenceJPEG,
			EvidencePath: res.EvidencePath,
			EvidenceKey:  evidenceKey,
		}
		if err := p.opts.Alerts.Dispatch(ctx, a); err != nil {
			log.Error("dispatch alert", "error", err)
		}
	}

	if p.opts.Events != nil {
		ev := models.DetectionEvent{
			RequestID:        res.ID,
			RecordID:         res.RecordID,
			Filename:         res.Filename,
			ViolenceDetected: v.Detected,
			PositiveFrames:   len(v.Hits),
			FramesRead:       v.FramesRead,
			ProcessedAt:      res.ProcessedAt,
		}
		if v.Evidence != nil {
			ev.EvidenceFrame = v.Evidence.FrameIndex
		}
		if err := p.opts.Events.PublishDetection(ctx, ev); err != nil {
			log.Warn("publish detection event", "error", err)
		}
	}

	log.Info("upload processed",
		"detected", v.Detected,
		"frames", v.FramesRead,
		"positive_frames", len(v.Hits),
		"record_id", res.RecordID,
	)
}

func saveFile(dst string, r io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeJPEG(ev *verdict.Evidence) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, ev.Image, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode evidence frame %d: %w", ev.FrameIndex, err)
	}
	return buf.Bytes(), nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "rejected"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrEncode):
		return "encode_error"
	case errors.Is(err, ErrInference):
		return "inference_error"
	case errors.Is(err, ErrTranscode):
		return "transcode_error"
	default:
		return "error"
	}
}
