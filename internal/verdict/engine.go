// Package verdict turns a stream of frames into an annotated stream and a
// video-level violence verdict.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/your-org/vds/internal/config"
	"github.com/your-org/vds/internal/observability"
	"github.com/your-org/vds/internal/video"
	"github.com/your-org/vds/internal/vision"
)

var (
	ErrSource = errors.New("verdict: reading frames failed")
	ErrDetect = errors.New("verdict: detector failed")
	ErrSink   = errors.New("verdict: writing frames failed")
)

// Params are the decision parameters of the engine.
type Params struct {
	// Stride samples frame i (1-based) when i%Stride == 0. Frames in between
	// are never inspected.
	Stride      int
	Threshold   float32
	TargetClass int
	Policy      Policy
	Evidence    EvidenceRule
}

// ParamsFromConfig validates cfg and converts it to Params.
func ParamsFromConfig(cfg config.VerdictConfig) (Params, error) {
	if cfg.Stride < 1 {
		return Params{}, fmt.Errorf("stride must be >= 1, got %d", cfg.Stride)
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return Params{}, fmt.Errorf("confidence threshold must be in [0,1], got %v", cfg.ConfidenceThreshold)
	}
	policy, err := ParsePolicy(cfg.Policy, cfg.MinPositiveFrames, cfg.MinPositiveRatio)
	if err != nil {
		return Params{}, err
	}
	rule, err := ParseEvidenceRule(cfg.Evidence)
	if err != nil {
		return Params{}, err
	}
	return Params{
		Stride:      cfg.Stride,
		Threshold:   float32(cfg.ConfidenceThreshold),
		TargetClass: cfg.TargetClass,
		Policy:      policy,
		Evidence:    rule,
	}, nil
}

// Accept reports the first detection, in detector order, of the target class
// whose confidence is at least threshold.
func Accept(dets []vision.Detection, target int, threshold float32) (vision.Detection, bool) {
	for _, d := range dets {
		if d.ClassID != target {
			continue
		}
		if d.Confidence >= threshold {
			return d, true
		}
	}
	return vision.Detection{}, false
}

// Hit is one positive frame verdict.
type Hit struct {
	FrameIndex int     `json:"frame_index"`
	Confidence float32 `json:"confidence"`
}

// Evidence is the annotated image of the frame chosen to represent a detection.
type Evidence struct {
	FrameIndex int
	Confidence float32
	Image      *image.RGBA
}

// Verdict is the finalized outcome for one video.
type Verdict struct {
	Detected      bool
	Hits          []Hit
	FramesRead    int
	FramesSampled int
	// Evidence is non-nil exactly when Detected is true.
	Evidence *Evidence
}

// Ratio is the share of sampled frames that were positive.
func (v *Verdict) Ratio() float64 {
	return Tally{Sampled: v.FramesSampled, Positive: len(v.Hits)}.Ratio()
}

// MeanConfidence averages the accepted confidences, 0 without hits.
func (v *Verdict) MeanConfidence() float64 {
	if len(v.Hits) == 0 {
		return 0
	}
	var sum float64
	for _, h := range v.Hits {
		sum += float64(h.Confidence)
	}
	return sum / float64(len(v.Hits))
}

// State is the lifecycle stage of one engine run.
type State int

const (
	StateIdle State = iota
	StateOpened
	StateStreaming
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpened:
		return "opened"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine runs the sample, detect, accept and render loop. It is immutable and
// may be shared; each Run keeps its own state.
type Engine struct {
	detector vision.Detector
	renderer vision.Renderer
	params   Params
}

// NewEngine validates params and binds them to a detector and renderer.
func NewEngine(detector vision.Detector, renderer vision.Renderer, params Params) (*Engine, error) {
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if params.Stride < 1 {
		return nil, fmt.Errorf("stride must be >= 1, got %d", params.Stride)
	}
	if params.Policy == nil {
		params.Policy = AnyFrame{}
	}
	return &Engine{detector: detector, renderer: renderer, params: params}, nil
}

// Params returns the engine's decision parameters.
func (e *Engine) Params() Params { return e.params }

type run struct {
	state    State
	verdict  Verdict
	evidence *Evidence
}

func (r *run) transition(to State) {
	slog.Debug("verdict state", "from", r.state, "to", to)
	r.state = to
}

// Run consumes src to the end, writing exactly one frame to sink per frame
// read. Sink is not closed. On error the returned verdict is nil.
func (e *Engine) Run(ctx context.Context, src video.Source, sink video.Writer) (*Verdict, error) {
	r := &run{state: StateIdle}
	r.transition(StateOpened)

	info := src.Info()
	slog.Info("verdict run started",
		"width", info.Width,
		"height", info.Height,
		"fps", info.FPS,
		"stride", e.params.Stride,
		"threshold", e.params.Threshold,
		"target_class", e.params.TargetClass,
		"policy", e.params.Policy.String(),
	)

	r.transition(StateStreaming)
	for {
		if err := ctx.Err(); err != nil {
			r.transition(StateFailed)
			return nil, err
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.transition(StateFailed)
			return nil, fmt.Errorf("%w: %v", ErrSource, err)
		}
		r.verdict.FramesRead++
		observability.FramesRead.Inc()

		out, err := e.step(ctx, r, frame)
		if err != nil {
			r.transition(StateFailed)
			return nil, err
		}
		if err := sink.Write(out); err != nil {
			r.transition(StateFailed)
			return nil, fmt.Errorf("%w: frame %d: %v", ErrSink, frame.Index, err)
		}
	}

	e.finalize(r)
	v := r.verdict
	return &v, nil
}

// step handles one frame and returns the image to emit for it.
func (e *Engine) step(ctx context.Context, r *run, frame video.Frame) (image.Image, error) {
	if frame.Index%e.params.Stride != 0 {
		return frame.Image, nil
	}
	r.verdict.FramesSampled++
	observability.FramesInferred.Inc()

	start := time.Now()
	dets, err := e.detector.Detect(ctx, frame.Image, []int{e.params.TargetClass})
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", ErrDetect, frame.Index, err)
	}

	hit, ok := Accept(dets, e.params.TargetClass, e.params.Threshold)
	if !ok {
		return frame.Image, nil
	}
	observability.PositiveFrames.Inc()
	r.verdict.Hits = append(r.verdict.Hits, Hit{FrameIndex: frame.Index, Confidence: hit.Confidence})
	slog.Debug("positive frame", "frame", frame.Index, "confidence", hit.Confidence)

	start = time.Now()
	annotated := cloneRGBA(frame.Image)
	e.renderer.Render(annotated, dets)
	observability.StageDuration.WithLabelValues("render").Observe(time.Since(start).Seconds())

	if r.evidence == nil || e.params.Evidence == EvidenceLast {
		r.evidence = &Evidence{FrameIndex: frame.Index, Confidence: hit.Confidence, Image: annotated}
	}
	return annotated, nil
}

func (e *Engine) finalize(r *run) {
	tally := Tally{Sampled: r.verdict.FramesSampled, Positive: len(r.verdict.Hits)}
	r.verdict.Detected = tally.Positive > 0 && e.params.Policy.Decide(tally)
	if r.verdict.Detected {
		r.verdict.Evidence = r.evidence
	}
	r.transition(StateFinalized)

	attrs := []any{
		"detected", r.verdict.Detected,
		"frames_read", r.verdict.FramesRead,
		"frames_sampled", r.verdict.FramesSampled,
		"positive_frames", tally.Positive,
		"ratio", fmt.Sprintf("%.3f", r.verdict.Ratio()),
		"mean_confidence", fmt.Sprintf("%.3f", r.verdict.MeanConfidence()),
		"policy", e.params.Policy.String(),
	}
	if r.verdict.Evidence != nil {
		attrs = append(attrs, "evidence_frame", r.verdict.Evidence.FrameIndex)
	}
	slog.Info("verdict finalized", attrs...)
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := &image.RGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}
