package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one bounding box reported by the detector.
type Detection struct {
	ClassID    int        `json:"class_id"`
	Label      string     `json:"label"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2 (pixel coordinates)
}

// Detector finds objects of the requested classes in a single frame.
// An empty classes slice means all classes. Implementations must be safe
// for concurrent use and keep no state between calls.
type Detector interface {
	Detect(ctx context.Context, img image.Image, classes []int) ([]Detection, error)
}

// ONNXOptions configures the YOLOv8 ONNX detector.
type ONNXOptions struct {
	ModelPath      string
	InputSize      int
	ClassNames     []string
	ScoreThreshold float32
	NMSThreshold   float32
	MaxDetections  int
	IntraOpThreads int
}

// ONNXDetector runs a YOLOv8 detection model exported to ONNX.
// The model is expected to take images [1,3,S,S] and produce [1,4+nc,anchors].
type ONNXDetector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensor  *ort.Tensor[float32]
	inputSize     int
	numClasses    int
	anchors       int
	classNames    []string
	scoreThresh   float32
	nmsThresh     float32
	maxDetections int
}

// NewONNXDetector loads the model and allocates its input and output tensors.
// ort.InitializeEnvironment must have been called.
func NewONNXDetector(opts ONNXOptions) (*ONNXDetector, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model %s: %w", opts.ModelPath, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("unexpected model signature: %d inputs, %d outputs", len(inputs), len(outputs))
	}

	outDims := outputs[0].Dimensions
	if len(outDims) != 3 || outDims[1] <= 4 {
		return nil, fmt.Errorf("unexpected output shape %v, want [1, 4+classes, anchors]", outDims)
	}
	numClasses := int(outDims[1]) - 4
	anchors := int(outDims[2])

	size := opts.InputSize
	if size <= 0 {
		size = 640
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(size), int64(size)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(numClasses+4), int64(anchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	var sessOpts *ort.SessionOptions
	if opts.IntraOpThreads > 0 {
		sessOpts, err = ort.NewSessionOptions()
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("create session options: %w", err)
		}
		defer sessOpts.Destroy()
		if err := sessOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("set intra op threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		sessOpts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &ONNXDetector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensor:  outputTensor,
		inputSize:     size,
		numClasses:    numClasses,
		anchors:       anchors,
		classNames:    opts.ClassNames,
		scoreThresh:   opts.ScoreThreshold,
		nmsThresh:     opts.NMSThreshold,
		maxDetections: opts.MaxDetections,
	}, nil
}

// Detect runs the model on img and returns boxes in img coordinates, ordered by
// descending confidence.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image, classes []int) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	lb := letterboxInto(d.inputTensor.GetData(), img, d.inputSize)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	dets := decodeYOLOv8(d.outputTensor.GetData(), d.numClasses, d.anchors, lb, d.scoreThresh, classFilter(classes))
	dets = nms(dets, d.nmsThresh)
	if d.maxDetections > 0 && len(dets) > d.maxDetections {
		dets = dets[:d.maxDetections]
	}
	for i := range dets {
		dets[i].Label = labelFor(d.classNames, dets[i].ClassID)
	}
	return dets, nil
}

func (d *ONNXDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

func classFilter(classes []int) map[int]bool {
	if len(classes) == 0 {
		return nil
	}
	m := make(map[int]bool, len(classes))
	for _, c := range classes {
		m[c] = true
	}
	return m
}

func labelFor(names []string, classID int) string {
	if classID >= 0 && classID < len(names) {
		return names[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}

// decodeYOLOv8 turns the [4+nc, anchors] output into detections. Each anchor keeps
// its best class among the allowed ones.
func decodeYOLOv8(out []float32, numClasses, anchors int, lb letterbox, minScore float32, allowed map[int]bool) []Detection {
	var dets []Detection

	for i := 0; i < anchors; i++ {
		bestClass := -1
		var bestScore float32
		for c := 0; c < numClasses; c++ {
			if allowed != nil && !allowed[c] {
				continue
			}
			score := out[(4+c)*anchors+i]
			if bestClass < 0 || score > bestScore {
				bestClass = c
				bestScore = score
			}
		}
		if bestClass < 0 || bestScore < minScore {
			continue
		}

		cx := out[0*anchors+i]
		cy := out[1*anchors+i]
		w := out[2*anchors+i]
		h := out[3*anchors+i]

		x1, y1 := lb.toSource(cx-w/2, cy-h/2)
		x2, y2 := lb.toSource(cx+w/2, cy+h/2)

		dets = append(dets, Detection{
			ClassID:    bestClass,
			Confidence: bestScore,
			BBox:       [4]float32{x1, y1, x2, y2},
		})
	}

	return dets
}

// nms performs class-aware Non-Maximum Suppression on detections.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] || detections[i].ClassID != detections[j].ClassID {
				continue
			}
			if iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
