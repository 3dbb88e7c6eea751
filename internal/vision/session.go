package vision

import (
	"fmt"
	"log/slog"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/vds/internal/config"
)

// Session is the process-wide inference session: a loaded model plus its
// overlay renderer. It is built once at startup, shared read-only by all
// requests and closed at shutdown.
type Session struct {
	Detector   Detector
	Renderer   Renderer
	ClassNames []string

	closers []func()
}

// NewSession initialises ONNX Runtime and loads the detection model.
// scoreThreshold is the detector-side confidence floor.
func NewSession(cfg config.DetectorConfig, scoreThreshold float32) (*Session, error) {
	libPath := cfg.SharedLibrary
	if libPath == "" {
		libPath = onnxLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}

	slog.Info("loading detection model", "path", cfg.ModelPath)
	det, err := NewONNXDetector(ONNXOptions{
		ModelPath:      cfg.ModelPath,
		InputSize:      cfg.InputSize,
		ClassNames:     cfg.ClassNames,
		ScoreThreshold: scoreThreshold,
		NMSThreshold:   float32(cfg.NMSThreshold),
		MaxDetections:  cfg.MaxDetections,
		IntraOpThreads: cfg.IntraOpThreads,
	})
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("detection model ready",
		"classes", det.numClasses,
		"anchors", det.anchors,
		"input_size", det.inputSize,
	)

	return &Session{
		Detector:   det,
		Renderer:   NewBoxRenderer(),
		ClassNames: cfg.ClassNames,
		closers: []func(){
			det.Close,
			func() { _ = ort.DestroyEnvironment() },
		},
	}, nil
}

// Close releases the model and the runtime environment.
func (s *Session) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}

// onnxLibPath returns the ONNX Runtime shared library name for this OS.
func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
