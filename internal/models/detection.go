package models

import (
	"time"

	"github.com/google/uuid"
)

// Detection is one row of detection_history. Rows are written once per
// completed upload and never updated.
type Detection struct {
	ID                int64     `json:"id" db:"id"`
	RequestID         uuid.UUID `json:"request_id" db:"request_id"`
	Filename          string    `json:"filename" db:"filename"`
	Room              *string   `json:"room,omitempty" db:"room"`
	DetectionDate     *string   `json:"detection_date,omitempty" db:"detection_date"`
	DetectionTime     *string   `json:"detection_time,omitempty" db:"detection_time"`
	ProcessedAt       time.Time `json:"processed_at" db:"processed_at"`
	ViolenceDetected  bool      `json:"violence_detected" db:"violence_detected"`
	PositiveFrames    int       `json:"positive_frames" db:"positive_frames"`
	FramesSampled     int       `json:"frames_sampled" db:"frames_sampled"`
	MeanConfidence    float32   `json:"mean_confidence" db:"mean_confidence"`
	OriginalVideoPath string    `json:"original_video_path" db:"original_video_path"`
	ResultVideoPath   string    `json:"result_video_path" db:"result_video_path"`
	ScreenshotPath    *string   `json:"screenshot_path,omitempty" db:"screenshot_path"`
	ObjectPrefix      string    `json:"object_prefix,omitempty" db:"object_prefix"` // MinIO prefix when mirrored
}

// AlertTask is the message published to the ALERTS stream for the notifier.
type AlertTask struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	Room        string    `json:"room,omitempty"`
	Date        string    `json:"date,omitempty"`
	Time        string    `json:"time,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
	// EvidencePath is the promoted evidence JPEG on the shared upload volume.
	EvidencePath string `json:"evidence_path,omitempty"`
	// EvidenceKey is the MinIO object key of the evidence JPEG, if mirrored.
	EvidenceKey string `json:"evidence_key,omitempty"`
}

// DetectionEvent is published to the DETECTIONS stream and broadcast over
// WebSocket when an upload completes.
type DetectionEvent struct {
	RequestID        uuid.UUID `json:"request_id"`
	RecordID         int64     `json:"record_id,omitempty"`
	Filename         string    `json:"filename"`
	ViolenceDetected bool      `json:"violence_detected"`
	PositiveFrames   int       `json:"positive_frames"`
	FramesRead       int       `json:"frames_read"`
	EvidenceFrame    int       `json:"evidence_frame,omitempty"`
	ProcessedAt      time.Time `json:"processed_at"`
}
