package alert

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/your-org/vds/internal/models"
)

// ObjectGetter reads mirrored artifacts from object storage.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// NewTaskHandler returns the ALERTS consumer handler. Evidence is read from
// object storage when the task names a key, and from the shared upload
// volume otherwise. A missing image downgrades the alert to text only.
// objects may be nil.
func NewTaskHandler(n Notifier, objects ObjectGetter) func(ctx context.Context, task models.AlertTask) error {
	return func(ctx context.Context, task models.AlertTask) error {
		jpeg, err := loadEvidence(ctx, objects, task)
		if err != nil {
			slog.Warn("load alert evidence", "alert_id", task.ID, "error", err)
		}
		if err := Deliver(ctx, n, FromTask(task, jpeg)); err != nil {
			return fmt.Errorf("deliver alert %s: %w", task.ID, err)
		}
		return nil
	}
}

func loadEvidence(ctx context.Context, objects ObjectGetter, task models.AlertTask) ([]byte, error) {
	if task.EvidenceKey != "" && objects != nil {
		data, err := objects.GetObject(ctx, task.EvidenceKey)
		if err == nil {
			return data, nil
		}
		if task.EvidencePath == "" {
			return nil, err
		}
		slog.Debug("evidence object unavailable, reading local copy", "key", task.EvidenceKey, "error", err)
	}
	if task.EvidencePath == "" {
		return nil, nil
	}
	return os.ReadFile(task.EvidencePath)
}
