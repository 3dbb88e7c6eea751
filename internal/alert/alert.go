// Package alert formats violence alerts and delivers them to a chat channel.
package alert

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/vds/internal/models"
	"github.com/your-org/vds/internal/observability"
	"github.com/your-org/vds/internal/upload"
)

// Alert is one positive verdict to report.
type Alert struct {
	ID          uuid.UUID
	Filename    string
	Metadata    *upload.Metadata
	ProcessedAt time.Time

	EvidenceJPEG []byte
	EvidencePath string
	EvidenceKey  string
}

// Message is the text notification body.
func (a Alert) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Tindak kekerasan terjadi pada video: %s", html.EscapeString(a.Filename))
	if a.Metadata != nil {
		fmt.Fprintf(&b, "\nRuangan: %s\nTanggal: %s\nWaktu: %s",
			html.EscapeString(a.Metadata.Room), a.Metadata.Date, a.Metadata.Time)
	}
	fmt.Fprintf(&b, "\nDiproses pada: %s", a.ProcessedAt.Format("2006-01-02 15:04:05"))
	return b.String()
}

// Caption is the evidence photo caption.
func (a Alert) Caption() string {
	caption := "Cuplikan tindak kekerasan pada video"
	if a.Metadata != nil && a.Metadata.Room != "" {
		caption += " - Ruangan: " + a.Metadata.Room
	}
	return caption
}

// Task converts the alert to its queue message. The JPEG itself is not
// carried; the notifier loads it from EvidenceKey or EvidencePath.
func (a Alert) Task() models.AlertTask {
	t := models.AlertTask{
		ID:           a.ID,
		Filename:     a.Filename,
		ProcessedAt:  a.ProcessedAt,
		EvidencePath: a.EvidencePath,
		EvidenceKey:  a.EvidenceKey,
	}
	if a.Metadata != nil {
		t.Room, t.Date, t.Time = a.Metadata.Room, a.Metadata.Date, a.Metadata.Time
	}
	return t
}

// FromTask rebuilds an alert from a queue message and its evidence bytes.
func FromTask(t models.AlertTask, jpeg []byte) Alert {
	a := Alert{
		ID:           t.ID,
		Filename:     t.Filename,
		ProcessedAt:  t.ProcessedAt,
		EvidenceJPEG: jpeg,
		EvidencePath: t.EvidencePath,
		EvidenceKey:  t.EvidenceKey,
	}
	if t.Room != "" || t.Date != "" || t.Time != "" {
		a.Metadata = &upload.Metadata{Room: t.Room, Date: t.Date, Time: t.Time}
	}
	return a
}

// Notifier sends the two alert calls.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, jpeg []byte, caption string) error
}

// Deliver sends the text and then the photo. The calls are independent: a
// failed text does not suppress the photo. The returned error joins both
// failures.
func Deliver(ctx context.Context, n Notifier, a Alert) error {
	var errs []error

	if err := n.SendMessage(ctx, a.Message()); err != nil {
		observability.AlertDeliveries.WithLabelValues("message", "error").Inc()
		slog.Error("send alert message", "alert_id", a.ID, "file", a.Filename, "error", err)
		errs = append(errs, fmt.Errorf("send message: %w", err))
	} else {
		observability.AlertDeliveries.WithLabelValues("message", "ok").Inc()
	}

	switch {
	case len(a.EvidenceJPEG) == 0:
		observability.AlertDeliveries.WithLabelValues("photo", "skipped").Inc()
		slog.Warn("alert has no evidence image", "alert_id", a.ID, "file", a.Filename)
	default:
		if err := n.SendPhoto(ctx, a.EvidenceJPEG, a.Caption()); err != nil {
			observability.AlertDeliveries.WithLabelValues("photo", "error").Inc()
			slog.Error("send alert photo", "alert_id", a.ID, "file", a.Filename, "error", err)
			errs = append(errs, fmt.Errorf("send photo: %w", err))
		} else {
			observability.AlertDeliveries.WithLabelValues("photo", "ok").Inc()
		}
	}

	if len(errs) == 0 {
		slog.Info("alert delivered", "alert_id", a.ID, "file", a.Filename)
	}
	return errors.Join(errs...)
}
