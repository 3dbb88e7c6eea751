package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/vds/internal/models"
)

const (
	AlertsStreamName      = "ALERTS"
	AlertsSubjectBase     = "alerts"
	DetectionsStreamName  = "DETECTIONS"
	DetectionsSubjectBase = "detections"
)

// AlertSubject is the subject an alert for a finished upload is published on.
func AlertSubject() string { return AlertsSubjectBase + ".violence" }

// DetectionSubject is the subject a completion event is published on.
func DetectionSubject(detected bool) string {
	if detected {
		return DetectionsSubjectBase + ".positive"
	}
	return DetectionsSubjectBase + ".negative"
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        AlertsStreamName,
			Subjects:    []string{AlertsSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  5 * time.Minute,
			Description: "Violence alerts waiting for delivery",
		},
		{
			Name:        DetectionsStreamName,
			Subjects:    []string{DetectionsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Completed upload detection events",
		},
	}
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	return ensureStreams(ctx, p.js)
}

func ensureStreams(ctx context.Context, js jetstream.JetStream) error {
	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streamConfigs() {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishAlert enqueues an alert. The task id doubles as the dedup key.
func (p *Producer) PublishAlert(ctx context.Context, task models.AlertTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal alert task: %w", err)
	}

	_, err = p.js.Publish(ctx, AlertSubject(), payload, jetstream.WithMsgID(task.ID.String()))
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// PublishDetection publishes a completion event.
func (p *Producer) PublishDetection(ctx context.Context, ev models.DetectionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal detection event: %w", err)
	}

	_, err = p.js.Publish(ctx, DetectionSubject(ev.ViolenceDetected), payload)
	if err != nil {
		return fmt.Errorf("publish detection event: %w", err)
	}
	return nil
}

// AlertBacklog returns the number of undelivered messages in the ALERTS stream.
func (p *Producer) AlertBacklog(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, AlertsStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
