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

// AlertHandler delivers one decoded alert task.
type AlertHandler func(ctx context.Context, task models.AlertTask) error

// DetectionHandler receives one completion event.
type DetectionHandler func(ctx context.Context, ev models.DetectionEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// EnsureStreams lets a consumer start before any producer has created the streams.
func (c *Consumer) EnsureStreams(ctx context.Context) error {
	return ensureStreams(ctx, c.js)
}

// ConsumeAlerts starts consuming the ALERTS work queue.
// workerCount determines how many goroutines deliver alerts concurrently.
// Messages that fail to decode are terminated rather than redelivered.
func (c *Consumer) ConsumeAlerts(ctx context.Context, consumerName string, handler AlertHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}
	stream, err := c.js.Stream(ctx, AlertsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AlertsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       60 * time.Second,
		MaxDeliver:    3,
		FilterSubject: AlertsSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch alerts error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				var task models.AlertTask
				if err := json.Unmarshal(msg.Data(), &task); err != nil {
					slog.Error("decode alert task", "worker", workerID, "error", err, "subject", msg.Subject())
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, task); err != nil {
					slog.Error("deliver alert error", "worker", workerID, "error", err, "alert_id", task.ID)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}(i)
	}

	slog.Info("alert consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// detectionConsumerConfig is one ephemeral consumer per API instance. The
// server deletes it after a minute without fetches.
func detectionConsumerConfig(instance string) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Name:              "api-ws-" + instance,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     DetectionsSubjectBase + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	}
}

// ConsumeDetections starts consuming completion events (for the API to broadcast
// via WebSocket). instance must be unique per process.
func (c *Consumer) ConsumeDetections(ctx context.Context, instance string, handler DetectionHandler) error {
	stream, err := c.js.Stream(ctx, DetectionsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", DetectionsStreamName, err)
	}

	cfg := detectionConsumerConfig(instance)
	consumerName := cfg.Name
	cons, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var ev models.DetectionEvent
				if err := json.Unmarshal(msg.Data(), &ev); err != nil {
					slog.Error("decode detection event", "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					slog.Error("process detection event error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("detection consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Ping() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
