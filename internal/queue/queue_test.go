package queue

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectsMatchStreams(t *testing.T) {
	assert.Equal(t, "alerts.violence", AlertSubject())
	assert.Equal(t, "detections.positive", DetectionSubject(true))
	assert.Equal(t, "detections.negative", DetectionSubject(false))
}

func TestStreamConfigs(t *testing.T) {
	cfgs := streamConfigs()
	require.Len(t, cfgs, 2)

	alerts := cfgs[0]
	assert.Equal(t, AlertsStreamName, alerts.Name)
	assert.Equal(t, jetstream.WorkQueuePolicy, alerts.Retention)
	assert.Equal(t, []string{"alerts.>"}, alerts.Subjects)
	assert.Equal(t, 5*time.Minute, alerts.Duplicates)

	detections := cfgs[1]
	assert.Equal(t, DetectionsStreamName, detections.Name)
	assert.Equal(t, jetstream.InterestPolicy, detections.Retention)
}

func TestDetectionConsumerIsPerInstance(t *testing.T) {
	a := detectionConsumerConfig("one")
	b := detectionConsumerConfig("two")

	assert.NotEqual(t, a.Name, b.Name)
	assert.Empty(t, a.Durable, "ephemeral, removed after the instance stops")
	assert.Positive(t, a.InactiveThreshold)
	assert.Equal(t, jetstream.DeliverNewPolicy, a.DeliverPolicy)
	assert.Equal(t, "detections.>", a.FilterSubject)
}
