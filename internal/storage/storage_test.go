package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDetectionQueryPage(t *testing.T) {
	tests := []struct {
		name       string
		q          DetectionQuery
		wantLimit  int
		wantOffset int
	}{
		{"defaults", DetectionQuery{}, 50, 0},
		{"capped", DetectionQuery{Limit: 10000, Offset: 20}, 500, 20},
		{"negative offset", DetectionQuery{Limit: 5, Offset: -3}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := tt.q.page()
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestDetectionPrefix(t *testing.T) {
	id := uuid.MustParse("8b7c1a8e-4a2f-4a55-9d0e-0d3d1b2e6f10")
	assert.Equal(t, "detections/8b7c1a8e-4a2f-4a55-9d0e-0d3d1b2e6f10", DetectionPrefix(id))
}
