package alert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vds/internal/models"
)

type fakeObjects map[string][]byte

func (f fakeObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	if data, ok := f[key]; ok {
		return data, nil
	}
	return nil, errors.New("no such key")
}

func TestLoadEvidence(t *testing.T) {
	local := filepath.Join(t.TempDir(), "violence_frame_abc.jpg")
	require.NoError(t, os.WriteFile(local, []byte("local"), 0o644))
	objects := fakeObjects{"detections/x/violence_frame_abc.jpg": []byte("remote")}
	ctx := context.Background()

	tests := []struct {
		name    string
		objects ObjectGetter
		task    models.AlertTask
		want    []byte
		wantErr bool
	}{
		{"object key wins", objects, models.AlertTask{EvidenceKey: "detections/x/violence_frame_abc.jpg", EvidencePath: local}, []byte("remote"), false},
		{"missing object falls back to path", objects, models.AlertTask{EvidenceKey: "detections/y/gone.jpg", EvidencePath: local}, []byte("local"), false},
		{"no object store", nil, models.AlertTask{EvidenceKey: "detections/x/violence_frame_abc.jpg", EvidencePath: local}, []byte("local"), false},
		{"no evidence at all", objects, models.AlertTask{}, nil, false},
		{"missing object without path", objects, models.AlertTask{EvidenceKey: "detections/y/gone.jpg"}, nil, true},
		{"missing local file", nil, models.AlertTask{EvidencePath: filepath.Join(t.TempDir(), "gone.jpg")}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadEvidence(ctx, tt.objects, tt.task)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTaskHandlerDeliversTextWhenEvidenceMissing(t *testing.T) {
	n := &fakeNotifier{}
	handle := NewTaskHandler(n, nil)

	err := handle(context.Background(), models.AlertTask{
		ID:           uuid.New(),
		Filename:     "abc.mp4",
		ProcessedAt:  processedAt,
		EvidencePath: filepath.Join(t.TempDir(), "gone.jpg"),
	})

	require.NoError(t, err)
	msgs, photos := n.counts()
	assert.Equal(t, 1, msgs)
	assert.Zero(t, photos)
}

func TestTaskHandlerReturnsDeliveryError(t *testing.T) {
	n := &fakeNotifier{msgErr: errors.New("bot was blocked")}
	handle := NewTaskHandler(n, fakeObjects{"k": []byte{0xff, 0xd8}})

	err := handle(context.Background(), models.AlertTask{ID: uuid.New(), Filename: "abc.mp4", EvidenceKey: "k"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot was blocked")
	_, photos := n.counts()
	assert.Equal(t, 1, photos)
}
