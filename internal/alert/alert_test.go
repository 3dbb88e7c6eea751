package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vds/internal/config"
	"github.com/your-org/vds/internal/models"
	"github.com/your-org/vds/internal/upload"
)

var processedAt = time.Date(2025, 6, 11, 14, 5, 9, 0, time.UTC)

func TestMessageWithMetadata(t *testing.T) {
	a := Alert{
		Filename:    "LAB1_11-06-25_11-00.mp4",
		Metadata:    &upload.Metadata{Room: "LAB1", Date: "11 June 2025", Time: "11:00 WIB"},
		ProcessedAt: processedAt,
	}

	assert.Equal(t,
		"⚠️ Tindak kekerasan terjadi pada video: LAB1_11-06-25_11-00.mp4\n"+
			"Ruangan: LAB1\nTanggal: 11 June 2025\nWaktu: 11:00 WIB\n"+
			"Diproses pada: 2025-06-11 14:05:09",
		a.Message())
	assert.Equal(t, "Cuplikan tindak kekerasan pada video - Ruangan: LAB1", a.Caption())
}

func TestMessageWithoutMetadata(t *testing.T) {
	a := Alert{Filename: "abc.mp4", ProcessedAt: processedAt}

	assert.Equal(t, "⚠️ Tindak kekerasan terjadi pada video: abc.mp4\nDiproses pada: 2025-06-11 14:05:09", a.Message())
	assert.Equal(t, "Cuplikan tindak kekerasan pada video", a.Caption())
}

func TestTaskRoundTripKeepsMetadata(t *testing.T) {
	a := Alert{
		ID:           uuid.New(),
		Filename:     "LAB1_11-06-25_11-00.mp4",
		Metadata:     &upload.Metadata{Room: "LAB1", Date: "11 June 2025", Time: "11:00 WIB"},
		ProcessedAt:  processedAt,
		EvidencePath: "static/uploads/violence_frame_LAB1_11-06-25_11-00.jpg",
		EvidenceJPEG: []byte{0xff, 0xd8},
	}

	back := FromTask(a.Task(), []byte{1})
	assert.Equal(t, a.ID, back.ID)
	assert.Equal(t, a.Metadata, back.Metadata)
	assert.Equal(t, a.EvidencePath, back.EvidencePath)
	assert.Equal(t, []byte{1}, back.EvidenceJPEG)

	assert.Nil(t, FromTask(models.AlertTask{Filename: "abc.mp4"}, nil).Metadata)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	photos   []string
	msgErr   error
	photoErr error
}

func (f *fakeNotifier) SendMessage(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return f.msgErr
}

func (f *fakeNotifier) SendPhoto(_ context.Context, _ []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, caption)
	return f.photoErr
}

func (f *fakeNotifier) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages), len(f.photos)
}

func TestDeliverCallsAreIndependent(t *testing.T) {
	n := &fakeNotifier{msgErr: errors.New("chat not found")}
	a := Alert{Filename: "abc.mp4", ProcessedAt: processedAt, EvidenceJPEG: []byte{1}}

	err := Deliver(context.Background(), n, a)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "send message")
	msgs, photos := n.counts()
	assert.Equal(t, 1, msgs)
	assert.Equal(t, 1, photos, "photo is still sent after a failed message")
}

func TestDeliverSkipsPhotoWithoutEvidence(t *testing.T) {
	n := &fakeNotifier{}

	require.NoError(t, Deliver(context.Background(), n, Alert{Filename: "abc.mp4"}))
	msgs, photos := n.counts()
	assert.Equal(t, 1, msgs)
	assert.Zero(t, photos)
}

func TestTelegramSendMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	tg := NewTelegram(config.AlertsConfig{APIURL: srv.URL + "/", BotToken: "TOKEN", ChatID: "42"})
	require.NoError(t, tg.SendMessage(context.Background(), "hello"))

	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestTelegramSendPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendPhoto", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "42", r.FormValue("chat_id"))
		assert.Equal(t, "caption here", r.FormValue("caption"))

		f, hdr, err := r.FormFile("photo")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)
		assert.Equal(t, "violence_frame.jpg", hdr.Filename)

		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	tg := NewTelegram(config.AlertsConfig{APIURL: srv.URL, BotToken: "TOKEN", ChatID: "42"})
	require.NoError(t, tg.SendPhoto(context.Background(), []byte{0xff, 0xd8, 0xff}, "caption here"))
}

func TestTelegramAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	tg := NewTelegram(config.AlertsConfig{APIURL: srv.URL, BotToken: "TOKEN", ChatID: "42"})
	err := tg.SendMessage(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramTransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	tg := NewTelegram(config.AlertsConfig{APIURL: url, BotToken: "SECRET", ChatID: "42"})
	err := tg.SendMessage(context.Background(), "hello")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestAsyncDispatcherDeliversAndDrains(t *testing.T) {
	n := &fakeNotifier{}
	d := NewAsyncDispatcher(n, 4, time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(context.Background(), Alert{Filename: "abc.mp4", EvidenceJPEG: []byte{1}}))
	}
	require.NoError(t, d.Close(context.Background()))

	msgs, photos := n.counts()
	assert.Equal(t, 3, msgs)
	assert.Equal(t, 3, photos)

	assert.ErrorIs(t, d.Dispatch(context.Background(), Alert{}), ErrClosed)
	assert.NoError(t, d.Close(context.Background()), "close is idempotent")
}

// blockingNotifier holds every delivery until release is closed.
type blockingNotifier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingNotifier) SendMessage(context.Context, string) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func (b *blockingNotifier) SendPhoto(context.Context, []byte, string) error { return nil }

func TestAsyncDispatcherDropsWhenFull(t *testing.T) {
	n := &blockingNotifier{started: make(chan struct{}), release: make(chan struct{})}
	d := NewAsyncDispatcher(n, 1, time.Second)

	require.NoError(t, d.Dispatch(context.Background(), Alert{}))
	<-n.started
	require.NoError(t, d.Dispatch(context.Background(), Alert{}))
	assert.ErrorIs(t, d.Dispatch(context.Background(), Alert{}), ErrQueueFull)

	close(n.release)
	require.NoError(t, d.Close(context.Background()))
}

type fakePublisher struct {
	tasks []models.AlertTask
	err   error
}

func (f *fakePublisher) PublishAlert(ctx context.Context, task models.AlertTask) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	f.tasks = append(f.tasks, task)
	return f.err
}

func TestQueueDispatcherPublishesTask(t *testing.T) {
	pub := &fakePublisher{}
	d := NewQueueDispatcher(pub, time.Second)
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Dispatch(ctx, Alert{ID: id, Filename: "abc.mp4", EvidenceKey: "detections/x/e.jpg"}))

	require.Len(t, pub.tasks, 1)
	assert.Equal(t, id, pub.tasks[0].ID)
	assert.Equal(t, "detections/x/e.jpg", pub.tasks[0].EvidenceKey)

	pub.err = errors.New("no responders")
	assert.Error(t, d.Dispatch(context.Background(), Alert{}))
}
