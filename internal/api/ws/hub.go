package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/vds/internal/models"
	"github.com/your-org/vds/internal/observability"
	"github.com/your-org/vds/pkg/dto"
)

const EventDetectionCompleted = "detection_completed"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	violenceOnly bool
}

// Hub maintains active WebSocket clients and broadcasts events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop until ctx is done. Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "violence_only", client.violenceOnly)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case message := <-h.broadcast:
			var evt dto.WSEvent
			positive := json.Unmarshal(message, &evt) == nil && evt.Data.ViolenceDetected

			h.mu.Lock()
			for client := range h.clients {
				if client.violenceOnly && !positive {
					continue
				}
				select {
				case client.send <- message:
				default:
					// Client buffer full, disconnect
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes client. h.mu must be held.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// BroadcastEvent sends an event to all connected clients. It drops the event
// when the broadcast buffer is full.
func (h *Hub) BroadcastEvent(event *dto.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("ws broadcast buffer full, dropping event", "type", event.Type)
	}
}

// PublishDetection broadcasts a completion event.
func (h *Hub) PublishDetection(_ context.Context, ev models.DetectionEvent) error {
	h.BroadcastEvent(ToWSEvent(ev))
	return nil
}

// ToWSEvent converts a completion event to its WebSocket message.
func ToWSEvent(ev models.DetectionEvent) *dto.WSEvent {
	return &dto.WSEvent{
		Type: EventDetectionCompleted,
		Data: dto.DetectionEvent{
			RequestID:        ev.RequestID,
			RecordID:         ev.RecordID,
			Filename:         ev.Filename,
			ViolenceDetected: ev.ViolenceDetected,
			PositiveFrames:   ev.PositiveFrames,
			FramesRead:       ev.FramesRead,
			EvidenceFrame:    ev.EvidenceFrame,
			ResultVideoURL:   "/static/uploads/result_" + ev.Filename,
			ProcessedAt:      ev.ProcessedAt.Format(time.RFC3339),
		},
	}
}

// HandleWS handles WebSocket upgrade requests. ?violence=true limits the
// stream to positive verdicts.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:         conn,
		send:         make(chan []byte, 64),
		violenceOnly: c.Query("violence") == "true",
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// We don't process incoming messages from clients.
		// This loop exists to detect disconnection.
	}
}
