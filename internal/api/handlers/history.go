package handlers

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/vds/internal/models"
	"github.com/your-org/vds/internal/storage"
	"github.com/your-org/vds/pkg/dto"
)

// DetectionReader reads persisted detection records.
type DetectionReader interface {
	ListDetections(ctx context.Context, q storage.DetectionQuery) ([]models.Detection, int, error)
	GetDetection(ctx context.Context, id int64) (*models.Detection, error)
}

type HistoryHandler struct {
	store DetectionReader
	pages *template.Template
}

func NewHistoryHandler(store DetectionReader, pages *template.Template) *HistoryHandler {
	return &HistoryHandler{store: store, pages: pages}
}

type historyPage struct {
	Detections []models.Detection
}

type viewPage struct {
	Detection   *models.Detection
	OriginalURL string
	ResultURL   string
	EvidenceURL string
}

// Page renders every record, newest first.
func (h *HistoryHandler) Page(c *gin.Context) {
	dets, _, err := h.store.ListDetections(c.Request.Context(), storage.DetectionQuery{Limit: 500})
	if err != nil {
		slog.Error("list detections", "error", err)
		c.String(http.StatusInternalServerError, "Failed to load history")
		return
	}
	h.render(c, http.StatusOK, "history.html", historyPage{Detections: dets})
}

func (h *HistoryHandler) View(c *gin.Context) {
	d, ok := h.lookup(c, func(status int, msg string) { c.String(status, msg) })
	if !ok {
		return
	}
	page := viewPage{
		Detection:   d,
		OriginalURL: MediaURL(filepath.Base(d.OriginalVideoPath)),
		ResultURL:   MediaURL(filepath.Base(d.ResultVideoPath)),
	}
	if d.ScreenshotPath != nil {
		page.EvidenceURL = MediaURL(filepath.Base(*d.ScreenshotPath))
	}
	h.render(c, http.StatusOK, "view.html", page)
}

func (h *HistoryHandler) List(c *gin.Context) {
	var q dto.DetectionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dets, total, err := h.store.ListDetections(c.Request.Context(), storage.DetectionQuery{
		ViolenceOnly: q.Violence,
		Limit:        q.Limit,
		Offset:       q.Offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.DetectionResponse, 0, len(dets))
	for _, d := range dets {
		resp = append(resp, toResponse(d))
	}
	c.JSON(http.StatusOK, dto.DetectionListResponse{Detections: resp, Total: total})
}

func (h *HistoryHandler) Get(c *gin.Context) {
	d, ok := h.lookup(c, func(status int, msg string) { c.JSON(status, gin.H{"error": msg}) })
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResponse(*d))
}

func (h *HistoryHandler) lookup(c *gin.Context, fail func(int, string)) (*models.Detection, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(http.StatusBadRequest, "invalid detection id")
		return nil, false
	}
	d, err := h.store.GetDetection(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		fail(http.StatusNotFound, "detection not found")
		return nil, false
	}
	if err != nil {
		fail(http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return d, true
}

func (h *HistoryHandler) render(c *gin.Context, status int, name string, data any) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := h.pages.ExecuteTemplate(c.Writer, name, data); err != nil {
		slog.Error("render page", "page", name, "error", err)
	}
}

func toResponse(d models.Detection) dto.DetectionResponse {
	resp := dto.DetectionResponse{
		ID:               d.ID,
		RequestID:        d.RequestID,
		Filename:         d.Filename,
		ProcessedAt:      d.ProcessedAt.Format(time.RFC3339),
		ViolenceDetected: d.ViolenceDetected,
		PositiveFrames:   d.PositiveFrames,
		FramesSampled:    d.FramesSampled,
		MeanConfidence:   d.MeanConfidence,
		OriginalVideoURL: MediaURL(filepath.Base(d.OriginalVideoPath)),
		ResultVideoURL:   MediaURL(filepath.Base(d.ResultVideoPath)),
	}
	if d.Room != nil {
		resp.Room = *d.Room
	}
	if d.DetectionDate != nil {
		resp.DetectionDate = *d.DetectionDate
	}
	if d.DetectionTime != nil {
		resp.DetectionTime = *d.DetectionTime
	}
	if d.ScreenshotPath != nil {
		resp.ScreenshotURL = MediaURL(filepath.Base(*d.ScreenshotPath))
	}
	return resp
}
