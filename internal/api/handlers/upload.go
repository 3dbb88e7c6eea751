package handlers

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/vds/internal/processing"
	"github.com/your-org/vds/internal/upload"
	"github.com/your-org/vds/internal/video"
)

// Processor runs one upload to completion.
type Processor interface {
	Process(ctx context.Context, req processing.Request) (*processing.Result, error)
}

type UploadHandler struct {
	proc     Processor
	pages    *template.Template
	allowed  []string
	maxBytes int64
	now      func() time.Time
}

func NewUploadHandler(proc Processor, pages *template.Template, allowed []string, maxBytes int64) *UploadHandler {
	return &UploadHandler{proc: proc, pages: pages, allowed: allowed, maxBytes: maxBytes, now: time.Now}
}

type indexPage struct {
	Accept string
	Error  string
	Result *resultView
}

type resultView struct {
	Metadata       *upload.Metadata
	Detected       bool
	PositiveFrames int
	FramesSampled  int
	Ratio          float64
	OriginalURL    string
	ResultURL      string
	EvidenceURL    string
}

func (h *UploadHandler) Index(c *gin.Context) {
	h.render(c, http.StatusOK, indexPage{})
}

func (h *UploadHandler) Upload(c *gin.Context) {
	if h.maxBytes > 0 {
		if c.Request.ContentLength > h.maxBytes {
			h.fail(c, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.fail(c, http.StatusRequestEntityTooLarge, "File too large")
		case errors.Is(err, http.ErrMissingFile) && emptyFilePart(c.Request):
			h.fail(c, http.StatusBadRequest, "No file selected")
		default:
			h.fail(c, http.StatusBadRequest, "No file uploaded")
		}
		return
	}
	if fh.Filename == "" {
		h.fail(c, http.StatusBadRequest, "No file selected")
		return
	}

	name := upload.SecureFilename(fh.Filename)
	if name == "" {
		h.fail(c, http.StatusBadRequest, "No file selected")
		return
	}
	if !upload.AllowedFile(fh.Filename, h.allowed) || !upload.AllowedFile(name, h.allowed) {
		h.fail(c, http.StatusBadRequest, "File type not allowed")
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.fail(c, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer f.Close()

	res, err := h.proc.Process(c.Request.Context(), processing.Request{Filename: name, Body: f})
	if err != nil {
		status, msg := processingError(err)
		h.fail(c, status, msg)
		return
	}

	v := res.Verdict
	view := &resultView{
		Metadata:       res.Metadata,
		Detected:       v.Detected,
		PositiveFrames: len(v.Hits),
		FramesSampled:  v.FramesSampled,
		Ratio:          v.Ratio(),
		OriginalURL:    MediaURL(res.Filename),
		ResultURL:      MediaURL(res.ResultName) + "?t=" + strconv.FormatInt(h.now().Unix(), 10),
	}
	if res.EvidencePath != "" {
		view.EvidenceURL = MediaURL(res.EvidenceName)
	}
	h.render(c, http.StatusOK, indexPage{Result: view})
}

func (h *UploadHandler) fail(c *gin.Context, status int, msg string) {
	h.render(c, status, indexPage{Error: msg})
}

func (h *UploadHandler) render(c *gin.Context, status int, page indexPage) {
	exts := make([]string, len(h.allowed))
	for i, e := range h.allowed {
		exts[i] = "." + strings.ToLower(e)
	}
	page.Accept = strings.Join(exts, ",")

	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := h.pages.ExecuteTemplate(c.Writer, "index.html", page); err != nil {
		slog.Error("render index", "error", err)
	}
}

// processingError maps a processing failure to a status and a user facing message.
func processingError(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	case errors.Is(err, processing.ErrInvalidInput):
		return http.StatusBadRequest, "File type not allowed"
	case errors.Is(err, processing.ErrDecode):
		return http.StatusInternalServerError, "Error opening video"
	case errors.Is(err, video.ErrWriterInit):
		return http.StatusInternalServerError, "Failed to initialize video writer"
	case errors.Is(err, processing.ErrEncode), errors.Is(err, processing.ErrInference):
		return http.StatusInternalServerError, "Failed to generate detected video"
	case errors.Is(err, processing.ErrTranscode):
		return http.StatusInternalServerError, "Failed to convert video for browser"
	default:
		return http.StatusInternalServerError, "Failed to process video"
	}
}

// emptyFilePart reports whether the form carried a file field without a
// filename, which is what browsers send when nothing was chosen.
func emptyFilePart(r *http.Request) bool {
	if r.MultipartForm == nil {
		return false
	}
	_, ok := r.MultipartForm.Value["file"]
	return ok
}
