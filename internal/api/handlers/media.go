package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/vds/internal/upload"
)

const mediaPrefix = "/static/uploads/"

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// MediaURL is the public URL of a stored upload artifact.
func MediaURL(name string) string {
	return mediaPrefix + name
}

// MediaHandler serves files from the upload directory.
type MediaHandler struct {
	dir string
}

func NewMediaHandler(dir string) *MediaHandler {
	return &MediaHandler{dir: dir}
}

func (h *MediaHandler) Serve(c *gin.Context) {
	name := c.Param("name")
	if name == "" || upload.SecureFilename(name) != name {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	path := filepath.Join(h.dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	if ct, ok := mediaTypes[strings.ToLower(filepath.Ext(name))]; ok {
		c.Header("Content-Type", ct)
	}
	c.File(path)
}
