package api

import (
	"context"
	"html/template"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/vds/internal/api/handlers"
	"github.com/your-org/vds/internal/api/templates"
	"github.com/your-org/vds/internal/api/ws"
	"github.com/your-org/vds/internal/auth"
	"github.com/your-org/vds/internal/queue"
	"github.com/your-org/vds/internal/storage"
)

type RouterConfig struct {
	APIKey            string
	UploadDir         string
	AllowedExtensions []string
	MaxUploadBytes    int64
	Processor         handlers.Processor
	Hub               *ws.Hub

	// Optional collaborators. History routes and readiness checks are
	// registered only for those that are set.
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer

	// Pages overrides the embedded templates.
	Pages *template.Template
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	pages := cfg.Pages
	if pages == nil {
		pages = templates.Must()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler()
	if cfg.DB != nil {
		systemH.AddCheck("postgres", cfg.DB.Ping)
	}
	if cfg.MinIO != nil {
		systemH.AddCheck("minio", cfg.MinIO.Ping)
	}
	if cfg.Producer != nil {
		p := cfg.Producer
		systemH.AddCheck("nats", func(context.Context) error { return p.Ping() })
	}
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Upload pages
	uploadH := handlers.NewUploadHandler(cfg.Processor, pages, cfg.AllowedExtensions, cfg.MaxUploadBytes)
	r.GET("/", uploadH.Index)
	r.POST("/", uploadH.Upload)

	mediaH := handlers.NewMediaHandler(cfg.UploadDir)
	r.GET("/static/uploads/:name", mediaH.Serve)

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	if cfg.DB != nil {
		historyH := handlers.NewHistoryHandler(cfg.DB, pages)
		r.GET("/history", historyH.Page)
		r.GET("/view/:id", historyH.View)
		v1.GET("/detections", historyH.List)
		v1.GET("/detections/:id", historyH.Get)
	}

	return r
}
