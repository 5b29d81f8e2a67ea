package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/takpipe/internal/api/handlers"
	"github.com/your-org/takpipe/internal/api/ws"
	"github.com/your-org/takpipe/internal/auth"
	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/cot"
	"github.com/your-org/takpipe/internal/geo"
	"github.com/your-org/takpipe/internal/pipeline"
	"github.com/your-org/takpipe/internal/queue"
	"github.com/your-org/takpipe/internal/sink"
	"github.com/your-org/takpipe/internal/storage"
)

type RouterConfig struct {
	APIKey     string
	DB         *storage.PostgresStore
	MinIO      *storage.MinIOStore
	Producer   *queue.Producer
	Sink       *sink.TAKSink
	Hub        *ws.Hub
	Pipeline   *pipeline.Service
	Encoder    *cot.Encoder
	Resolver   *geo.Resolver
	GeoConfig  config.GeoConfig
	MaxRetries int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer, cfg.Sink)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Detections
	detH := handlers.NewDetectionHandler(cfg.Pipeline, cfg.DB, cfg.MinIO, cfg.Encoder, cfg.Resolver, cfg.GeoConfig)
	v1.POST("/detections", detH.Ingest)
	v1.GET("/detections", detH.List)
	v1.GET("/detections/:id", detH.Get)
	v1.GET("/detections/:id/cot", detH.CoT)
	v1.GET("/detections/:id/image", detH.Image)

	// Offline queue
	queueH := handlers.NewQueueHandler(cfg.DB, cfg.MaxRetries)
	v1.GET("/queue", queueH.List)

	// Audit trail
	auditH := handlers.NewAuditHandler(cfg.DB)
	v1.GET("/audit", auditH.List)

	return r
}
