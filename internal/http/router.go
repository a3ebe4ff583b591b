package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/researchbridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/researchbridge-backend/internal/http/middleware"
	"github.com/yungbote/researchbridge-backend/internal/observability"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	HealthHandler   *httpH.HealthHandler
	ResearchHandler *httpH.ResearchHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "researchbridge"
	}
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	if h := cfg.ResearchHandler; h != nil {
		research := api.Group("/research")
		research.POST("", h.Create)
		research.POST("/continue", h.Continue)
		research.GET("/history", h.History)
		research.GET("/stats", h.Stats)
		research.GET("/:id", h.Get)
		research.GET("/:id/documents", h.Documents)
	}

	return r
}
