package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/myshop-backend/internal/http/handlers"
	httpMW "github.com/yungbote/myshop-backend/internal/http/middleware"
	"github.com/yungbote/myshop-backend/internal/observability"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string
	AdminToken  string

	WebhookHandler        *httpH.PaymentWebhookHandler
	RecommendationHandler *httpH.RecommendationHandler
	AdminHandler          *httpH.AdminHandler
	HealthHandler         *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "myshop"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		// Payments
		if cfg.WebhookHandler != nil {
			api.POST("/payments/webhook", cfg.WebhookHandler.Receive)
		}

		// Recommendations
		if cfg.RecommendationHandler != nil {
			api.GET("/products/:id/recommendations", cfg.RecommendationHandler.ForProduct)
			api.POST("/recommendations", cfg.RecommendationHandler.ForBasket)
		}
	}

	admin := api.Group("/admin")
	{
		admin.Use(httpMW.RequireAdminToken(cfg.AdminToken))

		if cfg.AdminHandler != nil {
			admin.POST("/recommendations/clear", cfg.AdminHandler.ClearRecommendations)
		}
	}

	return r
}
