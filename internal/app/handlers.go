package app

import (
	"github.com/gin-gonic/gin"

	httpserver "github.com/yungbote/myshop-backend/internal/http"
	httpH "github.com/yungbote/myshop-backend/internal/http/handlers"
	"github.com/yungbote/myshop-backend/internal/observability"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

type Handlers struct {
	Health         *httpH.HealthHandler
	Webhook        *httpH.PaymentWebhookHandler
	Recommendation *httpH.RecommendationHandler
	Admin          *httpH.AdminHandler
}

func wireHandlers(log *logger.Logger, services Services, metrics *observability.Metrics) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:         httpH.NewHealthHandler(),
		Webhook:        httpH.NewPaymentWebhookHandler(log, services.Verifier, services.Reconciler, metrics),
		Recommendation: httpH.NewRecommendationHandler(services.Engine, metrics),
		Admin:          httpH.NewAdminHandler(log, services.Engine),
	}
}

func wireRouter(log *logger.Logger, cfg *Config, handlers Handlers, metrics *observability.Metrics) *gin.Engine {
	return httpserver.NewRouter(httpserver.RouterConfig{
		Log:                   log,
		Metrics:               metrics,
		ServiceName:           cfg.Otel.ServiceName,
		CORSOrigins:           cfg.CORSOrigins,
		AdminToken:            cfg.AdminToken,
		WebhookHandler:        handlers.Webhook,
		RecommendationHandler: handlers.Recommendation,
		AdminHandler:          handlers.Admin,
		HealthHandler:         handlers.Health,
	})
}
