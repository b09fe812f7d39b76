package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/myshop-backend/internal/clients/sendgrid"
	"github.com/yungbote/myshop-backend/internal/data/db"
	"github.com/yungbote/myshop-backend/internal/jobs/dispatch"
	"github.com/yungbote/myshop-backend/internal/jobs/runtime"
	"github.com/yungbote/myshop-backend/internal/jobs/tasks"
	"github.com/yungbote/myshop-backend/internal/jobs/worker"
	"github.com/yungbote/myshop-backend/internal/observability"
	"github.com/yungbote/myshop-backend/internal/payments"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
	"github.com/yungbote/myshop-backend/internal/recommend"
	"github.com/yungbote/myshop-backend/internal/recommend/scorestore"
)

type Services struct {
	Verifier   payments.Verifier
	Reconciler *payments.Reconciler
	Engine     *recommend.Engine
	Dispatcher *dispatch.Dispatcher
	Worker     *worker.Worker
}

func wireServices(gdb *gorm.DB, rdb goredis.UniversalClient, log *logger.Logger, cfg *Config, r Repos, metrics *observability.Metrics, sender tasks.InvoiceSender) (Services, error) {
	log.Info("Wiring services...")

	verifier, err := payments.NewStripeVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.Tolerance)
	if err != nil {
		return Services{}, fmt.Errorf("init webhook verifier: %w", err)
	}

	dispatcher := dispatch.NewDispatcher(r.JobRun, log)
	ledger := payments.NewGormLedger(db.NewTransactor(gdb, log), r.Order)
	reconciler := payments.NewReconciler(ledger, dispatcher, log)

	store := scorestore.NewRedisStore(rdb, log, cfg.RecommendTempTTL)
	engine := recommend.NewEngine(store, r.Product, log)

	if sender == nil {
		sender, err = invoiceSender(log, cfg)
		if err != nil {
			return Services{}, err
		}
	}
	registry := runtime.NewRegistry()
	for _, h := range []runtime.Handler{
		tasks.NewInvoiceHandler(log, r.Order, r.JobRun, sender, tasks.NewInvoiceLimiter(cfg.InvoicesPerMinute)),
		tasks.NewRecommendationHandler(log, r.Order, r.JobRun, engine),
	} {
		if err := registry.Register(h); err != nil {
			return Services{}, fmt.Errorf("register job handler: %w", err)
		}
	}
	w := worker.NewWorker(gdb, log, r.JobRun, registry, cfg.workerConfig())
	w.SetObserver(metrics)

	return Services{
		Verifier:   verifier,
		Reconciler: reconciler,
		Engine:     engine,
		Dispatcher: dispatcher,
		Worker:     w,
	}, nil
}

// invoiceSender mails through SendGrid when an API key is configured and logs
// invoices otherwise.
func invoiceSender(log *logger.Logger, cfg *Config) (tasks.InvoiceSender, error) {
	if !cfg.SendGrid.Enabled() {
		log.Warn("SENDGRID_API_KEY not set; invoices will only be logged")
		return tasks.NewLogInvoiceSender(log), nil
	}
	client, err := sendgrid.New(log, cfg.SendGrid)
	if err != nil {
		return nil, fmt.Errorf("init sendgrid: %w", err)
	}
	return tasks.NewMailInvoiceSender(log, client), nil
}
