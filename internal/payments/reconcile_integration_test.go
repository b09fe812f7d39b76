package payments_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/yungbote/myshop-backend/internal/data/db"
	"github.com/yungbote/myshop-backend/internal/data/repos"
	"github.com/yungbote/myshop-backend/internal/data/repos/testutil"
	"github.com/yungbote/myshop-backend/internal/jobs/dispatch"
	"github.com/yungbote/myshop-backend/internal/jobs/runtime"
	"github.com/yungbote/myshop-backend/internal/jobs/tasks"
	"github.com/yungbote/myshop-backend/internal/jobs/worker"
	"github.com/yungbote/myshop-backend/internal/payments"
	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
	"github.com/yungbote/myshop-backend/internal/recommend"
	"github.com/yungbote/myshop-backend/internal/recommend/scorestore"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []tasks.Invoice
}

func (s *recordingSender) SendInvoice(ctx context.Context, inv tasks.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, inv)
	return nil
}

type harness struct {
	db     *gorm.DB
	jobs   repos.JobRunRepo
	rec    *payments.Reconciler
	worker *worker.Worker
	sender *recordingSender
	redis  *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)

	orderRepo := repos.NewOrderRepo(gdb, log)
	jobRepo := repos.NewJobRunRepo(gdb, log)
	ledger := payments.NewGormLedger(db.NewTransactor(gdb, log), orderRepo)
	rec := payments.NewReconciler(ledger, dispatch.NewDispatcher(jobRepo, log), log)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	engine := recommend.NewEngine(scorestore.NewRedisStore(rdb, log, time.Second), repos.NewProductRepo(gdb, log), log)

	sender := &recordingSender{}
	registry := runtime.NewRegistry()
	require.NoError(t, registry.Register(tasks.NewInvoiceHandler(log, orderRepo, jobRepo, sender, rate.NewLimiter(rate.Inf, 1))))
	require.NoError(t, registry.Register(tasks.NewRecommendationHandler(log, orderRepo, jobRepo, engine)))
	w := worker.NewWorker(gdb, log, jobRepo, registry, worker.Config{Concurrency: 1, RetryDelay: 0})

	return &harness{db: gdb, jobs: jobRepo, rec: rec, worker: w, sender: sender, redis: mr}
}

func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n := 0
	for {
		ran, err := h.worker.RunOnce(context.Background(), 1)
		require.NoError(t, err)
		if !ran {
			return n
		}
		n++
	}
}

func (h *harness) jobsFor(t *testing.T, orderID string, task string) int {
	t.Helper()
	list, err := h.jobs.ListByEntity(dbctx.Context{Ctx: context.Background()}, dispatch.EntityOrder, orderID, task)
	require.NoError(t, err)
	return len(list)
}

func TestReconcile_Order42PaidEndToEnd(t *testing.T) {
	h := newHarness(t)
	testutil.SeedProducts(t, h.db, 5, 9)
	testutil.SeedOrder(t, h.db, 42, "cart@example.com",
		testutil.LineSpec{ProductID: 5, Price: "10.00", Quantity: 1},
		testutil.LineSpec{ProductID: 9, Price: "2.50", Quantity: 2},
	)

	sig := payments.Signal{
		Kind:             payments.KindCheckoutPaid,
		OrderID:          "42",
		PaymentReference: "pi_abc",
		OneTimePayment:   true,
	}
	out, err := h.rec.Reconcile(context.Background(), sig)
	require.NoError(t, err)
	require.Equal(t, payments.OutcomeApplied, out)

	order := testutil.ReloadOrder(t, h.db, 42)
	require.True(t, order.Paid)
	require.Equal(t, "pi_abc", order.PaymentReference)
	require.Equal(t, "cart@example.com", order.Email)

	require.Equal(t, 1, h.jobsFor(t, "42", payments.TaskInvoiceSend))
	require.Equal(t, 1, h.jobsFor(t, "42", payments.TaskRecommendationsRecord))

	require.Equal(t, 2, h.drain(t))

	require.Len(t, h.sender.sent, 1)
	require.Equal(t, uint(42), h.sender.sent[0].OrderID)
	require.Equal(t, "15.00", h.sender.sent[0].Total.StringFixed(2))

	s, err := h.redis.ZScore(scorestore.Key(5), "9")
	require.NoError(t, err)
	require.Equal(t, 1.0, s)
	s, err = h.redis.ZScore(scorestore.Key(9), "5")
	require.NoError(t, err)
	require.Equal(t, 1.0, s)

	// Redelivery is a no-op all the way down.
	out, err = h.rec.Reconcile(context.Background(), sig)
	require.NoError(t, err)
	require.Equal(t, payments.OutcomeAlreadyPaid, out)
	require.Equal(t, 0, h.drain(t))
	require.Equal(t, 1, h.jobsFor(t, "42", payments.TaskInvoiceSend))
}

func TestReconcile_ConcurrentDeliveriesAgainstLedger(t *testing.T) {
	h := newHarness(t)
	testutil.SeedOrder(t, h.db, 7, "a@example.com",
		testutil.LineSpec{ProductID: 1},
		testutil.LineSpec{ProductID: 2},
	)
	sig := payments.Signal{Kind: payments.KindCheckoutPaid, OrderID: "7", PaymentReference: "pi_7"}

	const n = 8
	results := make(chan payments.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.rec.Reconcile(context.Background(), sig)
			if err != nil {
				t.Errorf("reconcile: %v", err)
			}
			results <- out
		}()
	}
	wg.Wait()
	close(results)

	counts := map[payments.Outcome]int{}
	for out := range results {
		counts[out]++
	}
	require.Equal(t, 1, counts[payments.OutcomeApplied])
	require.Equal(t, n-1, counts[payments.OutcomeAlreadyPaid])
	require.Equal(t, 1, h.jobsFor(t, "7", payments.TaskInvoiceSend))
	require.Equal(t, 1, h.jobsFor(t, "7", payments.TaskRecommendationsRecord))
}

func TestReconcile_LedgerFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	testutil.SeedOrder(t, h.db, 3, "a@example.com", testutil.LineSpec{ProductID: 1})

	// Break the write after the lock so the transaction fails mid-way.
	require.NoError(t, h.db.Callback().Update().Before("gorm:update").Register("test:fail_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "orders" {
			_ = tx.AddError(gorm.ErrInvalidTransaction)
		}
	}))

	_, err := h.rec.Reconcile(context.Background(), payments.Signal{OrderID: "3", PaymentReference: "pi_3"})
	require.Error(t, err)

	require.NoError(t, h.db.Callback().Update().Remove("test:fail_update"))
	order := testutil.ReloadOrder(t, h.db, 3)
	require.False(t, order.Paid)
	require.Empty(t, order.PaymentReference)
	require.Equal(t, 0, h.jobsFor(t, "3", payments.TaskInvoiceSend))
	require.Equal(t, 0, h.jobsFor(t, "3", payments.TaskRecommendationsRecord))
}

func TestReconcile_UnknownOrderIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	out, err := h.rec.Reconcile(context.Background(), payments.Signal{OrderID: "999"})
	require.NoError(t, err)
	require.Equal(t, payments.OutcomeOrderNotFound, out)
	require.Equal(t, 0, h.drain(t))
}
