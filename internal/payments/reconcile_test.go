package payments

import (
	"context"
	"errors"
	"sync"
	"testing"

	types "github.com/yungbote/myshop-backend/internal/domain"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

type enqueued struct {
	task     string
	entityID string
	args     map[string]any
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []enqueued
	err   error
}

func (d *fakeDispatcher) Enqueue(ctx context.Context, task string, entityID string, args map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, enqueued{task: task, entityID: entityID, args: args})
	return d.err
}

func (d *fakeDispatcher) count(task string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.task == task {
			n++
		}
	}
	return n
}

// memLedger keeps orders in memory. Transactions are serialized by one mutex,
// which plays the role of the row lock; writes go to a copy that is published
// only on commit.
type memLedger struct {
	mu      sync.Mutex
	orders  map[uint]types.Order
	saveErr error
	saves   int
}

func newMemLedger(orders ...types.Order) *memLedger {
	l := &memLedger{orders: map[uint]types.Order{}}
	for _, o := range orders {
		l.orders[o.ID] = o
	}
	return l
}

func (l *memLedger) RunInTransaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	l.mu.Lock()
	tx := &memTx{l: l, staged: map[uint]types.Order{}}
	err := fn(tx)
	if err == nil {
		for id, o := range tx.staged {
			l.orders[id] = o
		}
	}
	l.mu.Unlock()
	if err != nil {
		return err
	}
	for _, h := range tx.hooks {
		h(ctx)
	}
	return nil
}

func (l *memLedger) get(id uint) types.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orders[id]
}

type memTx struct {
	l      *memLedger
	staged map[uint]types.Order
	hooks  []func(ctx context.Context)
}

func (t *memTx) LockOrderForUpdate(id uint) (*types.Order, error) {
	o, ok := t.l.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (t *memTx) Save(order *types.Order, fields ...string) error {
	t.l.saves++
	if t.l.saveErr != nil {
		return t.l.saveErr
	}
	t.staged[order.ID] = *order
	return nil
}

func (t *memTx) OnCommit(fn func(ctx context.Context)) { t.hooks = append(t.hooks, fn) }

func unpaidOrder(id uint, email string, products ...uint) types.Order {
	o := types.Order{ID: id, Email: email}
	for _, p := range products {
		o.Lines = append(o.Lines, types.OrderLine{OrderID: id, ProductID: p, Quantity: 1})
	}
	return o
}

func TestReconcile_AppliesOnceSequentially(t *testing.T) {
	ledger := newMemLedger(unpaidOrder(1, "cart@example.com", 5, 9))
	disp := &fakeDispatcher{}
	r := NewReconciler(ledger, disp, logger.Nop())
	sig := Signal{Kind: KindCheckoutPaid, OrderID: "1", PaymentReference: "pi_1", PayerEmail: "cart@example.com"}

	out, err := r.Reconcile(context.Background(), sig)
	if err != nil || out != OutcomeApplied {
		t.Fatalf("first: want=applied got=%s err=%v", out, err)
	}
	out, err = r.Reconcile(context.Background(), sig)
	if err != nil || out != OutcomeAlreadyPaid {
		t.Fatalf("second: want=already_paid got=%s err=%v", out, err)
	}

	if !ledger.get(1).Paid {
		t.Fatalf("order should be paid")
	}
	if ledger.saves != 1 {
		t.Fatalf("saves: want=1 got=%d", ledger.saves)
	}
	if got := disp.count(TaskInvoiceSend); got != 1 {
		t.Fatalf("invoice tasks: want=1 got=%d", got)
	}
	if got := disp.count(TaskRecommendationsRecord); got != 1 {
		t.Fatalf("recommendation tasks: want=1 got=%d", got)
	}
}

func TestReconcile_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	ledger := newMemLedger(unpaidOrder(1, "a@example.com", 5, 9))
	disp := &fakeDispatcher{}
	r := NewReconciler(ledger, disp, logger.Nop())
	sig := Signal{Kind: KindCheckoutPaid, OrderID: "1", PaymentReference: "pi_1"}

	const n = 16
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := r.Reconcile(context.Background(), sig)
			if err != nil {
				t.Errorf("reconcile: %v", err)
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	applied, already := 0, 0
	for _, o := range outcomes {
		switch o {
		case OutcomeApplied:
			applied++
		case OutcomeAlreadyPaid:
			already++
		}
	}
	if applied != 1 || already != n-1 {
		t.Fatalf("outcomes: applied=%d already_paid=%d", applied, already)
	}
	if disp.count(TaskInvoiceSend) != 1 || disp.count(TaskRecommendationsRecord) != 1 {
		t.Fatalf("side effects: %+v", disp.calls)
	}
}

func TestReconcile_SideEffectPayloads(t *testing.T) {
	ledger := newMemLedger(unpaidOrder(42, "a@example.com", 5, 9, 5))
	disp := &fakeDispatcher{}
	r := NewReconciler(ledger, disp, logger.Nop())

	if _, err := r.Reconcile(context.Background(), Signal{OrderID: "42"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(disp.calls) != 2 {
		t.Fatalf("calls: want=2 got=%d", len(disp.calls))
	}
	for _, c := range disp.calls {
		if c.entityID != "42" || c.args["order_id"] != uint(42) {
			t.Fatalf("unexpected call: %+v", c)
		}
		if c.task == TaskRecommendationsRecord {
			ids, _ := c.args["product_ids"].([]uint)
			if len(ids) != 2 || ids[0] != 5 || ids[1] != 9 {
				t.Fatalf("product_ids: want=[5 9] got=%v", c.args["product_ids"])
			}
		}
	}
}

func TestReconcile_TransactionFailureHasNoSideEffects(t *testing.T) {
	ledger := newMemLedger(unpaidOrder(1, "a@example.com", 5, 9))
	ledger.saveErr = errors.New("disk full")
	disp := &fakeDispatcher{}
	r := NewReconciler(ledger, disp, logger.Nop())

	out, err := r.Reconcile(context.Background(), Signal{OrderID: "1", PaymentReference: "pi_1"})
	if err == nil {
		t.Fatalf("expected error, got outcome=%s", out)
	}
	if !errors.Is(err, ledger.saveErr) {
		t.Fatalf("error should wrap the ledger failure: %v", err)
	}
	if ledger.get(1).Paid {
		t.Fatalf("order must stay unpaid")
	}
	if len(disp.calls) != 0 {
		t.Fatalf("no side effects expected, got %d", len(disp.calls))
	}
}

func TestReconcile_IgnoresUnresolvableOrderID(t *testing.T) {
	ledger := newMemLedger()
	r := NewReconciler(ledger, &fakeDispatcher{}, logger.Nop())
	for _, id := range []string{"", "  ", "abc", "-3", "0"} {
		out, err := r.Reconcile(context.Background(), Signal{Kind: KindIntentSucceeded, OrderID: id})
		if err != nil || out != OutcomeIgnored {
			t.Fatalf("order_id=%q: want=ignored got=%s err=%v", id, out, err)
		}
	}
}

func TestReconcile_MissingOrder(t *testing.T) {
	disp := &fakeDispatcher{}
	r := NewReconciler(newMemLedger(), disp, logger.Nop())
	out, err := r.Reconcile(context.Background(), Signal{OrderID: "404"})
	if err != nil || out != OutcomeOrderNotFound {
		t.Fatalf("want=order_not_found got=%s err=%v", out, err)
	}
	if len(disp.calls) != 0 {
		t.Fatalf("no side effects expected")
	}
}

func TestReconcile_SyncsReferenceAndEmail(t *testing.T) {
	o := unpaidOrder(1, "cart@example.com", 5)
	o.PaymentReference = "pi_old"
	ledger := newMemLedger(o)
	r := NewReconciler(ledger, &fakeDispatcher{}, logger.Nop())

	if _, err := r.Reconcile(context.Background(), Signal{OrderID: "1", PaymentReference: "pi_new", PayerEmail: "payer@example.com"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got := ledger.get(1)
	if got.PaymentReference != "pi_new" {
		t.Fatalf("reference: want=pi_new got=%s", got.PaymentReference)
	}
	if got.Email != "payer@example.com" {
		t.Fatalf("email: want=payer@example.com got=%s", got.Email)
	}
}

func TestReconcile_KeepsFieldsWhenSignalOmitsThem(t *testing.T) {
	o := unpaidOrder(1, "cart@example.com", 5)
	o.PaymentReference = "pi_keep"
	ledger := newMemLedger(o)
	r := NewReconciler(ledger, &fakeDispatcher{}, logger.Nop())

	if _, err := r.Reconcile(context.Background(), Signal{OrderID: "1"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got := ledger.get(1)
	if !got.Paid || got.PaymentReference != "pi_keep" || got.Email != "cart@example.com" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestReconcile_EnqueueFailureKeepsApplied(t *testing.T) {
	ledger := newMemLedger(unpaidOrder(1, "a@example.com", 5, 9))
	disp := &fakeDispatcher{err: errors.New("queue down")}
	r := NewReconciler(ledger, disp, logger.Nop())

	out, err := r.Reconcile(context.Background(), Signal{OrderID: "1"})
	if err != nil || out != OutcomeApplied {
		t.Fatalf("want=applied got=%s err=%v", out, err)
	}
	if !ledger.get(1).Paid {
		t.Fatalf("order should be paid")
	}
}
