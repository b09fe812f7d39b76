// Package payments turns verified processor notifications into exactly-once
// order payment transitions.
package payments

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	types "github.com/yungbote/myshop-backend/internal/domain"
	"github.com/yungbote/myshop-backend/internal/platform/ctxutil"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

// Task names enqueued after a payment is applied.
const (
	TaskInvoiceSend           = "invoice.send"
	TaskRecommendationsRecord = "recommendations.record"
)

type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeAlreadyPaid   Outcome = "already_paid"
	OutcomeOrderNotFound Outcome = "order_not_found"
	OutcomeIgnored       Outcome = "ignored"
)

// Ledger is the transactional order store the reconciler needs.
type Ledger interface {
	RunInTransaction(ctx context.Context, fn func(tx LedgerTx) error) error
}

type LedgerTx interface {
	// LockOrderForUpdate returns the order under an exclusive row lock held
	// until the transaction ends, or (nil, nil) when it does not exist.
	LockOrderForUpdate(id uint) (*types.Order, error)
	Save(order *types.Order, fields ...string) error
	// OnCommit registers fn to run only once the transaction has committed.
	OnCommit(fn func(ctx context.Context))
}

// Dispatcher enqueues fire-and-forget side effects.
type Dispatcher interface {
	Enqueue(ctx context.Context, taskName string, entityID string, args map[string]any) error
}

type Reconciler struct {
	ledger   Ledger
	dispatch Dispatcher
	log      *logger.Logger
	tracer   trace.Tracer
}

func NewReconciler(ledger Ledger, dispatch Dispatcher, baseLog *logger.Logger) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		dispatch: dispatch,
		log:      baseLog.With("service", "PaymentReconciler"),
		tracer:   otel.Tracer("myshop/payments"),
	}
}

// Reconcile applies sig to its order at most once. Business outcomes (ignored,
// not found, already paid) are values; an error means the ledger transaction
// failed and was rolled back, so nothing was changed or enqueued and the
// delivery is safe to retry.
func (r *Reconciler) Reconcile(ctx context.Context, sig Signal) (Outcome, error) {
	log := r.log.With(ctxutil.LogFields(ctx)...).With("event_id", sig.EventID, "kind", sig.Kind.String())

	orderID, ok := parseOrderID(sig.OrderID)
	if !ok {
		log.Info("Ignoring payment signal without order id", "order_id", sig.OrderID)
		return OutcomeIgnored, nil
	}

	// The transaction runs to completion even if the delivery is cancelled.
	ctx, span := r.tracer.Start(ctxutil.Detached(ctx), "payments.Reconcile", trace.WithAttributes(
		attribute.Int64("order_id", int64(orderID)),
		attribute.String("kind", sig.Kind.String()),
	))
	defer span.End()

	outcome := OutcomeIgnored
	err := r.ledger.RunInTransaction(ctx, func(tx LedgerTx) error {
		order, err := tx.LockOrderForUpdate(orderID)
		if err != nil {
			return err
		}
		if order == nil {
			outcome = OutcomeOrderNotFound
			return nil
		}
		if order.Paid {
			outcome = OutcomeAlreadyPaid
			return nil
		}

		fields := []string{"paid"}
		order.Paid = true
		if ref := strings.TrimSpace(sig.PaymentReference); ref != "" && ref != order.PaymentReference {
			if order.PaymentReference != "" {
				log.Warn("Replacing payment reference", "order_id", orderID, "old", order.PaymentReference, "new", ref)
			}
			order.PaymentReference = ref
			fields = append(fields, "payment_reference")
		}
		if email := strings.TrimSpace(sig.PayerEmail); email != "" && email != order.Email {
			order.Email = email
			fields = append(fields, "email")
		}
		if err := tx.Save(order, fields...); err != nil {
			return err
		}

		entityID := strconv.FormatUint(uint64(order.ID), 10)
		productIDs := order.ProductIDs()
		tx.OnCommit(func(ctx context.Context) {
			r.enqueue(ctx, log, TaskInvoiceSend, entityID, map[string]any{"order_id": order.ID})
			r.enqueue(ctx, log, TaskRecommendationsRecord, entityID, map[string]any{
				"order_id":    order.ID,
				"product_ids": productIDs,
			})
		})
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		span.RecordError(err)
		log.Error("Payment reconciliation rolled back", "order_id", orderID, "error", err)
		return "", fmt.Errorf("reconcile order %d: %w", orderID, err)
	}

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	log.Info("Payment signal reconciled", "order_id", orderID, "outcome", string(outcome))
	return outcome, nil
}

// A committed payment stays applied even when a side effect cannot be queued.
func (r *Reconciler) enqueue(ctx context.Context, log *logger.Logger, task string, entityID string, args map[string]any) {
	if r.dispatch == nil {
		return
	}
	if err := r.dispatch.Enqueue(ctx, task, entityID, args); err != nil {
		log.Error("Failed to enqueue side effect after commit", "task", task, "order_id", entityID, "error", err)
	}
}

func parseOrderID(raw string) (uint, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
