package tasks

import (
	"context"
	"fmt"

	"github.com/yungbote/myshop-backend/internal/data/repos"
	"github.com/yungbote/myshop-backend/internal/jobs/runtime"
	"github.com/yungbote/myshop-backend/internal/payments"
	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

type CoPurchaseRecorder interface {
	RecordCoPurchase(ctx context.Context, productIDs []uint)
}

type RecommendationHandler struct {
	log      *logger.Logger
	orders   repos.OrderRepo
	jobs     repos.JobRunRepo
	recorder CoPurchaseRecorder
}

func NewRecommendationHandler(baseLog *logger.Logger, orders repos.OrderRepo, jobs repos.JobRunRepo, recorder CoPurchaseRecorder) *RecommendationHandler {
	return &RecommendationHandler{
		log:      baseLog.With("handler", "RecommendationHandler"),
		orders:   orders,
		jobs:     jobs,
		recorder: recorder,
	}
}

func (h *RecommendationHandler) Type() string { return payments.TaskRecommendationsRecord }

// Run records the order's co-purchases once. Recording counts every call, so a
// run that finds an earlier successful run for the same order does nothing.
func (h *RecommendationHandler) Run(jc *runtime.Context) error {
	orderID, ok := jc.PayloadUint("order_id")
	if !ok {
		err := fmt.Errorf("recommendations.record: missing order_id")
		jc.Fail("validate", err)
		return err
	}

	dup, err := alreadySucceeded(jc, h.jobs)
	if err != nil {
		jc.Fail("dedupe", err)
		return err
	}
	if dup {
		jc.Succeed("skipped", map[string]any{"order_id": orderID, "duplicate": true})
		return nil
	}

	productIDs, ok := jc.PayloadUints("product_ids")
	if !ok {
		order, err := h.orders.GetByID(dbctx.Context{Ctx: jc.Ctx}, orderID)
		if err != nil {
			jc.Fail("load_order", err)
			return err
		}
		if order == nil {
			err := fmt.Errorf("recommendations.record: order %d not found", orderID)
			jc.Fail("load_order", err)
			return err
		}
		productIDs = order.ProductIDs()
	}

	h.recorder.RecordCoPurchase(jc.Ctx, productIDs)
	h.log.Debug("Co-purchase recorded", "order_id", orderID, "products", len(productIDs))
	jc.Succeed("recorded", map[string]any{"order_id": orderID, "products": len(productIDs)})
	return nil
}
