package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/yungbote/myshop-backend/internal/data/repos"
	"github.com/yungbote/myshop-backend/internal/jobs/runtime"
	"github.com/yungbote/myshop-backend/internal/payments"
	"github.com/yungbote/myshop-backend/internal/platform/dbctx"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

// DefaultInvoicesPerMinute keeps outbound mail under the provider's burst limit.
const DefaultInvoicesPerMinute = 5

type InvoiceLine struct {
	ProductID uint            `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Cost      decimal.Decimal `json:"cost"`
}

// Invoice is everything a sender needs to compose and deliver one invoice.
type Invoice struct {
	OrderID          uint            `json:"order_id"`
	Email            string          `json:"email"`
	FirstName        string          `json:"first_name"`
	LastName         string          `json:"last_name"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Lines            []InvoiceLine   `json:"lines"`
	Total            decimal.Decimal `json:"total"`
}

// InvoiceSender composes and delivers an invoice (email body, PDF).
type InvoiceSender interface {
	SendInvoice(ctx context.Context, inv Invoice) error
}

type LogInvoiceSender struct {
	log *logger.Logger
}

func NewLogInvoiceSender(baseLog *logger.Logger) *LogInvoiceSender {
	return &LogInvoiceSender{log: baseLog.With("service", "LogInvoiceSender")}
}

func (s *LogInvoiceSender) SendInvoice(ctx context.Context, inv Invoice) error {
	s.log.Info("Invoice ready",
		"order_id", inv.OrderID,
		"email", inv.Email,
		"lines", len(inv.Lines),
		"total", inv.Total.StringFixed(2),
	)
	return nil
}

// NewInvoiceLimiter returns a limiter allowing perMinute sends, bursting to one.
func NewInvoiceLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = DefaultInvoicesPerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

type InvoiceHandler struct {
	log     *logger.Logger
	orders  repos.OrderRepo
	jobs    repos.JobRunRepo
	sender  InvoiceSender
	limiter *rate.Limiter
}

func NewInvoiceHandler(baseLog *logger.Logger, orders repos.OrderRepo, jobs repos.JobRunRepo, sender InvoiceSender, limiter *rate.Limiter) *InvoiceHandler {
	if limiter == nil {
		limiter = NewInvoiceLimiter(DefaultInvoicesPerMinute)
	}
	return &InvoiceHandler{
		log:     baseLog.With("handler", "InvoiceHandler"),
		orders:  orders,
		jobs:    jobs,
		sender:  sender,
		limiter: limiter,
	}
}

func (h *InvoiceHandler) Type() string { return payments.TaskInvoiceSend }

func (h *InvoiceHandler) Run(jc *runtime.Context) error {
	orderID, ok := jc.PayloadUint("order_id")
	if !ok {
		err := fmt.Errorf("invoice.send: missing order_id")
		jc.Fail("validate", err)
		return err
	}

	dup, err := alreadySucceeded(jc, h.jobs)
	if err != nil {
		jc.Fail("dedupe", err)
		return err
	}
	if dup {
		h.log.Info("Invoice already sent, skipping", "order_id", orderID, "job_id", jc.Job.ID)
		jc.Succeed("skipped", map[string]any{"order_id": orderID, "duplicate": true})
		return nil
	}

	order, err := h.orders.GetByID(dbctx.Context{Ctx: jc.Ctx}, orderID)
	if err != nil {
		jc.Fail("load_order", err)
		return err
	}
	if order == nil {
		err := fmt.Errorf("invoice.send: order %d not found", orderID)
		jc.Fail("load_order", err)
		return err
	}
	if !order.Paid {
		err := fmt.Errorf("invoice.send: order %d is not paid", orderID)
		jc.Fail("load_order", err)
		return err
	}

	inv := Invoice{
		OrderID:          order.ID,
		Email:            order.Email,
		FirstName:        order.FirstName,
		LastName:         order.LastName,
		PaymentReference: order.PaymentReference,
		Total:            order.TotalCost(),
	}
	for _, l := range order.Lines {
		inv.Lines = append(inv.Lines, InvoiceLine{
			ProductID: l.ProductID,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Cost:      l.Cost(),
		})
	}

	jc.Progress("throttle", "waiting for send slot")
	if err := h.limiter.Wait(jc.Ctx); err != nil {
		jc.Fail("throttle", err)
		return err
	}
	jc.Heartbeat()
	if err := h.sender.SendInvoice(jc.Ctx, inv); err != nil {
		jc.Fail("send", err)
		return err
	}
	jc.Succeed("sent", map[string]any{
		"order_id": order.ID,
		"total":    inv.Total.StringFixed(2),
	})
	return nil
}
