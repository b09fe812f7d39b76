package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/myshop-backend/internal/http/response"
	"github.com/yungbote/myshop-backend/internal/observability"
	"github.com/yungbote/myshop-backend/internal/payments"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

const (
	// StripeSignatureHeader carries the processor's HMAC signature.
	StripeSignatureHeader = "Stripe-Signature"
	maxWebhookBytes       = 1 << 20
)

type SignalReconciler interface {
	Reconcile(ctx context.Context, sig payments.Signal) (payments.Outcome, error)
}

type PaymentWebhookHandler struct {
	log        *logger.Logger
	verifier   payments.Verifier
	reconciler SignalReconciler
	metrics    *observability.Metrics
}

func NewPaymentWebhookHandler(baseLog *logger.Logger, verifier payments.Verifier, reconciler SignalReconciler, metrics *observability.Metrics) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		log:        baseLog.With("handler", "PaymentWebhookHandler"),
		verifier:   verifier,
		reconciler: reconciler,
		metrics:    metrics,
	}
}

// POST /api/payments/webhook
func (h *PaymentWebhookHandler) Receive(c *gin.Context) {
	header := c.GetHeader(StripeSignatureHeader)
	if header == "" {
		h.metrics.IncWebhook("rejected")
		response.RespondError(c, http.StatusBadRequest, "missing_signature", errors.New("missing "+StripeSignatureHeader+" header"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.metrics.IncWebhook("rejected")
		response.RespondError(c, http.StatusBadRequest, "unreadable_body", err)
		return
	}

	ev, err := h.verifier.Verify(payload, header)
	if err != nil {
		h.log.Warn("Webhook verification failed", "error", err)
		h.metrics.IncWebhook("rejected")
		response.RespondError(c, http.StatusBadRequest, "invalid_event", err)
		return
	}

	sig, ok := payments.Normalize(ev)
	if !ok {
		h.log.Debug("Webhook event ignored", "event_id", ev.ID, "event_type", ev.Type)
		h.metrics.IncWebhook(string(payments.OutcomeIgnored))
		h.acknowledge(c, payments.OutcomeIgnored)
		return
	}

	outcome, err := h.reconciler.Reconcile(c.Request.Context(), sig)
	if err != nil {
		h.log.Error("Webhook reconcile failed", "event_id", sig.EventID, "order_id", sig.OrderID, "error", err)
		h.metrics.IncWebhook("failed")
		response.RespondError(c, http.StatusInternalServerError, "reconcile_failed", errors.New("could not record payment"))
		return
	}
	h.metrics.IncWebhook(string(outcome))
	h.acknowledge(c, outcome)
}

func (h *PaymentWebhookHandler) acknowledge(c *gin.Context, outcome payments.Outcome) {
	response.RespondOK(c, gin.H{"received": true, "outcome": outcome})
}
