package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/yungbote/myshop-backend/internal/observability"
	"github.com/yungbote/myshop-backend/internal/payments"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

const testSecret = "whsec_handler_test"

type fakeReconciler struct {
	mu      sync.Mutex
	signals []payments.Signal
	outcome payments.Outcome
	err     error
}

func (r *fakeReconciler) Reconcile(ctx context.Context, sig payments.Signal) (payments.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return r.outcome, r.err
}

type fakeEngine struct {
	mu      sync.Mutex
	baskets [][]uint
	limits  []int
	result  []uint
	cleared int
}

func (e *fakeEngine) Suggest(ctx context.Context, basket []uint, limit int) []uint {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baskets = append(e.baskets, basket)
	e.limits = append(e.limits, limit)
	return e.result
}

func (e *fakeEngine) ClearAll(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleared++
}

func webhookRouter(t *testing.T, rec SignalReconciler, m *observability.Metrics) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v, err := payments.NewStripeVerifier(testSecret, 0)
	require.NoError(t, err)
	h := NewPaymentWebhookHandler(logger.Nop(), v, rec, m)
	r := gin.New()
	r.POST("/api/payments/webhook", h.Receive)
	return r
}

func postWebhook(r http.Handler, body string, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(body))
	if header != "" {
		req.Header.Set(StripeSignatureHeader, header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func sign(body string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    testSecret,
		Timestamp: time.Now(),
	}).Header
}

const paidCheckout = `{"id":"evt_42","object":"event","type":"checkout.session.completed","data":{"object":{
	"id":"cs_42","object":"checkout.session","mode":"payment","payment_status":"paid",
	"client_reference_id":"42","payment_intent":"pi_42","customer_details":{"email":"buyer@example.com"}}}}`

func TestWebhook_ReconcilesPaidCheckout(t *testing.T) {
	rec := &fakeReconciler{outcome: payments.OutcomeApplied}
	m := observability.NewMetrics()
	r := webhookRouter(t, rec, m)

	resp := postWebhook(r, paidCheckout, sign(paidCheckout))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		Received bool   `json:"received"`
		Outcome  string `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.True(t, body.Received)
	require.Equal(t, "applied", body.Outcome)

	require.Len(t, rec.signals, 1)
	sig := rec.signals[0]
	require.Equal(t, "42", sig.OrderID)
	require.Equal(t, "pi_42", sig.PaymentReference)
	require.Equal(t, "buyer@example.com", sig.PayerEmail)
	require.Equal(t, float64(1), m.WebhookCount("applied"))
}

func TestWebhook_RejectsUnverifiedDeliveries(t *testing.T) {
	rec := &fakeReconciler{outcome: payments.OutcomeApplied}
	m := observability.NewMetrics()
	r := webhookRouter(t, rec, m)

	cases := []struct {
		name   string
		body   string
		header string
		code   string
	}{
		{"missing signature", paidCheckout, "", "missing_signature"},
		{"bad signature", paidCheckout, "t=1,v1=deadbeef", "invalid_event"},
		{"body changed after signing", paidCheckout + " ", sign(paidCheckout), "invalid_event"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postWebhook(r, tc.body, tc.header)
			require.Equal(t, http.StatusBadRequest, resp.Code)
			require.Contains(t, resp.Body.String(), tc.code)
		})
	}
	require.Empty(t, rec.signals)
	require.Equal(t, float64(len(cases)), m.WebhookCount("rejected"))
}

func TestWebhook_RejectsOversizedBody(t *testing.T) {
	rec := &fakeReconciler{}
	r := webhookRouter(t, rec, nil)
	big := `{"pad":"` + strings.Repeat("x", maxWebhookBytes) + `"}`

	resp := postWebhook(r, big, sign(big))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "unreadable_body")
	require.Empty(t, rec.signals)
}

func TestWebhook_AcknowledgesIgnoredEvents(t *testing.T) {
	rec := &fakeReconciler{}
	r := webhookRouter(t, rec, nil)
	body := `{"id":"evt_1","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`

	resp := postWebhook(r, body, sign(body))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"outcome":"ignored"`)
	require.Empty(t, rec.signals)
}

func TestWebhook_SurfacesTransactionFailureAs500(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("reconcile order 42: connection reset")}
	r := webhookRouter(t, rec, nil)

	resp := postWebhook(r, paidCheckout, sign(paidCheckout))
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Contains(t, resp.Body.String(), "reconcile_failed")
	require.NotContains(t, resp.Body.String(), "connection reset")
}

func recommendationRouter(engine *fakeEngine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewRecommendationHandler(engine, nil)
	r := gin.New()
	r.GET("/api/products/:id/recommendations", h.ForProduct)
	r.POST("/api/recommendations", h.ForBasket)
	return r
}

func TestRecommendations_ForProduct(t *testing.T) {
	engine := &fakeEngine{result: []uint{9, 3}}
	r := recommendationRouter(engine)

	cases := []struct {
		path      string
		status    int
		wantLimit int
	}{
		{"/api/products/5/recommendations", http.StatusOK, DefaultSuggestionLimit},
		{"/api/products/5/recommendations?limit=2", http.StatusOK, 2},
		{"/api/products/5/recommendations?limit=500", http.StatusOK, MaxSuggestionLimit},
		{"/api/products/abc/recommendations", http.StatusBadRequest, 0},
		{"/api/products/0/recommendations", http.StatusBadRequest, 0},
		{"/api/products/5/recommendations?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		engine.limits = nil
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%s: status want=%d got=%d", tc.path, tc.status, rec.Code)
		}
		if tc.status != http.StatusOK {
			continue
		}
		if len(engine.limits) != 1 || engine.limits[0] != tc.wantLimit {
			t.Fatalf("%s: limit want=%d got=%v", tc.path, tc.wantLimit, engine.limits)
		}
		if rec.Body.String() != `{"product_ids":[9,3]}` {
			t.Fatalf("%s: body=%s", tc.path, rec.Body.String())
		}
	}
}

func TestRecommendations_ForBasket(t *testing.T) {
	engine := &fakeEngine{}
	r := recommendationRouter(engine)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", bytes.NewBufferString(`{"product_ids":[5,9],"limit":3}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"product_ids":[]}`, rec.Body.String())
	require.Equal(t, []uint{5, 9}, engine.baskets[0])
	require.Equal(t, 3, engine.limits[0])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recommendations", bytes.NewBufferString(`{"product_ids":"x"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminClear_RunsDetached(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := &fakeEngine{}
	h := NewAdminHandler(logger.Nop(), engine)
	r := gin.New()
	r.POST("/clear", h.ClearRecommendations)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/clear", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	cancel()
	h.Wait()

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, engine.cleared)
}

func TestAdminClear_RefusedWhileDraining(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := &fakeEngine{}
	h := NewAdminHandler(logger.Nop(), engine)
	r := gin.New()
	r.POST("/clear", h.ClearRecommendations)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clear", nil))
			switch rec.Code {
			case http.StatusAccepted:
				mu.Lock()
				accepted++
				mu.Unlock()
			case http.StatusServiceUnavailable:
			default:
				t.Errorf("clear status: got=%d", rec.Code)
			}
		}()
	}
	h.Wait()
	wg.Wait()
	// Anything accepted before Wait flipped has finished; anything after it
	// was refused without starting a clear.
	h.Wait()

	engine.mu.Lock()
	cleared := engine.cleared
	engine.mu.Unlock()
	require.Equal(t, accepted, cleared)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clear", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "shutting_down")
}
