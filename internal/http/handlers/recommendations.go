package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/myshop-backend/internal/http/response"
	"github.com/yungbote/myshop-backend/internal/observability"
	"github.com/yungbote/myshop-backend/internal/platform/apierr"
	"github.com/yungbote/myshop-backend/internal/platform/ctxutil"
	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

const (
	DefaultSuggestionLimit = 6
	MaxSuggestionLimit     = 50
)

type Suggester interface {
	Suggest(ctx context.Context, basket []uint, limit int) []uint
}

type RecommendationHandler struct {
	engine  Suggester
	metrics *observability.Metrics
}

func NewRecommendationHandler(engine Suggester, metrics *observability.Metrics) *RecommendationHandler {
	return &RecommendationHandler{engine: engine, metrics: metrics}
}

// GET /api/products/:id/recommendations?limit=N
func (h *RecommendationHandler) ForProduct(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.RespondAPIError(c, apierr.BadRequest("invalid_product_id", "product id must be a positive integer"))
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.respond(c, []uint{uint(id)}, limit)
}

type basketRequest struct {
	ProductIDs []uint `json:"product_ids"`
	Limit      int    `json:"limit"`
}

// POST /api/recommendations
func (h *RecommendationHandler) ForBasket(c *gin.Context) {
	var req basketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Limit < 0 {
		response.RespondAPIError(c, apierr.BadRequest("invalid_limit", "limit must be positive"))
		return
	}
	h.respond(c, req.ProductIDs, clampLimit(req.Limit))
}

func (h *RecommendationHandler) respond(c *gin.Context, basket []uint, limit int) {
	h.metrics.IncSuggest(len(basket))
	ids := h.engine.Suggest(c.Request.Context(), basket, limit)
	if ids == nil {
		ids = []uint{}
	}
	response.RespondOK(c, gin.H{"product_ids": ids})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultSuggestionLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierr.BadRequest("invalid_limit", "limit must be a positive integer")
	}
	return clampLimit(n), nil
}

func clampLimit(n int) int {
	switch {
	case n == 0:
		return DefaultSuggestionLimit
	case n > MaxSuggestionLimit:
		return MaxSuggestionLimit
	default:
		return n
	}
}

type Clearer interface {
	ClearAll(ctx context.Context)
}

type AdminHandler struct {
	log    *logger.Logger
	engine Clearer

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewAdminHandler(baseLog *logger.Logger, engine Clearer) *AdminHandler {
	return &AdminHandler{log: baseLog.With("handler", "AdminHandler"), engine: engine}
}

// POST /api/admin/recommendations/clear
func (h *AdminHandler) ClearRecommendations(c *gin.Context) {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		response.RespondError(c, http.StatusServiceUnavailable, "shutting_down", errors.New("server is shutting down"))
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	ctx := ctxutil.Detached(c.Request.Context())
	go func() {
		defer h.wg.Done()
		h.engine.ClearAll(ctx)
		h.log.Info("Recommendation scores cleared")
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "clearing"})
}

// Wait refuses new clears and blocks until every clear already started has
// finished.
func (h *AdminHandler) Wait() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
	h.wg.Wait()
}
