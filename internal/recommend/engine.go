// Package recommend maintains co-purchase associations between products and
// answers "bought together" queries from them.
//
// Scores live only in the score store; nothing is cached between calls. Every
// store failure is logged and swallowed: recommendations must never fail the
// caller.
package recommend

import (
	"context"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/myshop-backend/internal/platform/logger"
	"github.com/yungbote/myshop-backend/internal/recommend/scorestore"
)

const clearConcurrency = 8

// ProductLister enumerates every known product id.
type ProductLister interface {
	ListIDs(ctx context.Context) ([]uint, error)
}

// Suggestion is a candidate product with its aggregated association score.
type Suggestion struct {
	ProductID uint    `json:"product_id"`
	Score     float64 `json:"score"`
}

type Engine struct {
	store    scorestore.Store
	products ProductLister
	log      *logger.Logger
	tracer   trace.Tracer
}

func NewEngine(store scorestore.Store, products ProductLister, baseLog *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		products: products,
		log:      baseLog.With("service", "RecommendationEngine"),
		tracer:   otel.Tracer("myshop/recommend"),
	}
}

// RecordCoPurchase increments the association of every ordered pair of
// distinct products in productIDs by one, so A->B and B->A are written
// separately. Fewer than two distinct ids is a no-op. Calling it twice for the
// same order double counts; callers guard against that.
func (e *Engine) RecordCoPurchase(ctx context.Context, productIDs []uint) {
	ids := distinct(productIDs)
	if len(ids) < 2 {
		return
	}
	ctx, span := e.tracer.Start(ctx, "recommend.RecordCoPurchase", trace.WithAttributes(attribute.Int("products", len(ids))))
	defer span.End()

	for _, id := range ids {
		key := scorestore.Key(id)
		for _, with := range ids {
			if with == id {
				continue
			}
			if err := e.store.Increment(ctx, key, formatID(with), 1); err != nil {
				span.RecordError(err)
				e.log.Warn("Skipping co-purchase recording, score store failed", "product_id", id, "with_id", with, "error", err)
				return
			}
		}
	}
}

// Suggest returns up to limit product ids most often bought together with the
// basket, highest score first, never including a basket product.
func (e *Engine) Suggest(ctx context.Context, basket []uint, limit int) []uint {
	scored := e.SuggestScored(ctx, basket, limit)
	out := make([]uint, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.ProductID)
	}
	return out
}

// SuggestScored is Suggest with the aggregated scores. For a multi-product
// basket the per-product sets are unioned with summed scores, so a product
// bought with two basket items outranks one bought with only one of them.
// Equal scores are ordered by ascending product id.
func (e *Engine) SuggestScored(ctx context.Context, basket []uint, limit int) []Suggestion {
	ids := distinct(basket)
	if len(ids) == 0 || limit <= 0 {
		return []Suggestion{}
	}
	ctx, span := e.tracer.Start(ctx, "recommend.Suggest", trace.WithAttributes(
		attribute.Int("basket", len(ids)),
		attribute.Int("limit", limit),
	))
	defer span.End()

	var (
		entries []scorestore.Entry
		err     error
	)
	if len(ids) == 1 {
		entries, err = e.store.RangeDescending(ctx, scorestore.Key(ids[0]), 0, 0)
	} else {
		entries, err = e.unionRange(ctx, ids)
	}
	if err != nil {
		span.RecordError(err)
		e.log.Warn("Returning no suggestions, score store failed", "basket", ids, "error", err)
		return []Suggestion{}
	}
	return rank(entries, ids, limit)
}

func (e *Engine) unionRange(ctx context.Context, ids []uint) ([]scorestore.Entry, error) {
	tmpKey := "tmp:suggest:" + uuid.NewString()
	keys := make([]string, 0, len(ids))
	members := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, scorestore.Key(id))
		members = append(members, formatID(id))
	}
	if err := e.store.UnionInto(ctx, tmpKey, keys...); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.store.Delete(ctx, tmpKey); err != nil {
			e.log.Debug("Temporary union key left to expire", "key", tmpKey, "error", err)
		}
	}()
	if err := e.store.RemoveMembers(ctx, tmpKey, members...); err != nil {
		return nil, err
	}
	return e.store.RangeDescending(ctx, tmpKey, 0, 0)
}

// ClearAll deletes the association set of every known product. Failures are
// logged and counted; the clear carries on with the remaining keys.
func (e *Engine) ClearAll(ctx context.Context) {
	ids, err := e.products.ListIDs(ctx)
	if err != nil {
		e.log.Warn("Cannot list products for recommendation clear", "error", err)
		return
	}
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clearConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := e.store.Delete(gctx, scorestore.Key(id)); err != nil {
				failed.Add(1)
				e.log.Warn("Failed to clear product associations", "product_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	e.log.Info("Cleared product associations", "products", len(ids), "failed", failed.Load())
}

func rank(entries []scorestore.Entry, basket []uint, limit int) []Suggestion {
	exclude := make(map[uint]struct{}, len(basket))
	for _, id := range basket {
		exclude[id] = struct{}{}
	}
	out := make([]Suggestion, 0, len(entries))
	for _, en := range entries {
		id, err := strconv.ParseUint(en.Member, 10, 64)
		if err != nil || id == 0 {
			continue
		}
		if _, skip := exclude[uint(id)]; skip {
			continue
		}
		out = append(out, Suggestion{ProductID: uint(id), Score: en.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func distinct(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
