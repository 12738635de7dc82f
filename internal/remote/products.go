package remote

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"cartsync/internal/model"
)

// DefaultProductConcurrency bounds parallel product detail fetches.
const DefaultProductConcurrency = 4

// FetchProducts loads details for ids in parallel, best effort.
// Every id gets an entry; a product that failed to load maps to nil and never
// aborts the rest. Duplicate ids are fetched once.
func FetchProducts(ctx context.Context, svc CartService, ids []model.ProductID, limit int, logger *slog.Logger) map[model.ProductID]*model.Product {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultProductConcurrency
	}

	out := make(map[model.ProductID]*model.Product, len(ids))
	unique := make([]model.ProductID, 0, len(ids))
	for _, id := range ids {
		if _, seen := out[id]; !seen {
			out[id] = nil
			unique = append(unique, id)
		}
	}

	var mu sync.Mutex

	// Workers never return an error, so the group's context stays live and
	// one failed product cannot cancel its siblings.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, id := range unique {
		g.Go(func() error {
			p, err := svc.FetchProduct(gctx, id)
			if err != nil {
				logger.Warn("product detail fetch failed",
					slog.String("product_id", id.String()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}
