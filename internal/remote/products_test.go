package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"cartsync/internal/model"
)

func TestFetchProducts(t *testing.T) {
	m := &Mock{
		FetchProductFunc: func(_ context.Context, id model.ProductID) (*model.Product, error) {
			if id == "bad" {
				return nil, model.NewUpstreamError(OpFetchProduct, errors.New("boom"))
			}
			return &model.Product{ID: id, Price: 100}, nil
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	got := FetchProducts(context.Background(), m, []model.ProductID{"1", "bad", "2", "1"}, 2, logger)

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (one entry per distinct id)", len(got))
	}
	if got["1"] == nil || got["2"] == nil {
		t.Errorf("good products missing: %+v", got)
	}
	if p, ok := got["bad"]; !ok || p != nil {
		t.Errorf("failed product entry = %v, %v; want nil, true", p, ok)
	}
	if n := len(m.CallsTo(OpFetchProduct)); n != 3 {
		t.Errorf("FetchProduct calls = %d, want 3", n)
	}
}

func TestFetchProducts_Limit(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	release := make(chan struct{})

	m := &Mock{
		FetchProductFunc: func(_ context.Context, id model.ProductID) (*model.Product, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			<-release
			mu.Lock()
			active--
			mu.Unlock()
			return &model.Product{ID: id}, nil
		},
	}

	ids := []model.ProductID{"1", "2", "3", "4", "5", "6"}
	done := make(chan map[model.ProductID]*model.Product)
	go func() { done <- FetchProducts(context.Background(), m, ids, 2, nil) }()

	close(release)
	got := <-done

	if len(got) != len(ids) {
		t.Errorf("len = %d, want %d", len(got), len(ids))
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestFetchProducts_Empty(t *testing.T) {
	got := FetchProducts(context.Background(), &Mock{}, nil, 0, nil)
	if got == nil || len(got) != 0 {
		t.Errorf("FetchProducts(nil) = %v, want empty map", got)
	}
}
