package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"

	"cartsync/internal/auth"
	"cartsync/internal/metrics"
	"cartsync/internal/model"
)

// missingToken is a TokenSource with nothing stored.
type missingToken struct{}

func (missingToken) Token(context.Context) (string, error) {
	return "", model.NewUnauthenticatedError("no credential stored")
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:       srv.URL,
		Tokens:        auth.StaticToken("tok-123"),
		ClientVersion: "v1.2.0",
		ProductRPS:    1000,
		ProductBurst:  100,
		Metrics:       metrics.New(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c, srv
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{Tokens: auth.StaticToken("x")}},
		{"bad url", Config{BaseURL: "not a url", Tokens: auth.StaticToken("x")}},
		{"missing tokens", Config{BaseURL: "http://localhost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClient_FetchCart(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"productId":1,"quantity":2,"cartItemId":"a"}]`, 1},
		{"envelope", `{"items":[{"productId":1,"quantity":2},{"productId":"x","quantity":1}]}`, 2},
		{"empty", ``, 0},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/cart" {
					t.Errorf("request = %s %s", r.Method, r.URL.Path)
				}
				io.WriteString(w, tt.body)
			})

			items, err := c.FetchCart(context.Background())
			if err != nil {
				t.Fatalf("FetchCart error: %v", err)
			}
			if items == nil || len(items) != tt.want {
				t.Errorf("items = %+v, want %d lines", items, tt.want)
			}
		})
	}
}

func TestClient_FetchCart_InvalidBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items": "nope"}`)
	})
	_, err := c.FetchCart(context.Background())
	if !errors.Is(err, model.ErrUpstream) {
		t.Errorf("error = %v, want ErrUpstream", err)
	}
}

func TestClient_Headers(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("User-Agent = %q", got)
		}
		dict, err := httpsfv.UnmarshalDictionary([]string{r.Header.Get("Cart-Client")})
		if err != nil {
			t.Errorf("Cart-Client not a structured dictionary: %v", err)
			return
		}
		member, _ := dict.Get("version")
		if item, ok := member.(httpsfv.Item); !ok || item.Value != "v1.2.0" {
			t.Errorf("Cart-Client version = %v", member)
		}
		io.WriteString(w, `[]`)
	})

	if _, err := c.FetchCart(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestClient_UpdateCart(t *testing.T) {
	var got model.BatchUpdateRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/cart/update" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if _, err := uuid.Parse(r.Header.Get("Idempotency-Key")); err != nil {
			t.Errorf("Idempotency-Key = %q is not a uuid", r.Header.Get("Idempotency-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"items":[{"productId":1,"quantity":5},{"productId":2,"quantity":5}]}` {
			t.Errorf("body = %s", body)
		}
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.UpdateCart(context.Background(), []model.LineItem{
		{ProductID: "1", Quantity: 5, CartItemID: "a"},
		{ProductID: "2", Quantity: 5},
	})
	if err != nil {
		t.Fatalf("UpdateCart error: %v", err)
	}
	if len(got.Items) != 2 {
		t.Errorf("server saw %d items", len(got.Items))
	}
}

func TestClient_DeleteAndClear(t *testing.T) {
	var paths []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	ctx := context.Background()
	if err := c.DeleteItem(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if err := c.ClearCart(ctx); err != nil {
		t.Fatal(err)
	}
	if strings.Join(paths, ",") != "/cart/1,/cart/clear" {
		t.Errorf("paths = %v", paths)
	}
}

func TestClient_FetchProduct(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/product/7" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"id":7,"name":"Mug","price":"12.50"}`)
	})

	p, err := c.FetchProduct(context.Background(), "7")
	if err != nil {
		t.Fatalf("FetchProduct error: %v", err)
	}
	if p.ID != "7" || p.Name != "Mug" || p.Price != 1250 {
		t.Errorf("product = %+v", p)
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, model.ErrUnauthenticated},
		{http.StatusForbidden, model.ErrUnauthenticated},
		{http.StatusNotFound, model.ErrNotFound},
		{http.StatusTooManyRequests, model.ErrRateLimited},
		{http.StatusInternalServerError, model.ErrUpstream},
		{http.StatusBadGateway, model.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"code":"x","message":"nope"}`)
			})
			_, err := c.FetchCart(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Errorf("error %T is not an APIError", err)
			}
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	err := c.ClearCart(context.Background())
	if !model.IsRemoteFailure(err) {
		t.Errorf("error = %v, want remote failure", err)
	}
}

func TestClient_NoTokenShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Tokens: missingToken{}})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	calls := []func() error{
		func() error { _, err := c.FetchCart(ctx); return err },
		func() error { return c.UpdateCart(ctx, []model.LineItem{{ProductID: "1", Quantity: 1}}) },
		func() error { return c.DeleteItem(ctx, "1") },
		func() error { return c.ClearCart(ctx) },
		func() error { _, err := c.FetchProduct(ctx, "1"); return err },
	}
	for i, call := range calls {
		if err := call(); !errors.Is(err, model.ErrUnauthenticated) {
			t.Errorf("call %d error = %v, want ErrUnauthenticated", i, err)
		}
	}
	if hits.Load() != 0 {
		t.Errorf("server received %d requests without a credential", hits.Load())
	}
}
