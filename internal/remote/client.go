package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"cartsync/internal/auth"
	"cartsync/internal/metrics"
	"cartsync/internal/model"
	"cartsync/internal/transport"
)

// userAgent identifies this client to the storefront API.
// Required: the storefront CDN rate-limits requests without User-Agent.
const userAgent = "cartsync/1.0"

// Defaults for Config.
const (
	DefaultTimeout      = 15 * time.Second
	DefaultProductRPS   = 10
	DefaultProductBurst = 5
)

// Config holds the Remote Cart Service client configuration.
type Config struct {
	BaseURL string
	Tokens  auth.TokenSource

	// Transport defaults to transport.New(Options{}) when nil.
	Transport http.RoundTripper
	Timeout   time.Duration

	// ProductRPS throttles GET /product/{id}; product fetches fan out after
	// every reconciliation and are the only bursty call.
	ProductRPS   float64
	ProductBurst int

	// ClientName and ClientVersion populate the Cart-Client header.
	ClientName    string
	ClientVersion string

	Metrics *metrics.Recorder
}

// Client implements CartService over HTTP.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokens       auth.TokenSource
	products     *rate.Limiter
	clientHeader string
	metrics      *metrics.Recorder
}

// New creates a Client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("cart API URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid cart API URL: %w", err)
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rt := cfg.Transport
	if rt == nil {
		var err error
		rt, err = transport.New(transport.Options{Timeout: timeout})
		if err != nil {
			return nil, err
		}
	}

	rps := cfg.ProductRPS
	if rps <= 0 {
		rps = DefaultProductRPS
	}
	burst := cfg.ProductBurst
	if burst <= 0 {
		burst = DefaultProductBurst
	}

	header, err := clientHeader(cfg.ClientName, cfg.ClientVersion)
	if err != nil {
		return nil, err
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout, Transport: rt},
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:       cfg.Tokens,
		products:     rate.NewLimiter(rate.Limit(rps), burst),
		clientHeader: header,
		metrics:      cfg.Metrics,
	}, nil
}

// clientHeader builds the Cart-Client structured field: name="cartsync", version="v1.0.0".
func clientHeader(name, version string) (string, error) {
	if name == "" {
		name = "cartsync"
	}
	dict := httpsfv.NewDictionary()
	dict.Add("name", httpsfv.NewItem(name))
	if version != "" {
		dict.Add("version", httpsfv.NewItem(version))
	}
	header, err := httpsfv.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("encoding Cart-Client header: %w", err)
	}
	return header, nil
}

// cartEnvelope is the wrapped form of GET /cart some deployments return.
type cartEnvelope struct {
	Items []model.LineItem `json:"items"`
}

// FetchCart implements CartService.
func (c *Client) FetchCart(ctx context.Context) ([]model.LineItem, error) {
	body, err := c.do(ctx, OpFetchCart, http.MethodGet, "/cart", nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeCart(body)
	if err != nil {
		return nil, model.NewUpstreamError(OpFetchCart, err)
	}
	return items, nil
}

// decodeCart accepts a bare array or an {items: [...]} envelope.
func decodeCart(body []byte) ([]model.LineItem, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []model.LineItem{}, nil
	}

	var items []model.LineItem
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("parsing cart response: %w", err)
		}
	} else {
		var env cartEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("parsing cart response: %w", err)
		}
		items = env.Items
	}
	return model.CloneItems(items), nil
}

// UpdateCart implements CartService. Each call carries a fresh Idempotency-Key
// so a retried request at the HTTP layer cannot apply twice.
func (c *Client) UpdateCart(ctx context.Context, items []model.LineItem) error {
	payload, err := json.Marshal(model.NewBatchUpdate(items))
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	headers := http.Header{}
	headers.Set("Idempotency-Key", uuid.NewString())
	_, err = c.do(ctx, OpUpdateCart, http.MethodPut, "/cart/update", payload, headers)
	return err
}

// DeleteItem implements CartService.
func (c *Client) DeleteItem(ctx context.Context, id model.ProductID) error {
	_, err := c.do(ctx, OpDeleteItem, http.MethodDelete, "/cart/"+url.PathEscape(id.String()), nil, nil)
	return err
}

// ClearCart implements CartService.
func (c *Client) ClearCart(ctx context.Context) error {
	_, err := c.do(ctx, OpClearCart, http.MethodDelete, "/cart/clear", nil, nil)
	return err
}

// FetchProduct implements CartService. Calls wait on the product rate limiter.
func (c *Client) FetchProduct(ctx context.Context, id model.ProductID) (*model.Product, error) {
	if err := c.products.Wait(ctx); err != nil {
		return nil, model.NewUpstreamError(OpFetchProduct, err)
	}
	body, err := c.do(ctx, OpFetchProduct, http.MethodGet, "/product/"+url.PathEscape(id.String()), nil, nil)
	if err != nil {
		return nil, err
	}
	p, err := model.DecodeProduct(body, id)
	if err != nil {
		return nil, model.NewUpstreamError(OpFetchProduct, err)
	}
	return p, nil
}

// do executes one authenticated request and returns the response body.
// A missing credential fails before any I/O.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, extra http.Header) (body []byte, err error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			return nil, err
		}
		return nil, model.NewUnauthenticatedError(err.Error())
	}

	start := time.Now()
	defer func() { c.metrics.ObserveRemote(op, start, err) }()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, token)
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewUpstreamError(op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(op, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// setHeaders sets the headers every cart API request carries.
func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cart-Client", c.clientHeader)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

// errorResponse is the storefront API's error body; every field is optional.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// parseErrorResponse maps an HTTP failure to the cart error taxonomy.
func parseErrorResponse(op string, statusCode int, body []byte) error {
	var apiErr errorResponse
	json.Unmarshal(body, &apiErr) // Best effort parse

	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Error
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if msg == "" {
			msg = "cart API rejected the credential"
		}
		return model.NewUnauthenticatedError(msg)
	case http.StatusNotFound:
		return model.NewNotFoundError(resourceFor(op))
	case http.StatusTooManyRequests:
		return model.NewRateLimitError(op)
	default:
		return model.NewUpstreamError(op,
			fmt.Errorf("status %d: %s - %s", statusCode, apiErr.Code, msg))
	}
}

func resourceFor(op string) string {
	switch op {
	case OpFetchProduct:
		return "product"
	case OpDeleteItem:
		return "cart item"
	default:
		return "cart"
	}
}
