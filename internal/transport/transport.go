// Package transport builds the outbound HTTP transport for the cart API client.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// =============================================================================
// TLS FINGERPRINT TRANSPORT
// =============================================================================
//
// Go's standard TLS client has a distinctive fingerprint that some storefront
// CDNs rate-limit aggressively. The cart API sits behind the same CDN as the
// storefront, so the client can present a browser ClientHello instead:
//
//   1. uTLS builds the ClientHello for the chosen browser
//   2. ALPN negotiates naturally (h2, http/1.1)
//   3. Go's http2.Transport frames HTTP/2 when negotiated, else HTTP/1.1
//
// =============================================================================

// Fingerprint names accepted by New.
const (
	FingerprintNone    = "none"
	FingerprintChrome  = "chrome"
	FingerprintFirefox = "firefox"
)

// DefaultTimeout bounds dialing and TLS handshakes.
const DefaultTimeout = 30 * time.Second

// Options configures New.
type Options struct {
	Fingerprint string        // none (default), chrome or firefox
	Timeout     time.Duration // dial timeout, DefaultTimeout when zero
}

// New returns the RoundTripper for opts.Fingerprint.
// "none" clones http.DefaultTransport, which also serves plain http URLs.
func New(opts Options) (http.RoundTripper, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	switch strings.ToLower(strings.TrimSpace(opts.Fingerprint)) {
	case "", FingerprintNone:
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSHandshakeTimeout = timeout
		return t, nil
	case FingerprintChrome:
		return newFingerprintTransport(timeout, utls.HelloChrome_Auto), nil
	case FingerprintFirefox:
		return newFingerprintTransport(timeout, utls.HelloFirefox_Auto), nil
	default:
		return nil, fmt.Errorf("unsupported TLS fingerprint: %s", opts.Fingerprint)
	}
}

func newFingerprintTransport(timeout time.Duration, hello utls.ClientHelloID) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialFingerprintTLS(ctx, dialer, network, addr, hello)
	}

	// HTTP/2 transport with custom TLS dial
	h2Transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dial(ctx, network, addr)
		},
	}

	// HTTP/1.1 fallback transport with custom TLS dial
	h1Transport := &http.Transport{
		DialTLSContext:    dial,
		ForceAttemptHTTP2: false,
		// Plain http requests (local dev API) bypass the fingerprint.
		DialContext: dialer.DialContext,
	}

	return &fingerprintTransport{
		h2: h2Transport,
		h1: h1Transport,
	}
}

// fingerprintTransport wraps HTTP/2 and HTTP/1.1 transports sharing one TLS dialer.
type fingerprintTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip implements http.RoundTripper.
// https tries HTTP/2 first and falls back to HTTP/1.1 if the server refuses h2.
func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	// A request with a body cannot be replayed once h2 consumed it.
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, err
		}
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

// dialFingerprintTLS establishes a TLS connection with the given browser fingerprint.
func dialFingerprintTLS(ctx context.Context, dialer *net.Dialer, network, addr string, hello utls.ClientHelloID) (net.Conn, error) {
	// Extract hostname for SNI
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, hello)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}
