// Package viewclient identifies the UI view behind each request.
//
// Every cart request carries a Cart-View header naming the view (drawer, page,
// header badge) and the client build that rendered it:
//
//	Cart-View: view=drawer, version="v1.4.0"
//
// The header is an RFC 8941 Dictionary. The view name selects which mounted
// cart view serves the request; the version lets the server refuse builds
// that predate a wire change.
package viewclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"
	"golang.org/x/mod/semver"
)

// Header is the request header carrying the view identity.
const Header = "Cart-View"

// Error codes written by Middleware.
const (
	CodeViewRequired       = "cart_view_required"
	CodeVersionUnsupported = "cart_view_version_unsupported"
)

const maxViewName = 64

type contextKey string

const clientContextKey contextKey = "cartsync.view"

// Client is the parsed Cart-View header.
type Client struct {
	View    string
	Version string // canonical semver with "v" prefix, empty when absent
}

// Parse extracts the view name and optional version from a Cart-View header.
// The view may be sent as a token (view=drawer) or a string (view="drawer").
func Parse(header string) (Client, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Client{}, errors.New("empty Cart-View header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return Client{}, fmt.Errorf("invalid Cart-View header: %w", err)
	}

	view, err := stringMember(dict, "view")
	if err != nil {
		return Client{}, err
	}
	if view == "" {
		return Client{}, errors.New("view key not found in Cart-View header")
	}
	if len(view) > maxViewName {
		return Client{}, fmt.Errorf("view name longer than %d bytes", maxViewName)
	}

	version, err := stringMember(dict, "version")
	if err != nil {
		return Client{}, err
	}
	if version != "" {
		version = normalizeVersion(version)
		if !semver.IsValid(version) {
			return Client{}, fmt.Errorf("version %q is not semver", version)
		}
	}

	return Client{View: view, Version: version}, nil
}

// stringMember returns the string or token value of key, or "" when absent.
func stringMember(dict *httpsfv.Dictionary, key string) (string, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", nil
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", key)
	}
	switch v := item.Value.(type) {
	case string:
		return v, nil
	case httpsfv.Token:
		return string(v), nil
	default:
		return "", fmt.Errorf("%s value must be a string or token", key)
	}
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}

// Supports reports whether c may talk to a server requiring minVersion.
// An empty minVersion accepts every client, including those that send no version.
func (c Client) Supports(minVersion string) bool {
	if minVersion == "" {
		return true
	}
	if c.Version == "" {
		return false
	}
	return semver.Compare(c.Version, normalizeVersion(minVersion)) >= 0
}

// Middleware requires a valid Cart-View header on every non-exempt request
// and stores the parsed Client in the request context.
//
// Missing or malformed headers get 400. Clients older than minVersion get
// 426 Upgrade Required.
func Middleware(minVersion string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(Header)
			if header == "" {
				writeError(w, http.StatusBadRequest, CodeViewRequired,
					"Cart-View header is required for cart requests")
				return
			}

			client, err := Parse(header)
			if err != nil {
				logger.Warn("invalid Cart-View header",
					slog.String("header", header),
					slog.String("error", err.Error()))
				writeError(w, http.StatusBadRequest, CodeViewRequired,
					"Invalid Cart-View header: "+err.Error())
				return
			}

			if !client.Supports(minVersion) {
				logger.Info("rejecting outdated view client",
					slog.String("view", client.View),
					slog.String("version", client.Version),
					slog.String("min_version", minVersion))
				writeError(w, http.StatusUpgradeRequired, CodeVersionUnsupported,
					fmt.Sprintf("client version %q is older than required %s", client.Version, minVersion))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
		})
	}
}

// isExemptPath returns true for infrastructure and non-view transports.
// The event stream and MCP name their view in the query or tool arguments.
func isExemptPath(path string) bool {
	switch {
	case path == "/health" || path == "/healthz":
		return true
	case path == "/metrics":
		return true
	case path == "/events":
		return true
	case path == "/mcp" || strings.HasPrefix(path, "/mcp/"):
		return true
	default:
		return false
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	resp.Error.Code = code
	resp.Error.Message = message

	json.NewEncoder(w).Encode(resp)
}

// WithClient returns a context carrying c.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// FromContext returns the Client stored by Middleware.
// ok is false on exempt paths.
func FromContext(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(clientContextKey).(Client)
	return c, ok
}
