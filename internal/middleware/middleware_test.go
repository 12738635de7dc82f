package middleware

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))

	req := httptest.NewRequest("POST", "/cart/items", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Cart-View", `view=drawer, version="v1.0.0"`)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusCreated)
	}

	logged := buf.String()

	// Verify log contains expected fields
	checks := []string{"method=POST", "path=/cart/items", "status=201", "view=drawer"}
	for _, check := range checks {
		if !strings.Contains(logged, check) {
			t.Errorf("Log missing %q: %s", check, logged)
		}
	}
}

func TestLoggingDefaultStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Don't write status - should default to 200
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	logged := buf.String()
	if !strings.Contains(logged, "status=200") {
		t.Errorf("Expected status=200 in log: %s", logged)
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	req := httptest.NewRequest("GET", "/panic", nil)
	w := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(w, req)

	// Should return 500
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	// Should log the panic
	logged := buf.String()
	if !strings.Contains(logged, "panic recovered") {
		t.Errorf("Log missing panic recovery: %s", logged)
	}
	if !strings.Contains(logged, "test panic") {
		t.Errorf("Log missing panic message: %s", logged)
	}
}

func TestRecoveryNoPanic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/ok", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "ok" {
		t.Errorf("Body = %s, want ok", w.Body.String())
	}
}

func TestChain(t *testing.T) {
	var order []string

	middleware1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m1-before")
			next.ServeHTTP(w, r)
			order = append(order, "m1-after")
		})
	}

	middleware2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m2-before")
			next.ServeHTTP(w, r)
			order = append(order, "m2-after")
		})
	}

	handler := Chain(middleware1, middleware2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	expected := []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}
	if len(order) != len(expected) {
		t.Fatalf("Order length = %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("Order[%d] = %s, want %s", i, order[i], v)
		}
	}
}

func TestResponseWriterMultipleWriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

	// First write should work
	rw.WriteHeader(http.StatusCreated)
	if rw.status != http.StatusCreated {
		t.Errorf("Status = %d, want %d", rw.status, http.StatusCreated)
	}

	// Second write should be ignored
	rw.WriteHeader(http.StatusNotFound)
	if rw.status != http.StatusCreated {
		t.Errorf("Status after second write = %d, want %d", rw.status, http.StatusCreated)
	}

	// Underlying writer should have received first status
	if w.Code != http.StatusCreated {
		t.Errorf("Underlying status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestResponseWriterImplicitStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

	// Write without WriteHeader should trigger implicit 200
	rw.Write([]byte("test"))

	if !rw.wroteHeader {
		t.Error("wroteHeader should be true after Write")
	}
	if rw.status != http.StatusOK {
		t.Errorf("Status = %d, want %d", rw.status, http.StatusOK)
	}
}

func TestLoggingMalformedViewOmitted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	req := httptest.NewRequest("GET", "/cart", nil)
	req.Header.Set("Cart-View", `view="unterminated`)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	logged := buf.String()
	if strings.Contains(logged, "view=") {
		t.Errorf("malformed view should not be logged: %s", logged)
	}
	if !strings.Contains(logged, "status=400") {
		t.Errorf("Expected status=400 in log: %s", logged)
	}
}

func TestRecoveryAfterHeadersWritten(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late panic")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/cart", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if strings.Contains(w.Body.String(), "Internal Server Error") {
		t.Error("recovery should not write a body after headers were sent")
	}
}

// hijackRecorder is a ResponseRecorder that supports Hijack.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	client, server := net.Pipe()
	client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestResponseWriterHijack(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}

	handler := Chain(Logging(logger), Recovery(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := w.(http.Hijacker)
		if !ok {
			t.Error("wrapped writer should implement http.Hijacker")
			return
		}
		conn, _, err := h.Hijack()
		if err != nil {
			t.Errorf("Hijack error: %v", err)
			return
		}
		conn.Close()
	}))

	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/events", nil))

	if !rec.hijacked {
		t.Error("underlying writer was not hijacked")
	}
	logged := buf.String()
	if !strings.Contains(logged, "status=101") || !strings.Contains(logged, "upgraded=true") {
		t.Errorf("Expected upgraded request in log: %s", logged)
	}
}

func TestResponseWriterHijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected error when underlying writer cannot hijack")
	}
	if rw.hijacked {
		t.Error("hijacked should stay false on failure")
	}
}

func TestResponseWriterUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	if rw.Unwrap() != rec {
		t.Error("Unwrap should return the underlying writer")
	}
}
