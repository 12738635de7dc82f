package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cartsync/internal/remote"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams represents the params for tools/call method.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

func TestMCPServerCreation(t *testing.T) {
	env := newTestEnv(t, nil)

	if env.h.NewMCPServer() == nil {
		t.Fatal("NewMCPServer returned nil")
	}
	if env.h.NewMCPHandler() == nil {
		t.Fatal("NewMCPHandler returned nil")
	}
}

func TestMCPToolsList(t *testing.T) {
	env := newTestEnv(t, nil)
	sessionID := initMCPSession(t, env.mux)

	resp := callMCP(t, env.mux, sessionID, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/list",
	})
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	var toolsResult struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &toolsResult); err != nil {
		t.Fatalf("Failed to parse tools result: %v", err)
	}

	expectedTools := map[string]bool{
		"get_cart":     false,
		"sync_cart":    false,
		"add_item":     false,
		"set_quantity": false,
		"remove_item":  false,
		"clear_cart":   false,
	}
	for _, tool := range toolsResult.Tools {
		if _, ok := expectedTools[tool.Name]; ok {
			expectedTools[tool.Name] = true
		}
	}
	for name, found := range expectedTools {
		if !found {
			t.Errorf("Expected tool %q not found in tools list", name)
		}
	}
}

func TestMCPAddAndSetQuantity(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "42")
	sessionID := initMCPSession(t, env.mux)

	result := callTool(t, env.mux, sessionID, "add_item", map[string]interface{}{
		"product_id": "3",
		"quantity":   2,
	})
	if result.IsError {
		t.Fatalf("add_item failed: %+v", result.Content)
	}
	out := decodeCartOutput(t, result)
	if out.View != MCPView || out.TotalQuantity != 2 {
		t.Errorf("add_item output = %+v", out)
	}
	if len(out.Lines) != 1 || out.Lines[0].State != "pending_local" || out.Lines[0].Name != "Product 3" {
		t.Errorf("lines = %+v", out.Lines)
	}

	result = callTool(t, env.mux, sessionID, "set_quantity", map[string]interface{}{
		"view":       MCPView,
		"product_id": "3",
		"quantity":   0,
	})
	if result.IsError {
		t.Fatalf("set_quantity failed: %+v", result.Content)
	}
	if out := decodeCartOutput(t, result); out.Count != 0 {
		t.Errorf("count after set_quantity 0 = %d", out.Count)
	}
	waitFor(t, func() bool { return len(env.mock.CallsTo(remote.OpDeleteItem)) == 1 })
}

func TestMCPGetCartSharesViewWithREST(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "42")
	env.do(t, "POST", "/cart/items", `{"productId":8,"quantity":1}`)
	sessionID := initMCPSession(t, env.mux)

	result := callTool(t, env.mux, sessionID, "get_cart", map[string]interface{}{"view": DefaultView})
	out := decodeCartOutput(t, result)
	if out.View != DefaultView || out.Count != 1 || out.Lines[0].ProductID != "8" {
		t.Errorf("get_cart output = %+v", out)
	}
}

func TestMCPToolErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	sessionID := initMCPSession(t, env.mux)

	// Not logged in: mutations are refused.
	result := callTool(t, env.mux, sessionID, "clear_cart", map[string]interface{}{})
	if !result.IsError {
		t.Error("clear_cart without login should fail")
	}
	if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, "UNAUTHENTICATED") {
		t.Errorf("error content = %+v", result.Content)
	}

	env.login(t, "42")
	result = callTool(t, env.mux, sessionID, "remove_item", map[string]interface{}{"product_id": "404"})
	if !result.IsError {
		t.Error("remove_item for unknown line should fail")
	}
	if len(result.Content) == 0 || !strings.Contains(result.Content[0].Text, "LINE_ITEM_NOT_FOUND") {
		t.Errorf("error content = %+v", result.Content)
	}
}

func TestMCPSyncCart(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "42")
	sessionID := initMCPSession(t, env.mux)

	result := callTool(t, env.mux, sessionID, "sync_cart", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("sync_cart failed: %+v", result.Content)
	}
	if out := decodeCartOutput(t, result); out.Status != "ready" {
		t.Errorf("status = %s, want ready", out.Status)
	}
	// Mount syncs once, the tool syncs again.
	if n := len(env.mock.CallsTo(remote.OpFetchCart)); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}
}

func callTool(t *testing.T, mux *http.ServeMux, sessionID, name string, args map[string]interface{}) callToolResult {
	t.Helper()
	raw, _ := json.Marshal(args)
	resp := callMCP(t, mux, sessionID, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      3,
		Method:  "tools/call",
		Params:  toolCallParams{Name: name, Arguments: raw},
	})
	if resp.Error != nil {
		t.Fatalf("%s: unexpected JSON-RPC error: %+v", name, resp.Error)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("%s: failed to parse result: %v", name, err)
	}
	return result
}

func decodeCartOutput(t *testing.T, result callToolResult) CartOutput {
	t.Helper()
	if len(result.Content) == 0 || result.Content[0].Type != "text" {
		t.Fatalf("expected text content, got %+v", result.Content)
	}
	var out CartOutput
	if err := json.Unmarshal([]byte(result.Content[0].Text), &out); err != nil {
		t.Fatalf("Failed to parse cart from result: %v", err)
	}
	return out
}

func callMCP(t *testing.T, mux *http.ServeMux, sessionID string, req jsonrpcRequest) jsonrpcResponse {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, sessionID)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, httpReq)

	// MCP returns 200 OK even for tool errors, error is in the result
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	jsonData, err := parseSSEResponse(w.Body.String())
	if err != nil {
		t.Fatalf("Failed to parse SSE response: %v", err)
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(jsonData, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v\nBody: %s", err, string(jsonData))
	}
	return resp
}

// setMCPHeaders sets the required headers for MCP Streamable HTTP requests.
func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// MCP Streamable HTTP requires Accept header with both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) ([]byte, error) {
	lines := strings.Split(body, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: ")), nil
		}
	}
	// If no SSE format found, assume plain JSON
	return []byte(body), nil
}

// initMCPSession initializes an MCP session and returns the session ID.
func initMCPSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()

	initReq := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]interface{}{},
		},
	}

	body, _ := json.Marshal(initReq)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, "")
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Failed to initialize MCP session: %s", w.Body.String())
	}
	sessionID := w.Header().Get("Mcp-Session-Id")

	notify, _ := json.Marshal(map[string]string{"jsonrpc": "2.0", "method": "notifications/initialized"})
	notifyReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(notify))
	setMCPHeaders(notifyReq, sessionID)
	mux.ServeHTTP(httptest.NewRecorder(), notifyReq)

	return sessionID
}
