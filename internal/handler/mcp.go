// MCP transport handler for the cart daemon using the official MCP Go SDK.
// Exposes cart view operations as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cartsync/internal/cart"
	"cartsync/internal/model"
)

// MCPView is the view name used when a tool call names none.
const MCPView = "mcp"

// === MCP Tool Input/Output Types ===
// Every tool takes an optional view; calls naming the same view share one
// mounted cart view with REST requests carrying that Cart-View.

// ViewInput is the input schema for get_cart, sync_cart and clear_cart.
type ViewInput struct {
	View string `json:"view,omitempty" jsonschema:"cart view name, defaults to mcp"`
}

// AddItemInput is the input schema for add_item.
type AddItemInput struct {
	View      string `json:"view,omitempty" jsonschema:"cart view name, defaults to mcp"`
	ProductID string `json:"product_id" jsonschema:"product ID"`
	Quantity  int    `json:"quantity,omitempty" jsonschema:"units to add, defaults to 1"`
}

// SetQuantityInput is the input schema for set_quantity.
type SetQuantityInput struct {
	View      string `json:"view,omitempty" jsonschema:"cart view name, defaults to mcp"`
	ProductID string `json:"product_id" jsonschema:"product ID"`
	Quantity  int    `json:"quantity" jsonschema:"new quantity, 0 removes the line"`
}

// RemoveItemInput is the input schema for remove_item.
type RemoveItemInput struct {
	View      string `json:"view,omitempty" jsonschema:"cart view name, defaults to mcp"`
	ProductID string `json:"product_id" jsonschema:"product ID"`
}

// CartOutput is the structured result of every cart tool.
type CartOutput struct {
	View          string       `json:"view"`
	Status        string       `json:"status"`
	Error         string       `json:"error,omitempty"`
	Lines         []LineOutput `json:"lines"`
	Count         int          `json:"count"`
	TotalQuantity int          `json:"total_quantity"`
	Subtotal      int64        `json:"subtotal"`
	Currency      string       `json:"currency,omitempty"`
}

// LineOutput is one cart line in CartOutput.
type LineOutput struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	State     string `json:"state"`
	Subtotal  int64  `json:"subtotal"`
}

// NewMCPServer creates an MCP server with cart tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "cartsync",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Cart sync daemon. Use these tools to read and edit the signed-in " +
				"user's cart. Edits apply locally at once and reach the server in batches.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the current cart as shown by a view, including per-line sync state.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_cart",
		Description: "Fetch the server cart and reconcile it with the local copy.",
	}, h.mcpSyncCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_item",
		Description: "Add units of a product to the cart.",
	}, h.mcpAddItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_quantity",
		Description: "Set the quantity of a cart line. Quantity 0 removes it.",
	}, h.mcpSetQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_item",
		Description: "Remove a line from the cart.",
	}, h.mcpRemoveItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Remove every line from the cart.",
	}, h.mcpClearCart)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ViewInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	v, err := h.mcpView(ctx, input.View)
	if err != nil {
		return nil, nil, err
	}
	return nil, toCartOutput(v.Snapshot()), nil
}

func (h *Handler) mcpSyncCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ViewInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	v, err := h.mcpView(ctx, input.View)
	if err != nil {
		return nil, nil, err
	}
	// A degraded or failed sync is reported through the snapshot status.
	if err := v.Sync(ctx); err != nil {
		h.logger.Info("mcp sync finished with error", slog.String("error", err.Error()))
	}
	return nil, toCartOutput(v.Snapshot()), nil
}

func (h *Handler) mcpAddItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddItemInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}
	if input.Quantity == 0 {
		input.Quantity = 1
	}

	v, err := h.mcpView(ctx, input.View)
	if err != nil {
		return nil, nil, err
	}
	if err := v.Add(ctx, model.ProductID(input.ProductID), input.Quantity); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, toCartOutput(v.Snapshot()), nil
}

func (h *Handler) mcpSetQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetQuantityInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}

	v, err := h.mcpView(ctx, input.View)
	if err != nil {
		return nil, nil, err
	}
	if err := v.SetQuantity(ctx, model.ProductID(input.ProductID), input.Quantity); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, toCartOutput(v.Snapshot()), nil
}

func (h *Handler) mcpRemoveItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveItemInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}

	v, err := h.mcpView(ctx, input.View)
	if err != nil {
		return nil, nil, err
	}
	if err := v.Remove(ctx, model.ProductID(input.ProductID)); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, toCartOutput(v.Snapshot()), nil
}

func (h *Handler) mcpClearCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ViewInput,
) (*mcp.CallToolResult, *CartOutput, error) {
	v, err := h.mcpView(ctx, input.View)
	if err != nil {
		return nil, nil, err
	}
	if err := v.Clear(ctx); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, toCartOutput(v.Snapshot()), nil
}

// mcpView resolves the named view, mounting it on first use.
func (h *Handler) mcpView(ctx context.Context, name string) (*cart.View, error) {
	if name == "" {
		name = MCPView
	}
	v, err := h.rt.View(ctx, name)
	if v == nil {
		return nil, h.mcpError(err)
	}
	return v, nil
}

// mcpError converts cart errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	if errors.Is(err, cart.ErrClosed) {
		return fmt.Errorf("VIEW_CLOSED: retry the call")
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}

func toCartOutput(s cart.Snapshot) *CartOutput {
	out := &CartOutput{
		View:          s.View,
		Status:        s.Status.String(),
		Error:         s.Error,
		Lines:         make([]LineOutput, 0, len(s.Lines)),
		Count:         s.Count,
		TotalQuantity: s.TotalQuantity,
		Subtotal:      s.Subtotal,
		Currency:      s.Currency,
	}
	for _, l := range s.Lines {
		line := LineOutput{
			ProductID: l.ProductID.String(),
			Quantity:  l.Quantity,
			State:     l.State.String(),
			Subtotal:  l.Subtotal,
		}
		if l.Product != nil {
			line.Name = l.Product.Name
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}
