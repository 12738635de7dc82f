// cartctl is a CLI tool for driving a running cartd daemon.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	cartctl login -user ID -token TOKEN [-remember]
//	cartctl get [-view NAME]
//	cartctl add -product ID [-qty N]
//	cartctl set -product ID -qty N
//	cartctl remove -product ID
//	cartctl watch [-view NAME]
//
// Examples:
//
//	cartctl login -user 42 -token abc -remember
//	cartctl add -view drawer -product 60 -qty 2
//	cartctl get -view page -q
//	cartctl guest-add -product 60
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cartsync/internal/model"
	"cartsync/internal/viewclient"
)

const clientVersion = "v1.0.0"

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	daemonURL string
	viewName  string
	quiet     bool
	noColor   bool
	verbose   bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray, colorBold = "", "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "login":
		runLogin(args)
	case "logout":
		runLogout(args)
	case "get":
		runCartCommand("get", args, "GET", "/cart", "Cart retrieved")
	case "sync":
		runCartCommand("sync", args, "POST", "/cart/sync", "Cart synced")
	case "clear":
		runCartCommand("clear", args, "DELETE", "/cart", "Cart cleared")
	case "order-placed":
		runCartCommand("order-placed", args, "POST", "/cart/order-placed", "Cart emptied after order")
	case "add":
		runAdd(args)
	case "set":
		runSet(args)
	case "remove":
		runRemove(args)
	case "badge":
		runBadge(args)
	case "guest":
		runGuest(args)
	case "guest-add", "guest-remove", "guest-set", "guest-clear":
		runGuestAction(cmd, args)
	case "watch":
		runWatch(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cartctl - cart sync daemon client

Usage:
  cartctl <command> [options]

Commands:
  login         Store a credential for a user
  logout        Drop the credential and the user's local cart
  get           Show a view's cart
  sync          Reconcile a view with the remote cart
  add           Add a product to the cart
  set           Set a line's quantity (0 removes it)
  remove        Remove a line
  clear         Empty the cart
  order-placed  Empty the cart locally after checkout
  badge         Show the header badge count
  guest         Show the guest cart
  guest-add     Add a product to the guest cart
  guest-set     Set a guest line's quantity
  guest-remove  Remove a guest line
  guest-clear   Empty the guest cart
  watch         Stream cart change events

Examples:
  # Log in and keep the credential across restarts
  cartctl login -user 42 -token abc -remember

  # Two views of the same cart
  cartctl add -view drawer -product 60 -qty 2
  cartctl get -view page

  # Watch badge updates while another shell mutates the cart
  cartctl watch -view navbar

Run 'cartctl <command> -h' for command-specific options.
`)
}

// newFlagSet registers the flags every command accepts.
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&daemonURL, "daemon", envOrDefault("CARTD_URL", "http://localhost:8080"), "cartd base URL")
	fs.StringVar(&viewName, "view", "page", "Cart view name")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the essential value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl %s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func runLogin(args []string) {
	fs := newFlagSet("login", "login -user ID -token TOKEN [options]")
	var userID, token string
	var remember bool
	fs.StringVar(&userID, "user", "", "User ID (required)")
	fs.StringVar(&token, "token", "", "Auth token (required)")
	fs.BoolVar(&remember, "remember", false, "Persist the credential across restarts")
	parseFlags(fs, args)

	if userID == "" || token == "" {
		fs.Usage()
		os.Exit(1)
	}

	body := map[string]interface{}{"userId": userID, "token": token, "remember": remember}
	if _, err := doRequest("POST", "/session/login", body); err != nil {
		fatal("Login failed: %v", err)
	}
	printSuccess("Logged in as %s", userID)
}

func runLogout(args []string) {
	fs := newFlagSet("logout", "logout [options]")
	parseFlags(fs, args)

	if _, err := doRequest("POST", "/session/logout", nil); err != nil {
		fatal("Logout failed: %v", err)
	}
	printSuccess("Logged out")
}

// =============================================================================
// CART COMMANDS
// =============================================================================

// runCartCommand handles the commands that take no arguments beyond the view.
func runCartCommand(name string, args []string, method, path, success string) {
	fs := newFlagSet(name, name+" [options]")
	parseFlags(fs, args)

	resp, err := doRequest(method, path, nil)
	if err != nil {
		fatal("%s failed: %v", name, err)
	}
	printCart(resp, success)
}

func runAdd(args []string) {
	fs := newFlagSet("add", "add -product ID [-qty N] [options]")
	var productID string
	var quantity int
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.IntVar(&quantity, "qty", 1, "Quantity")
	parseFlags(fs, args)

	if productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	body := map[string]interface{}{"productId": model.ProductID(productID), "quantity": quantity}
	resp, err := doRequest("POST", "/cart/items", body)
	if err != nil {
		fatal("Failed to add item: %v", err)
	}
	printCart(resp, "Item added")
}

func runSet(args []string) {
	fs := newFlagSet("set", "set -product ID -qty N [options]")
	var productID string
	var quantity int
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.IntVar(&quantity, "qty", -1, "Quantity (required, 0 removes the line)")
	parseFlags(fs, args)

	if productID == "" || quantity < 0 {
		fs.Usage()
		os.Exit(1)
	}

	body := map[string]interface{}{"quantity": quantity}
	resp, err := doRequest("PUT", "/cart/items/"+url.PathEscape(productID), body)
	if err != nil {
		fatal("Failed to set quantity: %v", err)
	}
	printCart(resp, "Quantity updated")
}

func runRemove(args []string) {
	fs := newFlagSet("remove", "remove -product ID [options]")
	var productID string
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	parseFlags(fs, args)

	if productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("DELETE", "/cart/items/"+url.PathEscape(productID), nil)
	if err != nil {
		fatal("Failed to remove item: %v", err)
	}
	printCart(resp, "Item removed")
}

func runBadge(args []string) {
	fs := newFlagSet("badge", "badge [options]")
	parseFlags(fs, args)

	resp, err := doRequest("GET", "/cart/badge", nil)
	if err != nil {
		fatal("Failed to get badge: %v", err)
	}

	count, _ := resp["totalQuantity"].(float64)
	if quiet {
		fmt.Println(int(count))
		return
	}
	label := "user"
	if guest, _ := resp["guest"].(bool); guest {
		label = "guest"
	}
	printSuccess("Badge (%s cart)", label)
	fmt.Printf("  Items: %s%d%s\n", colorCyan, int(count), colorReset)
}

// =============================================================================
// GUEST CART COMMANDS
// =============================================================================

func runGuest(args []string) {
	fs := newFlagSet("guest", "guest [options]")
	parseFlags(fs, args)

	resp, err := doRequest("GET", "/guest-cart", nil)
	if err != nil {
		fatal("Failed to get guest cart: %v", err)
	}
	printGuest(resp, "Guest cart retrieved")
}

func runGuestAction(cmd string, args []string) {
	fs := newFlagSet(cmd, cmd+" [-product ID] [-qty N] [options]")
	var productID string
	var quantity int
	fs.StringVar(&productID, "product", "", "Product ID")
	fs.IntVar(&quantity, "qty", 1, "Quantity")
	parseFlags(fs, args)

	action := guestActionType(cmd)
	if action != "clear" && productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	body := map[string]interface{}{"type": action}
	if productID != "" {
		body["productId"] = model.ProductID(productID)
	}
	if action == "add" || action == "update_quantity" {
		body["quantity"] = quantity
	}

	resp, err := doRequest("POST", "/guest-cart/actions", body)
	if err != nil {
		fatal("Guest action %s failed: %v", action, err)
	}
	printGuest(resp, "Guest cart updated")
}

// guestActionType maps a guest-* command to its reducer action type.
func guestActionType(cmd string) string {
	switch cmd {
	case "guest-add":
		return "add"
	case "guest-remove":
		return "remove"
	case "guest-set":
		return "update_quantity"
	default:
		return "clear"
	}
}

// =============================================================================
// WATCH COMMAND
// =============================================================================

func runWatch(args []string) {
	fs := newFlagSet("watch", "watch [options]")
	parseFlags(fs, args)

	wsURL, err := eventsURL(daemonURL, viewName)
	if err != nil {
		fatal("Invalid daemon URL: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fatal("Failed to connect to %s: %v", wsURL, err)
	}
	defer conn.Close()
	printInfo("Watching %s", wsURL)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					printError("Stream closed: %v", err)
				} else {
					printInfo("Stream closed by daemon")
				}
				return
			}
			printEvent(data)
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

// eventsURL rewrites the daemon base URL into the events websocket URL.
func eventsURL(base, view string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/events"
	u.RawQuery = url.Values{"view": {view}}.Encode()
	return u.String(), nil
}

func printEvent(data []byte) {
	var ev struct {
		Type  string `json:"type"`
		Badge *struct {
			TotalQuantity int  `json:"totalQuantity"`
			Guest         bool `json:"guest"`
		} `json:"badge"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		printWarning("Unreadable event: %s", string(data))
		return
	}
	if quiet {
		fmt.Println(ev.Type)
		return
	}
	stamp := time.Now().Format("15:04:05")
	if ev.Badge != nil {
		fmt.Printf("%s%s%s %s%s%s badge=%d\n", colorGray, stamp, colorReset, colorCyan, ev.Type, colorReset, ev.Badge.TotalQuantity)
		return
	}
	fmt.Printf("%s%s%s %s%s%s\n", colorGray, stamp, colorReset, colorYellow, ev.Type, colorReset)
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// viewHeader renders the Cart-View header value for this client.
func viewHeader(view string) string {
	return fmt.Sprintf(`view="%s", version="%s"`, view, clientVersion)
}

func doRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	reqURL := strings.TrimSuffix(daemonURL, "/") + path
	req, err := http.NewRequest(method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(viewclient.Header, viewHeader(viewName))

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, respBody)
	}
	if len(respBody) == 0 {
		return map[string]interface{}{}, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// apiError turns the daemon's error envelope into an error, falling back to the raw body.
func apiError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return fmt.Errorf("HTTP %d %s: %s", status, envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	if len(body) > 0 {
		printJSON(body, "  ")
	}
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Println(output)
}

// printCart summarizes a cart snapshot.
func printCart(resp map[string]interface{}, success string) {
	status, _ := resp["status"].(string)
	if quiet {
		fmt.Println(status)
		return
	}

	printSuccess("%s", success)
	fmt.Printf("  View: %s%v%s  Status: %s%s%s\n", colorCyan, resp["view"], colorReset, statusColor(status), status, colorReset)
	if msg, ok := resp["error"].(string); ok && msg != "" {
		printWarning("%s", msg)
	}

	lines, _ := resp["lines"].([]interface{})
	for _, l := range lines {
		line, ok := l.(map[string]interface{})
		if !ok {
			continue
		}
		name := fmt.Sprintf("%v", line["productId"])
		if product, ok := line["product"].(map[string]interface{}); ok {
			if n, ok := product["name"].(string); ok && n != "" {
				name = n
			}
		}
		state, _ := line["state"].(string)
		fmt.Printf("    - %s x%v %s %s(%s)%s\n", name, line["quantity"], formatCents(line["subtotal"]), colorGray, state, colorReset)
	}
	fmt.Printf("  Subtotal: %s%s%s\n", colorGreen, formatCents(resp["subtotal"]), colorReset)
}

func printGuest(resp map[string]interface{}, success string) {
	items, _ := resp["items"].([]interface{})
	if quiet {
		fmt.Println(len(items))
		return
	}

	printSuccess("%s", success)
	if len(items) == 0 {
		printInfo("Guest cart is empty")
		return
	}
	for _, it := range items {
		if item, ok := it.(map[string]interface{}); ok {
			fmt.Printf("    - %v x%v\n", item["productId"], item["quantity"])
		}
	}
}

func statusColor(status string) string {
	switch status {
	case "ready":
		return colorGreen
	case "degraded", "unauthenticated":
		return colorYellow
	case "error":
		return colorRed
	default:
		return colorBlue
	}
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func formatCents(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return fmt.Sprintf("$%.2f", val/100)
	case int:
		return fmt.Sprintf("$%.2f", float64(val)/100)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
