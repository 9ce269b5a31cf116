package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Tab identifies one open browser page reachable over the DevTools protocol.
type Tab struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// DevToolsClient talks to a browser started with --remote-debugging-port.
// It enumerates open tabs and evaluates JavaScript inside them, which is how
// the token detector delivers its extractor into untrusted pages.
type DevToolsClient struct {
	endpoint   string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewDevToolsClient creates a client for the DevTools HTTP endpoint,
// e.g. "http://127.0.0.1:9222".
func NewDevToolsClient(endpoint string) *DevToolsClient {
	return &DevToolsClient{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
	}
}

// ListTabs enumerates open page tabs in their browser ordering.
func (c *DevToolsClient) ListTabs(ctx context.Context) ([]Tab, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/json/list", nil)
	if err != nil {
		return nil, fmt.Errorf("devtools: create list request failed: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("devtools: tab enumeration failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("devtools: read tab list failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools: tab enumeration failed: %d %s", resp.StatusCode, resp.Status)
	}

	var all []Tab
	if err = json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("devtools: parse tab list failed: %w", err)
	}
	tabs := make([]Tab, 0, len(all))
	for _, tab := range all {
		if tab.Type == "page" {
			tabs = append(tabs, tab)
		}
	}
	return tabs, nil
}

// evaluateMessage is the Runtime.evaluate request frame.
type evaluateMessage struct {
	ID     int            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Evaluate runs a JavaScript expression inside the tab and returns its value.
// The expression is expected to produce a string (callers wrap structured
// results in JSON.stringify). Deadlines from ctx bound the exchange.
func (c *DevToolsClient) Evaluate(ctx context.Context, tab Tab, expression string) (string, error) {
	if tab.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("devtools: tab %s has no debugger endpoint", tab.ID)
	}

	conn, _, err := c.dialer.DialContext(ctx, tab.WebSocketDebuggerURL, nil)
	if err != nil {
		return "", fmt.Errorf("devtools: dial tab %s failed: %w", tab.ID, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	const callID = 1
	request := evaluateMessage{
		ID:     callID,
		Method: "Runtime.evaluate",
		Params: map[string]any{
			"expression":    expression,
			"returnByValue": true,
			"awaitPromise":  true,
		},
	}
	if err = conn.WriteJSON(request); err != nil {
		return "", fmt.Errorf("devtools: send to tab %s failed: %w", tab.ID, err)
	}

	// The socket carries unsolicited protocol events; read until our call id
	// comes back.
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		_, frame, errRead := conn.ReadMessage()
		if errRead != nil {
			return "", fmt.Errorf("devtools: read from tab %s failed: %w", tab.ID, errRead)
		}
		if gjson.GetBytes(frame, "id").Int() != callID {
			continue
		}
		if errMsg := gjson.GetBytes(frame, "error.message"); errMsg.Exists() {
			return "", fmt.Errorf("devtools: evaluate failed in tab %s: %s", tab.ID, errMsg.String())
		}
		if exception := gjson.GetBytes(frame, "result.exceptionDetails"); exception.Exists() {
			description := exception.Get("exception.description").String()
			if description == "" {
				description = exception.Get("text").String()
			}
			return "", fmt.Errorf("devtools: page script threw in tab %s: %s", tab.ID, description)
		}
		return gjson.GetBytes(frame, "result.result.value").String(), nil
	}
}

// WaitReachable polls the DevTools endpoint until it answers or the timeout
// elapses, useful right after launching a browser with debugging enabled.
func (c *DevToolsClient) WaitReachable(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		_, err := c.ListTabs(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("devtools: endpoint %s not reachable: %w", c.endpoint, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
