package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// The browser is not behind the tool API: once the sandbox address is known
// it is driven directly over Chrome's remote debugging protocol on the fixed
// CDP port. Navigation attaches to a page target over WebSocket, issues
// Page.navigate, waits for the load event, and evaluates the page title and
// full HTML.

type cdpTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type cdpMessage struct {
	ID     int             `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// browserPage is the payload carried in a successful navigation's Data.
type browserPage struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// BrowserNavigate drives the in-sandbox Chrome to the given URL and returns
// the resulting page (url, title, full HTML) in ToolResult.Data.
func (s *Sandbox) BrowserNavigate(ctx context.Context, rawURL string) *ToolResult {
	if rawURL == "" {
		return failure("url must not be empty")
	}
	if u, err := url.Parse(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return failure(fmt.Sprintf("invalid url %q: must be absolute http or https", rawURL))
	}
	if tr := s.checkUsable(); tr != nil {
		return tr
	}

	ctx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()

	wsURL, err := s.pageTarget(ctx)
	if err != nil {
		return failure(fmt.Sprintf("locating browser target: %v", err))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return failure(fmt.Sprintf("attaching to browser: %v", err))
	}
	defer conn.Close()

	c := &cdpConn{conn: conn, ctx: ctx}

	if _, err := c.send("Page.enable", nil); err != nil {
		return failure(fmt.Sprintf("enabling page events: %v", err))
	}
	if _, err := c.send("Page.navigate", map[string]any{"url": rawURL}); err != nil {
		return failure(fmt.Sprintf("navigating to %s: %v", rawURL, err))
	}
	// Best effort: some pages never fire load within the window (long
	// polling, streaming). Evaluate whatever is rendered at that point.
	c.awaitEvent("Page.loadEventFired", 30*time.Second)

	title, err := c.evaluate("document.title")
	if err != nil {
		return failure(fmt.Sprintf("reading page title: %v", err))
	}
	content, err := c.evaluate("document.documentElement.outerHTML")
	if err != nil {
		return failure(fmt.Sprintf("reading page content: %v", err))
	}

	data, err := json.Marshal(browserPage{URL: rawURL, Title: title, Content: content})
	if err != nil {
		return failure(fmt.Sprintf("encoding page: %v", err))
	}
	return &ToolResult{
		Success: true,
		Message: fmt.Sprintf("navigated to %s", rawURL),
		Data:    data,
	}
}

// pageTarget finds an attachable page target via the CDP HTTP endpoint,
// creating a fresh tab when none exists.
func (s *Sandbox) pageTarget(ctx context.Context) (string, error) {
	targets, err := s.cdpTargets(ctx, http.MethodGet, "/json/list")
	if err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}

	// Chrome 111+ requires PUT for /json/new.
	created, err := s.cdpTargets(ctx, http.MethodPut, "/json/new")
	if err != nil {
		return "", err
	}
	for _, t := range created {
		if t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("no attachable page target")
}

func (s *Sandbox) cdpTargets(ctx context.Context, method, path string) ([]cdpTarget, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://"+s.cdpBase()+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	// /json/list returns an array, /json/new a single object.
	var targets []cdpTarget
	dec := json.NewDecoder(resp.Body)
	if path == "/json/new" {
		var t cdpTarget
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("decoding target: %w", err)
		}
		return []cdpTarget{t}, nil
	}
	if err := dec.Decode(&targets); err != nil {
		return nil, fmt.Errorf("decoding targets: %w", err)
	}
	return targets, nil
}

// cdpConn is a minimal single-session CDP client. Commands are issued
// sequentially; events arriving between a command and its response are
// buffered so awaitEvent can still observe them.
type cdpConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	nextID int
	events []cdpMessage
}

func (c *cdpConn) send(method string, params any) (json.RawMessage, error) {
	c.nextID++
	id := c.nextID

	msg := map[string]any{"id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	for {
		m, err := c.read()
		if err != nil {
			return nil, fmt.Errorf("awaiting %s response: %w", method, err)
		}
		if m.ID == id {
			if m.Error != nil {
				return nil, m.Error
			}
			return m.Result, nil
		}
		if m.Method != "" {
			c.events = append(c.events, m)
		}
	}
}

// awaitEvent blocks until the named event arrives or the window elapses.
// Returns false on timeout; navigation treats that as tolerable.
func (c *cdpConn) awaitEvent(method string, window time.Duration) bool {
	for i, e := range c.events {
		if e.Method == method {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return true
		}
	}

	deadline := time.Now().Add(window)
	if d, ok := c.ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		var m cdpMessage
		if err := c.conn.ReadJSON(&m); err != nil {
			return false
		}
		if m.Method == method {
			return true
		}
		if m.Method != "" {
			c.events = append(c.events, m)
		}
	}
}

func (c *cdpConn) read() (cdpMessage, error) {
	if d, ok := c.ctx.Deadline(); ok {
		c.conn.SetReadDeadline(d)
	}
	var m cdpMessage
	err := c.conn.ReadJSON(&m)
	return m, err
}

// evaluate runs a JS expression and returns its string value.
func (c *cdpConn) evaluate(expr string) (string, error) {
	res, err := c.send("Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Result struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return "", fmt.Errorf("decoding evaluate result: %w", err)
	}
	return out.Result.Value, nil
}
