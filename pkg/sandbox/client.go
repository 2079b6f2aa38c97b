package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// call issues one JSON POST against the tool API and normalizes the response
// to a ToolResult. Every failure mode (validation, transport, non-2xx with an
// unparseable body) comes back as data, never as a Go error; the agent
// workflow branches on Success instead of unwinding.
func (s *Sandbox) call(ctx context.Context, path string, payload any, timeout timeoutClass) *ToolResult {
	if tr := s.checkUsable(); tr != nil {
		return tr
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Sprintf("encoding request for %s: %v", path, err))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout.duration())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL()+apiPrefix+path, bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Sprintf("building request for %s: %v", path, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("calling %s: %v", path, err))
	}
	defer resp.Body.Close()

	return decodeToolResult(resp, path)
}

// decodeToolResult parses a tool API response body into the envelope.
func decodeToolResult(resp *http.Response, path string) *ToolResult {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return failure(fmt.Sprintf("reading response from %s: %v", path, err))
	}

	var tr ToolResult
	if err := json.Unmarshal(raw, &tr); err != nil {
		// Non-2xx with no parseable envelope is a transport-level failure.
		return failure(fmt.Sprintf("%s returned status %d: %s", path, resp.StatusCode, truncate(raw, 512)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		tr.Success = false
		if tr.Error == "" {
			tr.Error = fmt.Sprintf("%s returned status %d", path, resp.StatusCode)
		}
	}
	return &tr
}

// checkUsable rejects calls against a sandbox that is being or has been torn
// down. Readiness sequencing before first use is the owner's responsibility;
// this guard only keeps calls off a handle whose container is gone.
func (s *Sandbox) checkUsable() *ToolResult {
	st := s.State()
	switch st {
	case StateDestroying, StateDestroyed, StateFailed:
		return failure(fmt.Sprintf("sandbox %s is %s", s.Name, st))
	case StateReady:
		// First tool call moves the sandbox into use. A racing destroy can
		// legally preempt this transition; the call then fails on the wire.
		_ = s.SetState(StateInUse)
	}
	return nil
}

type timeoutClass int

const (
	timeoutControl timeoutClass = iota
	timeoutExec
	timeoutNavigate
)

func (t timeoutClass) duration() time.Duration {
	switch t {
	case timeoutExec:
		return execTimeout
	case timeoutNavigate:
		return navigateTimeout
	default:
		return controlTimeout
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
