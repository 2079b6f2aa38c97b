package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/warrenlabs/warren/pkg/sandbox"
)

// Supervisor process states as reported by the in-sandbox service manager.
const (
	StateRunning  = "RUNNING"
	StateStarting = "STARTING"
	StateBackoff  = "BACKOFF"
	StateStopping = "STOPPING"
	StateStopped  = "STOPPED"
	StateExited   = "EXITED"
	StateFatal    = "FATAL"
)

// ServiceStatus is one service's run-state as reported by the supervisor.
// It is read fresh on every poll and never persisted.
type ServiceStatus struct {
	Name        string `json:"name"`
	State       string `json:"statename"`
	Description string `json:"description"`
}

// ServiceFatalError reports a service that entered a terminal broken state
// and is not expected to recover.
type ServiceFatalError struct {
	Service     string
	State       string
	Description string
}

func (e *ServiceFatalError) Error() string {
	return fmt.Sprintf("service %s is %s: %s", e.Service, e.State, e.Description)
}

// statusTimeout bounds a single status request; the outer budget belongs to
// the retry policy, not to any one request.
const statusTimeout = 5 * time.Second

var statusClient = &http.Client{}

// Supervisor returns a Check that polls the sandbox's supervisor status
// endpoint. Transport errors count as not-ready: they are expected in the
// window after the container starts but before its services bind.
func Supervisor(sb *sandbox.Sandbox) Check {
	url := sb.BaseURL() + "/api/v1/supervisor/status"
	return func(ctx context.Context) (Outcome, error) {
		statuses, err := fetchStatus(ctx, url)
		if err != nil {
			slog.Debug("Supervisor status not reachable yet", "sandbox", sb.Name, "error", err)
			return NotReady, nil
		}
		return classify(sb.Name, statuses)
	}
}

func fetchStatus(ctx context.Context, url string) ([]ServiceStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := statusClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		Success bool            `json:"success"`
		Data    []ServiceStatus `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("status endpoint reported failure")
	}
	return body.Data, nil
}

// classify folds the service list into one probe outcome: all running is
// ready, any fatal is broken, anything else (including an empty list, which
// happens while the supervisor itself boots) is not ready yet.
func classify(sandboxName string, statuses []ServiceStatus) (Outcome, error) {
	if len(statuses) == 0 {
		return NotReady, nil
	}

	allRunning := true
	for _, st := range statuses {
		switch st.State {
		case StateRunning:
			continue
		case StateFatal:
			slog.Warn("Sandbox service reported fatal state",
				"sandbox", sandboxName, "service", st.Name, "description", st.Description)
			return Broken, &ServiceFatalError{Service: st.Name, State: st.State, Description: st.Description}
		default:
			allRunning = false
		}
	}
	if allRunning {
		return Ready, nil
	}
	return NotReady, nil
}

// AwaitReady blocks until every service in the sandbox reports running, then
// moves the handle to Ready. On timeout or a fatal service the handle is
// moved to Failed and the probe error is returned; the caller should destroy
// the sandbox and may provision a fresh one.
func AwaitReady(ctx context.Context, sb *sandbox.Sandbox, p Policy) error {
	if err := Until(ctx, p, Supervisor(sb)); err != nil {
		if stateErr := sb.SetState(sandbox.StateFailed); stateErr != nil {
			slog.Warn("Could not mark sandbox failed", "sandbox", sb.Name, "error", stateErr)
		}
		return fmt.Errorf("sandbox %s: %w", sb.Name, err)
	}
	if err := sb.SetState(sandbox.StateReady); err != nil {
		return fmt.Errorf("sandbox %s became ready but could not transition: %w", sb.Name, err)
	}
	slog.Info("Sandbox ready", "sandbox", sb.Name, "address", sb.Address)
	return nil
}
