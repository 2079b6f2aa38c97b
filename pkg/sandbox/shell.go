package sandbox

import "context"

// Shell sessions are owned by the in-sandbox service: ShellExec with a fresh
// id creates one, reusing the id continues it, and ShellKill frees it. The
// caller is expected to sequence operations against a single session id;
// different ids are fully independent and may be used concurrently.

type shellExecRequest struct {
	ID      string `json:"id"`
	ExecDir string `json:"exec_dir"`
	Command string `json:"command"`
}

type shellViewRequest struct {
	ID string `json:"id"`
	// Console requests the full console history, not just recent output.
	Console bool `json:"console"`
}

type shellWaitRequest struct {
	ID      string `json:"id"`
	Seconds *int   `json:"seconds,omitempty"`
}

type shellWriteRequest struct {
	ID         string `json:"id"`
	Input      string `json:"input"`
	PressEnter bool   `json:"press_enter"`
}

type shellKillRequest struct {
	ID string `json:"id"`
}

// ShellExec runs a command in the named shell session, creating the session
// in execDir if it does not exist yet. The command may still be running when
// this returns; use ShellWait to block on completion.
func (s *Sandbox) ShellExec(ctx context.Context, id, execDir, command string) *ToolResult {
	if id == "" {
		return failure("shell session id must not be empty")
	}
	if command == "" {
		return failure("shell command must not be empty")
	}
	return s.call(ctx, "/shell/exec", shellExecRequest{ID: id, ExecDir: execDir, Command: command}, timeoutExec)
}

// ShellView returns the session's output, optionally with full history.
func (s *Sandbox) ShellView(ctx context.Context, id string, console bool) *ToolResult {
	if id == "" {
		return failure("shell session id must not be empty")
	}
	return s.call(ctx, "/shell/view", shellViewRequest{ID: id, Console: console}, timeoutControl)
}

// ShellWait blocks until the session's current command completes or the
// given number of seconds elapses (nil waits the server default).
func (s *Sandbox) ShellWait(ctx context.Context, id string, seconds *int) *ToolResult {
	if id == "" {
		return failure("shell session id must not be empty")
	}
	return s.call(ctx, "/shell/wait", shellWaitRequest{ID: id, Seconds: seconds}, timeoutExec)
}

// ShellWrite sends input to the session's running command, optionally
// followed by a newline, for driving interactive programs.
func (s *Sandbox) ShellWrite(ctx context.Context, id, input string, pressEnter bool) *ToolResult {
	if id == "" {
		return failure("shell session id must not be empty")
	}
	return s.call(ctx, "/shell/write", shellWriteRequest{ID: id, Input: input, PressEnter: pressEnter}, timeoutControl)
}

// ShellKill terminates the session's running process and frees the session
// id. Killing an id that is already terminated or was never created is a
// no-op success, mirroring destroy's idempotence.
func (s *Sandbox) ShellKill(ctx context.Context, id string) *ToolResult {
	if id == "" {
		return failure("shell session id must not be empty")
	}
	return s.call(ctx, "/shell/kill", shellKillRequest{ID: id}, timeoutControl)
}
