package sandbox

import "encoding/json"

// ToolResult is the uniform envelope returned by every tool operation.
// Transport failures are folded into it rather than returned as Go errors:
// the calling workflow branches on Success, it does not unwind.
type ToolResult struct {
	// Success reports whether the operation completed as requested.
	Success bool `json:"success"`
	// Message is a human-readable summary of the outcome.
	Message string `json:"message,omitempty"`
	// Data carries the operation-specific payload, if any.
	Data json.RawMessage `json:"data,omitempty"`
	// Error describes what went wrong when Success is false.
	Error string `json:"error,omitempty"`
}

// failure builds a failed ToolResult from an error string.
func failure(errMsg string) *ToolResult {
	return &ToolResult{Success: false, Error: errMsg}
}
