package sandbox_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/warrenlabs/warren/pkg/config"
	"github.com/warrenlabs/warren/pkg/sandbox"
)

// fakeSandboxAPI implements just enough of the in-sandbox tool API contract
// to round-trip the client: an in-memory file store honoring append, shell
// sessions with idempotent kill, and the supervisor status endpoint.
type fakeSandboxAPI struct {
	mu       sync.Mutex
	files    map[string][]byte
	sessions map[string]*fakeShell
	services []map[string]string
}

type fakeShell struct {
	dir    string
	output strings.Builder
}

func newFakeSandboxAPI() *fakeSandboxAPI {
	return &fakeSandboxAPI{
		files:    make(map[string][]byte),
		sessions: make(map[string]*fakeShell),
		services: []map[string]string{
			{"name": "xvfb", "statename": "RUNNING", "description": "pid 10"},
			{"name": "chrome", "statename": "RUNNING", "description": "pid 11"},
			{"name": "app", "statename": "RUNNING", "description": "pid 12"},
		},
	}
}

func (f *fakeSandboxAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/supervisor/status", f.handleStatus)
	mux.HandleFunc("/api/v1/file/write", f.handleWrite)
	mux.HandleFunc("/api/v1/file/read", f.handleRead)
	mux.HandleFunc("/api/v1/file/list", f.handleList)
	mux.HandleFunc("/api/v1/file/find", f.handleFind)
	mux.HandleFunc("/api/v1/file/replace", f.handleReplace)
	mux.HandleFunc("/api/v1/file/upload", f.handleUpload)
	mux.HandleFunc("/api/v1/file/download", f.handleDownload)
	mux.HandleFunc("/api/v1/shell/exec", f.handleExec)
	mux.HandleFunc("/api/v1/shell/view", f.handleView)
	mux.HandleFunc("/api/v1/shell/wait", f.handleWait)
	mux.HandleFunc("/api/v1/shell/write", f.handleShellWrite)
	mux.HandleFunc("/api/v1/shell/kill", f.handleKill)
	return mux
}

func writeResult(w http.ResponseWriter, success bool, msg string, data any, errMsg string) {
	body := map[string]any{"success": success}
	if msg != "" {
		body["message"] = msg
	}
	if data != nil {
		body["data"] = data
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func decodeInto(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (f *fakeSandboxAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeResult(w, true, "", f.services, "")
}

func (f *fakeSandboxAPI) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File    string `json:"file"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Append {
		f.files[req.File] = append(f.files[req.File], []byte(req.Content)...)
	} else {
		f.files[req.File] = []byte(req.Content)
	}
	writeResult(w, true, "wrote "+req.File, nil, "")
}

func (f *fakeSandboxAPI) handleRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File      string `json:"file"`
		StartLine *int   `json:"start_line"`
		EndLine   *int   `json:"end_line"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	content, ok := f.files[req.File]
	f.mu.Unlock()
	if !ok {
		writeResult(w, false, "", nil, "file not found: "+req.File)
		return
	}
	text := string(content)
	if req.StartLine != nil || req.EndLine != nil {
		lines := strings.Split(text, "\n")
		start, end := 0, len(lines)
		if req.StartLine != nil && *req.StartLine > 0 {
			start = *req.StartLine - 1
		}
		if req.EndLine != nil && *req.EndLine < end {
			end = *req.EndLine
		}
		if start > len(lines) {
			start = len(lines)
		}
		text = strings.Join(lines[start:end], "\n")
	}
	writeResult(w, true, "", map[string]string{"content": text}, "")
}

func (f *fakeSandboxAPI) handleList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []string
	prefix := strings.TrimSuffix(req.Path, "/") + "/"
	for name := range f.files {
		if strings.HasPrefix(name, prefix) {
			entries = append(entries, name)
		}
	}
	writeResult(w, true, "", map[string]any{"entries": entries}, "")
}

func (f *fakeSandboxAPI) handleFind(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
		Glob string `json:"glob"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []string
	for name := range f.files {
		if ok, _ := path.Match(req.Glob, path.Base(name)); ok && strings.HasPrefix(name, req.Path) {
			matches = append(matches, name)
		}
	}
	writeResult(w, true, "", map[string]any{"matches": matches}, "")
}

func (f *fakeSandboxAPI) handleReplace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File   string `json:"file"`
		OldStr string `json:"old_str"`
		NewStr string `json:"new_str"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[req.File]
	if !ok {
		writeResult(w, false, "", nil, "file not found: "+req.File)
		return
	}
	f.files[req.File] = []byte(strings.ReplaceAll(string(content), req.OldStr, req.NewStr))
	writeResult(w, true, "replaced", nil, "")
}

func (f *fakeSandboxAPI) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	dest := r.FormValue("path")
	file, _, err := r.FormFile("file")
	if err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	f.files[dest] = content
	f.mu.Unlock()
	writeResult(w, true, "uploaded "+dest, nil, "")
}

func (f *fakeSandboxAPI) handleDownload(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	f.mu.Lock()
	content, ok := f.files[p]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeResult(w, false, "", nil, "file not found: "+p)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(content)
}

func (f *fakeSandboxAPI) handleExec(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		ExecDir string `json:"exec_dir"`
		Command string `json:"command"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sh, ok := f.sessions[req.ID]
	if !ok {
		sh = &fakeShell{dir: req.ExecDir}
		f.sessions[req.ID] = sh
	}
	// Enough shell semantics for round-trip tests.
	if rest, found := strings.CutPrefix(req.Command, "echo "); found {
		sh.output.WriteString(strings.Trim(rest, `"'`) + "\n")
	}
	writeResult(w, true, fmt.Sprintf("started %q in session %s", req.Command, req.ID), nil, "")
}

func (f *fakeSandboxAPI) handleView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sh, ok := f.sessions[req.ID]
	if !ok {
		writeResult(w, false, "", nil, "no such session: "+req.ID)
		return
	}
	writeResult(w, true, "", map[string]string{"output": sh.output.String()}, "")
}

func (f *fakeSandboxAPI) handleWait(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	_, ok := f.sessions[req.ID]
	f.mu.Unlock()
	if !ok {
		writeResult(w, false, "", nil, "no such session: "+req.ID)
		return
	}
	writeResult(w, true, "command completed", nil, "")
}

func (f *fakeSandboxAPI) handleShellWrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string `json:"id"`
		Input      string `json:"input"`
		PressEnter bool   `json:"press_enter"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sh, ok := f.sessions[req.ID]
	if !ok {
		writeResult(w, false, "", nil, "no such session: "+req.ID)
		return
	}
	sh.output.WriteString(req.Input)
	if req.PressEnter {
		sh.output.WriteString("\n")
	}
	writeResult(w, true, "input sent", nil, "")
}

func (f *fakeSandboxAPI) handleKill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeInto(r, &req); err != nil {
		writeResult(w, false, "", nil, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[req.ID]; ok {
		delete(f.sessions, req.ID)
		writeResult(w, true, "killed session "+req.ID, nil, "")
		return
	}
	// Killing a session that is gone (or never existed) is a no-op success.
	writeResult(w, true, "session "+req.ID+" not running", nil, "")
}

// newTestSandbox starts the fake API and returns a ready handle bound to it.
func newTestSandbox(t *testing.T) (*sandbox.Sandbox, *fakeSandboxAPI) {
	t.Helper()
	api := newFakeSandboxAPI()
	ts := httptest.NewServer(api.handler())
	t.Cleanup(ts.Close)

	sb := sandboxAt(t, ts.URL)
	return sb, api
}

// sandboxAt builds a ready sandbox handle whose API port targets the given
// test server URL.
func sandboxAt(t *testing.T, serverURL string) *sandbox.Sandbox {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(serverURL, "http://"))
	if err != nil {
		t.Fatalf("parsing test server url %s: %v", serverURL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}

	cfg := config.Sandbox{Image: "test-sandbox:latest", NamePrefix: "test", TTLMinutes: 5}
	sb := sandbox.New("test-abc12345", "cid-123", host, cfg)
	sb.APIPort = port
	sb.CDPPort = port
	if err := sb.SetState(sandbox.StateReady); err != nil {
		t.Fatalf("marking sandbox ready: %v", err)
	}
	return sb
}
