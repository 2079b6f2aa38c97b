package sandbox

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
)

type fileWriteRequest struct {
	File    string `json:"file"`
	Content string `json:"content"`
	Append  bool   `json:"append"`
	Sudo    bool   `json:"sudo"`
}

type fileReadRequest struct {
	File      string `json:"file"`
	StartLine *int   `json:"start_line,omitempty"`
	EndLine   *int   `json:"end_line,omitempty"`
	Sudo      bool   `json:"sudo"`
}

type fileListRequest struct {
	Path string `json:"path"`
}

type fileFindRequest struct {
	Path string `json:"path"`
	Glob string `json:"glob"`
}

type fileReplaceRequest struct {
	File   string `json:"file"`
	OldStr string `json:"old_str"`
	NewStr string `json:"new_str"`
}

// WriteFile writes content to a file inside the sandbox, creating it if
// needed. With append set the content is appended; appends are not
// idempotent, re-running one duplicates the content.
func (s *Sandbox) WriteFile(ctx context.Context, path, content string, append_, sudo bool) *ToolResult {
	if path == "" {
		return failure("file path must not be empty")
	}
	return s.call(ctx, "/file/write", fileWriteRequest{File: path, Content: content, Append: append_, Sudo: sudo}, timeoutControl)
}

// ReadFile reads a file, optionally restricted to a 1-based line range.
func (s *Sandbox) ReadFile(ctx context.Context, path string, startLine, endLine *int, sudo bool) *ToolResult {
	if path == "" {
		return failure("file path must not be empty")
	}
	return s.call(ctx, "/file/read", fileReadRequest{File: path, StartLine: startLine, EndLine: endLine, Sudo: sudo}, timeoutControl)
}

// ListDir lists a directory inside the sandbox.
func (s *Sandbox) ListDir(ctx context.Context, path string) *ToolResult {
	if path == "" {
		return failure("directory path must not be empty")
	}
	return s.call(ctx, "/file/list", fileListRequest{Path: path}, timeoutControl)
}

// FindFiles searches path for entries matching the glob pattern.
func (s *Sandbox) FindFiles(ctx context.Context, path, glob string) *ToolResult {
	if path == "" {
		return failure("search path must not be empty")
	}
	if glob == "" {
		return failure("glob pattern must not be empty")
	}
	return s.call(ctx, "/file/find", fileFindRequest{Path: path, Glob: glob}, timeoutControl)
}

// ReplaceInFile replaces occurrences of oldStr with newStr in a file.
func (s *Sandbox) ReplaceInFile(ctx context.Context, path, oldStr, newStr string) *ToolResult {
	if path == "" {
		return failure("file path must not be empty")
	}
	if oldStr == "" {
		return failure("old_str must not be empty")
	}
	return s.call(ctx, "/file/replace", fileReplaceRequest{File: path, OldStr: oldStr, NewStr: newStr}, timeoutControl)
}

// UploadFile streams r into the sandbox at the given path as a multipart
// upload. The body is piped, not buffered, so large files do not load into
// memory.
func (s *Sandbox) UploadFile(ctx context.Context, path string, r io.Reader) *ToolResult {
	if path == "" {
		return failure("file path must not be empty")
	}
	if tr := s.checkUsable(); tr != nil {
		return tr
	}

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("path", path); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, r); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL()+apiPrefix+"/file/upload", pr)
	if err != nil {
		return failure(fmt.Sprintf("building upload request: %v", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpc.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("uploading %s: %v", path, err))
	}
	defer resp.Body.Close()

	return decodeToolResult(resp, "/file/upload")
}

// DownloadFile streams the file at path out of the sandbox into w. The
// number of bytes written is reported in the result message.
func (s *Sandbox) DownloadFile(ctx context.Context, path string, w io.Writer) *ToolResult {
	if path == "" {
		return failure("file path must not be empty")
	}
	if tr := s.checkUsable(); tr != nil {
		return tr
	}

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	u := s.BaseURL() + apiPrefix + "/file/download?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return failure(fmt.Sprintf("building download request: %v", err))
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("downloading %s: %v", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Error responses carry the usual envelope instead of file bytes.
		return decodeToolResult(resp, "/file/download")
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return failure(fmt.Sprintf("streaming %s: %v", path, err))
	}
	return &ToolResult{Success: true, Message: fmt.Sprintf("downloaded %d bytes from %s", n, path)}
}
