package sandbox_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readContent(t *testing.T, data json.RawMessage) string {
	t.Helper()
	var payload struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	return payload.Content
}

func TestWriteReadRoundTrip(t *testing.T) {
	sb, _ := newTestSandbox(t)
	ctx := context.Background()

	tr := sb.WriteFile(ctx, "/tmp/t.txt", "hello", false, false)
	require.True(t, tr.Success, "write failed: %s", tr.Error)

	tr = sb.ReadFile(ctx, "/tmp/t.txt", nil, nil, false)
	require.True(t, tr.Success, "read failed: %s", tr.Error)
	require.Equal(t, "hello", readContent(t, tr.Data), "content must round-trip byte for byte")
}

func TestWriteAppend(t *testing.T) {
	sb, _ := newTestSandbox(t)
	ctx := context.Background()

	require.True(t, sb.WriteFile(ctx, "/tmp/a.txt", "a", true, false).Success)
	require.True(t, sb.WriteFile(ctx, "/tmp/a.txt", "b", true, false).Success)

	tr := sb.ReadFile(ctx, "/tmp/a.txt", nil, nil, false)
	require.True(t, tr.Success)
	require.Equal(t, "ab", readContent(t, tr.Data))
}

func TestReadLineRange(t *testing.T) {
	sb, _ := newTestSandbox(t)
	ctx := context.Background()

	require.True(t, sb.WriteFile(ctx, "/tmp/lines.txt", "one\ntwo\nthree", false, false).Success)

	start, end := 2, 3
	tr := sb.ReadFile(ctx, "/tmp/lines.txt", &start, &end, false)
	require.True(t, tr.Success)
	require.Equal(t, "two\nthree", readContent(t, tr.Data))
}

func TestReadMissingFileIsFailureData(t *testing.T) {
	sb, _ := newTestSandbox(t)

	tr := sb.ReadFile(context.Background(), "/tmp/nope.txt", nil, nil, false)
	require.False(t, tr.Success)
	require.Contains(t, tr.Error, "not found")
}

func TestReplaceInFile(t *testing.T) {
	sb, _ := newTestSandbox(t)
	ctx := context.Background()

	require.True(t, sb.WriteFile(ctx, "/tmp/r.txt", "hello world", false, false).Success)
	require.True(t, sb.ReplaceInFile(ctx, "/tmp/r.txt", "world", "warren").Success)

	tr := sb.ReadFile(ctx, "/tmp/r.txt", nil, nil, false)
	require.True(t, tr.Success)
	require.Equal(t, "hello warren", readContent(t, tr.Data))
}

func TestListAndFind(t *testing.T) {
	sb, _ := newTestSandbox(t)
	ctx := context.Background()

	for _, p := range []string{"/data/a.go", "/data/b.go", "/data/c.txt"} {
		require.True(t, sb.WriteFile(ctx, p, "x", false, false).Success)
	}

	tr := sb.ListDir(ctx, "/data")
	require.True(t, tr.Success)
	var listed struct {
		Entries []string `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(tr.Data, &listed))
	require.Len(t, listed.Entries, 3)

	tr = sb.FindFiles(ctx, "/data", "*.go")
	require.True(t, tr.Success)
	var found struct {
		Matches []string `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(tr.Data, &found))
	require.Len(t, found.Matches, 2)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	sb, _ := newTestSandbox(t)
	ctx := context.Background()

	payload := []byte("binary\x00payload")
	tr := sb.UploadFile(ctx, "/tmp/blob.bin", bytes.NewReader(payload))
	require.True(t, tr.Success, "upload failed: %s", tr.Error)

	var out bytes.Buffer
	tr = sb.DownloadFile(ctx, "/tmp/blob.bin", &out)
	require.True(t, tr.Success, "download failed: %s", tr.Error)
	require.Equal(t, payload, out.Bytes())
}

func TestDownloadMissingFile(t *testing.T) {
	sb, _ := newTestSandbox(t)

	var out bytes.Buffer
	tr := sb.DownloadFile(context.Background(), "/tmp/missing.bin", &out)
	require.False(t, tr.Success)
	require.NotEmpty(t, tr.Error)
	require.Zero(t, out.Len())
}

func TestFileValidation(t *testing.T) {
	sb, _ := newTestSandbox(t)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() bool
	}{
		{"write empty path", func() bool { return sb.WriteFile(ctx, "", "x", false, false).Success }},
		{"read empty path", func() bool { return sb.ReadFile(ctx, "", nil, nil, false).Success }},
		{"list empty path", func() bool { return sb.ListDir(ctx, "").Success }},
		{"find empty glob", func() bool { return sb.FindFiles(ctx, "/tmp", "").Success }},
		{"replace empty old", func() bool { return sb.ReplaceInFile(ctx, "/tmp/x", "", "y").Success }},
		{"upload empty path", func() bool { return sb.UploadFile(ctx, "", strings.NewReader("x")).Success }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.False(t, tc.call(), "validation should fail before any network call")
		})
	}
}
