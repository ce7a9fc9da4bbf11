package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fpang/text-extract-pipeline/internal/archive"
	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/config"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/extract/plaintext"
	"github.com/fpang/text-extract-pipeline/internal/identity"
	"github.com/fpang/text-extract-pipeline/internal/testdocs"
)

var testImpl = &mcp.Implementation{Name: "extract-test", Version: "0.1.0"}

func session(t *testing.T) *mcp.ClientSession {
	t.Helper()
	limits := config.Default().Archive
	dispatcher := extract.NewDispatcher(category.Default(),
		map[category.Category]extract.Handler{category.Text: plaintext.Default()},
		archive.New(limits, t.TempDir()))

	srv := mcp.NewServer(testImpl, nil)
	New(identity.NewParser("uploads"), dispatcher).Register(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	s, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func call(t *testing.T, s *mcp.ClientSession, name string, args any, out any) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := res.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	if err := json.Unmarshal([]byte(tc.Text), out); err != nil {
		t.Fatalf("unmarshal %s reply: %v", name, err)
	}
}

func TestClassifyTool(t *testing.T) {
	s := session(t)
	var got ClassifyResult
	call(t, s, "extract_classify", map[string]any{"name": "Report.PDF", "content_type": "application/octet-stream"}, &got)
	if got.ContentType != "application/pdf" || got.Category != category.Document {
		t.Errorf("classify = %+v", got)
	}
}

func TestParseTool(t *testing.T) {
	s := session(t)
	var got identity.Identity
	call(t, s, "extract_parse_path", map[string]any{"path": "uploads/r1/f1_my_notes.txt"}, &got)
	want := identity.Identity{RegionID: "r1", FileID: "f1", OriginalFilename: "my_notes.txt"}
	if got != want {
		t.Errorf("parse = %+v, want %+v", got, want)
	}
}

func TestParseTool_InvalidPathIsToolError(t *testing.T) {
	s := session(t)
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "extract_parse_path",
		Arguments: map[string]any{"path": "junk/f1.pdf"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Error("invalid path did not produce a tool error")
	}
}

func TestExtractTool_Archive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.zip")
	data := testdocs.Zip(
		testdocs.File{Name: "one.txt", Body: []byte("first")},
		testdocs.File{Name: "two.txt", Body: []byte("second")},
	)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := session(t)
	var got ExtractResult
	call(t, s, "extract_text", map[string]any{"path": path}, &got)
	if len(got.Units) != 2 {
		t.Fatalf("units = %d, want 2", len(got.Units))
	}
	if got.Units[1].EntryName != "two.txt" || got.Units[1].Text != "second" || got.Units[1].SequenceIndex != 2 {
		t.Errorf("second unit = %+v", got.Units[1])
	}
}
