// Package mcptools exposes the classifier, the path parser and the
// extraction dispatcher as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/identity"
)

// Tools holds the components served by the MCP tools.
type Tools struct {
	parser     *identity.Parser
	dispatcher *extract.Dispatcher
}

// New returns Tools backed by parser and dispatcher.
func New(parser *identity.Parser, dispatcher *extract.Dispatcher) *Tools {
	return &Tools{parser: parser, dispatcher: dispatcher}
}

// Register adds the classify, parse and extract tools to srv.
func (t *Tools) Register(srv *mcp.Server) {
	add(srv, &mcp.Tool{
		Name:        "extract_classify",
		Description: "Resolve the content type of a file name and the category it is routed to.",
		InputSchema: inputSchema(map[string]any{
			"name":         map[string]any{"type": "string", "description": "File name, used when the content type is missing or generic"},
			"content_type": map[string]any{"type": "string", "description": "Declared MIME type"},
		}, nil),
	}, t.classify)

	add(srv, &mcp.Tool{
		Name:        "extract_parse_path",
		Description: "Parse an upload object path into region id, file id and original filename.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Object path, e.g. uploads/{region}/{file}_{name}"},
		}, []string{"path"}),
	}, t.parse)

	add(srv, &mcp.Tool{
		Name:        "extract_text",
		Description: "Extract text units from a local file (plain text, documents, archives and, when configured, audio).",
		InputSchema: inputSchema(map[string]any{
			"path":         map[string]any{"type": "string", "description": "Local file path"},
			"content_type": map[string]any{"type": "string", "description": "Declared MIME type (optional)"},
		}, []string{"path"}),
	}, t.extract)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type request struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
}

// add registers fn as a tool whose JSON result is returned as text. Errors
// become tool errors, not protocol errors.
func add(srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, r request) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r request
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		resp, err := fn(ctx, r)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// ClassifyResult is the reply of the classify tool.
type ClassifyResult struct {
	ContentType string            `json:"content_type"`
	Category    category.Category `json:"category"`
}

func (t *Tools) classify(_ context.Context, r request) (any, error) {
	if r.Name == "" && r.ContentType == "" {
		return nil, errors.New("name or content_type is required")
	}
	p := t.dispatcher.Classify(extract.Payload{Name: r.Name, ContentType: r.ContentType})
	return ClassifyResult{ContentType: p.ContentType, Category: p.Category}, nil
}

func (t *Tools) parse(_ context.Context, r request) (any, error) {
	return t.parser.Parse(r.Path)
}

// UnitResult is one extracted unit in the reply of the extract tool.
type UnitResult struct {
	SequenceIndex int               `json:"sequence_index"`
	EntryName     string            `json:"entry_name,omitempty"`
	Category      category.Category `json:"category"`
	Method        string            `json:"method"`
	Text          string            `json:"text"`
	Metrics       extract.Metrics   `json:"metrics"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// ExtractResult is the reply of the extract tool.
type ExtractResult struct {
	Units    []UnitResult `json:"units"`
	Warnings []string     `json:"warnings,omitempty"`
}

func (t *Tools) extract(ctx context.Context, r request) (any, error) {
	if r.Path == "" {
		return nil, errors.New("path is required")
	}
	fi, err := os.Stat(r.Path)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", r.Path)
	}

	name := filepath.Base(r.Path)
	batch, err := t.dispatcher.ClassifyAndDispatch(ctx, extract.Payload{
		FileID:      name,
		Path:        r.Path,
		Name:        name,
		ContentType: r.ContentType,
		Size:        fi.Size(),
	}, 0)
	if err != nil {
		if fe, ok := failure.As(err); ok {
			return nil, fmt.Errorf("%s: %s", fe.Kind, fe.Reason)
		}
		return nil, err
	}

	out := ExtractResult{Warnings: batch.Warnings, Units: make([]UnitResult, 0, len(batch.Units))}
	for _, u := range batch.Units {
		out.Units = append(out.Units, UnitResult{
			SequenceIndex: u.SequenceIndex,
			EntryName:     u.EntryName,
			Category:      u.Category,
			Method:        u.Method,
			Text:          u.Text,
			Metrics:       u.Metrics,
			Warnings:      u.Warnings,
		})
	}
	return out, nil
}
