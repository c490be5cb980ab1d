package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/weave/internal/engine"
	"github.com/hpungsan/weave/internal/errors"
	"github.com/hpungsan/weave/internal/ot"
)

// Handlers holds dependencies for MCP tool handlers. The gateway is the
// session surface for local agents: every patch goes through the same
// serializer as editor traffic, tagged with the agent's identity.
type Handlers struct {
	eng    *engine.Engine
	author string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine, author string) *Handlers {
	return &Handlers{eng: eng, author: author}
}

// Request types for each tool

// SnapshotRequest represents the arguments for snapshot.
type SnapshotRequest struct {
	Path string `json:"path"`
}

// RecentOpsRequest represents the arguments for recent_ops.
type RecentOpsRequest struct {
	Path string `json:"path"`
	N    int    `json:"n,omitempty"`
}

// SubmitPatchRequest represents the arguments for submit_patch.
type SubmitPatchRequest struct {
	Path        string `json:"path"`
	BaseVersion uint64 `json:"base_version"`
	Kind        string `json:"kind"`
	Pos         int    `json:"pos"`
	Len         int    `json:"len,omitempty"`
	Text        string `json:"text,omitempty"`
}

// CheckoutRequest represents the arguments for checkout.
type CheckoutRequest struct {
	Path    string `json:"path"`
	Version uint64 `json:"version"`
}

// CreateFileRequest represents the arguments for create_file.
type CreateFileRequest struct {
	Path           string `json:"path"`
	IsDir          bool   `json:"is_dir,omitempty"`
	InitialContent string `json:"initial_content,omitempty"`
}

// DeleteFileRequest represents the arguments for delete_file.
type DeleteFileRequest struct {
	Path string `json:"path"`
}

// MoveFileRequest represents the arguments for move_file.
type MoveFileRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// opView is the JSON shape of a committed op.
type opView struct {
	Seq    uint64 `json:"seq"`
	Kind   string `json:"kind"`
	Pos    int    `json:"pos"`
	Len    int    `json:"len,omitempty"`
	Text   string `json:"text,omitempty"`
	Author string `json:"author,omitempty"`
}

// Handler implementations

// HandleSnapshot returns the current version and content of a path.
func (h *Handlers) HandleSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SnapshotRequest](req)
	if err != nil {
		return errorResult(errors.NewBadPrecondition(err.Error())), nil
	}

	version, content, err := h.eng.Snapshot(input.Path)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{
		"path":    input.Path,
		"version": version,
		"content": content,
	})
}

// HandleRecentOps returns the deterministic last-N suffix of a document's
// log.
func (h *Handlers) HandleRecentOps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecentOpsRequest](req)
	if err != nil {
		return errorResult(errors.NewBadPrecondition(err.Error())), nil
	}
	if input.N <= 0 {
		input.N = 20
	}

	commits, err := h.eng.Recent(input.Path, input.N)
	if err != nil {
		return errorResult(err), nil
	}

	ops := make([]opView, len(commits))
	for i, c := range commits {
		ops[i] = opView{
			Seq:    c.Seq,
			Kind:   c.Op.Kind.String(),
			Pos:    c.Op.Pos,
			Len:    c.Op.Len,
			Text:   c.Op.Text,
			Author: c.Op.Author,
		}
	}
	return successResult(map[string]any{"path": input.Path, "ops": ops})
}

// HandleSubmitPatch submits one operation through the serializer.
func (h *Handlers) HandleSubmitPatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SubmitPatchRequest](req)
	if err != nil {
		return errorResult(errors.NewBadPrecondition(err.Error())), nil
	}

	var kind ot.Kind
	switch input.Kind {
	case "insert":
		kind = ot.KindInsert
	case "delete":
		kind = ot.KindDelete
	case "replace":
		kind = ot.KindReplace
	default:
		return errorResult(errors.NewBadPrecondition("kind must be one of: insert, delete, replace")), nil
	}

	op := ot.Op{
		Author: h.author,
		Kind:   kind,
		Pos:    input.Pos,
		Len:    input.Len,
		Text:   input.Text,
	}
	commit, err := h.eng.Submit(input.Path, input.BaseVersion, op, false)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{
		"path":   commit.Path,
		"seq":    commit.Seq,
		"noop":   commit.Op.IsNoop(),
		"author": h.author,
	})
}

// HandleCheckout reconstructs historical content.
func (h *Handlers) HandleCheckout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CheckoutRequest](req)
	if err != nil {
		return errorResult(errors.NewBadPrecondition(err.Error())), nil
	}

	content, err := h.eng.Checkout(input.Path, input.Version)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"path":    input.Path,
		"version": input.Version,
		"content": content,
	})
}

// HandleListFiles lists the workspace.
func (h *Handlers) HandleListFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files := h.eng.Files()
	out := make([]map[string]any, len(files))
	for i, f := range files {
		out[i] = map[string]any{"path": f.Path, "version": f.Version}
	}
	return successResult(map[string]any{"files": out})
}

// HandleCreateFile creates a file.
func (h *Handlers) HandleCreateFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateFileRequest](req)
	if err != nil {
		return errorResult(errors.NewBadPrecondition(err.Error())), nil
	}
	if err := h.eng.CreateFile(input.Path, input.IsDir, input.InitialContent, h.author); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"path": input.Path, "created": true})
}

// HandleDeleteFile deletes a file.
func (h *Handlers) HandleDeleteFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteFileRequest](req)
	if err != nil {
		return errorResult(errors.NewBadPrecondition(err.Error())), nil
	}
	if err := h.eng.DeleteFile(input.Path); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"path": input.Path, "deleted": true})
}

// HandleMoveFile renames a file, keeping its history.
func (h *Handlers) HandleMoveFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MoveFileRequest](req)
	if err != nil {
		return errorResult(errors.NewBadPrecondition(err.Error())), nil
	}
	if err := h.eng.MoveFile(input.From, input.To); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"from": input.From, "to": input.To, "moved": true})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if wErr, ok := err.(*errors.WeaveError); ok {
		errorObj := map[string]any{
			"code":    wErr.Code,
			"message": wErr.Message,
		}
		if wErr.Code != errors.ErrInternal && wErr.Details != nil {
			errorObj["details"] = wErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
