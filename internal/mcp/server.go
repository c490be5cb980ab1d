package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/weave/internal/engine"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"workspace_snapshot": {
		def:     snapshotToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSnapshot },
	},
	"workspace_recent_ops": {
		def:     recentOpsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecentOps },
	},
	"workspace_submit_patch": {
		def:     submitPatchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSubmitPatch },
	},
	"workspace_checkout": {
		def:     checkoutToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCheckout },
	},
	"workspace_list_files": {
		def:     listFilesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListFiles },
	},
	"workspace_create_file": {
		def:     createFileToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCreateFile },
	},
	"workspace_delete_file": {
		def:     deleteFileToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDeleteFile },
	},
	"workspace_move_file": {
		def:     moveFileToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMoveFile },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// NewServer creates a new MCP server with workspace tools registered.
// author tags every patch the agent submits.
func NewServer(eng *engine.Engine, author, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"weave",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(eng, author)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run starts the MCP server using stdio transport.
func Run(eng *engine.Engine, author, version string) error {
	return server.ServeStdio(NewServer(eng, author, version))
}
