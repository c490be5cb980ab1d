package mcp

import "github.com/mark3labs/mcp-go/mcp"

var snapshotToolDef = mcp.NewTool("workspace_snapshot",
	mcp.WithDescription("Read the current version and full content of a file"),
	mcp.WithString("path", mcp.Required(), mcp.Description("Workspace path of the file")),
)

var recentOpsToolDef = mcp.NewTool("workspace_recent_ops",
	mcp.WithDescription("Return the last N committed operations of a file, a deterministic log suffix"),
	mcp.WithString("path", mcp.Required(), mcp.Description("Workspace path of the file")),
	mcp.WithNumber("n", mcp.Description("Number of trailing operations (default 20)")),
)

var submitPatchToolDef = mcp.NewTool("workspace_submit_patch",
	mcp.WithDescription("Submit one edit operation; it is rebased against concurrent commits and broadcast to all subscribers"),
	mcp.WithString("path", mcp.Required(), mcp.Description("Workspace path of the file")),
	mcp.WithNumber("base_version", mcp.Required(), mcp.Description("Document version the edit was composed against")),
	mcp.WithString("kind", mcp.Required(), mcp.Description("insert, delete, or replace")),
	mcp.WithNumber("pos", mcp.Required(), mcp.Description("Character (rune) offset")),
	mcp.WithNumber("len", mcp.Description("Character count for delete/replace")),
	mcp.WithString("text", mcp.Description("Text for insert/replace")),
)

var checkoutToolDef = mcp.NewTool("workspace_checkout",
	mcp.WithDescription("Reconstruct a file's content at an historical version"),
	mcp.WithString("path", mcp.Required(), mcp.Description("Workspace path of the file")),
	mcp.WithNumber("version", mcp.Required(), mcp.Description("Version to reconstruct")),
)

var listFilesToolDef = mcp.NewTool("workspace_list_files",
	mcp.WithDescription("List workspace files with their current versions"),
)

var createFileToolDef = mcp.NewTool("workspace_create_file",
	mcp.WithDescription("Create a file; fails if the path exists"),
	mcp.WithString("path", mcp.Required(), mcp.Description("Workspace path for the new file")),
	mcp.WithBoolean("is_dir", mcp.Description("Create a directory instead of a file")),
	mcp.WithString("initial_content", mcp.Description("Initial file content")),
)

var deleteFileToolDef = mcp.NewTool("workspace_delete_file",
	mcp.WithDescription("Delete a file; pending edits against it will fail to resolve"),
	mcp.WithString("path", mcp.Required(), mcp.Description("Workspace path of the file")),
)

var moveFileToolDef = mcp.NewTool("workspace_move_file",
	mcp.WithDescription("Rename a file; identity and history are preserved"),
	mcp.WithString("from", mcp.Required(), mcp.Description("Current path")),
	mcp.WithString("to", mcp.Required(), mcp.Description("New path")),
)
