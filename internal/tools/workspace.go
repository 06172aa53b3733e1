package tools

import (
	"context"
	"fmt"

	"github.com/unrcom/llamune-chat/internal/workspace"
)

// ListFilesTool summarizes the whole workspace tree.
type ListFilesTool struct{}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List all files in the workspace as relative paths, one per line."
}

func (t *ListFilesTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, root string, params map[string]any) string {
	tree, err := workspace.ListTree(root)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if tree == "" {
		return "The workspace is empty."
	}
	return tree
}

// ListDirTool lists the entries under one relative path.
type ListDirTool struct{}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory inside the workspace."
}

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path relative to the workspace root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, root string, params map[string]any) string {
	path := GetString(params, "path", ".")
	out, err := workspace.ListDirectory(root, path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

// ReadFileTool reads one bounded-size file.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file inside the workspace."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path relative to the workspace root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, root string, params map[string]any) string {
	path := GetString(params, "path", "")
	if path == "" {
		return "Error: path is required"
	}
	content, err := workspace.ReadFile(root, path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return content
}
