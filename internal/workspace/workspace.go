// Package workspace provides read-only, root-constrained file-system access
// for conversations that carry a workspace directory.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// MaxFileBytes bounds a single file read handed to the model.
	MaxFileBytes = 64 * 1024
	// maxTreeEntries bounds the tree summary appended to the system prompt.
	maxTreeEntries = 200
)

// Resolve joins a relative path onto root and rejects anything that would
// escape it.
func Resolve(root, rel string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("no workspace root attached")
	}
	abs := filepath.Join(root, filepath.Clean("/"+rel))
	r, err := filepath.Rel(root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return abs, nil
}

// ListTree returns a text summary of the files under root, one relative
// path per line, directories first and capped at maxTreeEntries.
func ListTree(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("no workspace root attached")
	}
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are omitted, not fatal
		}
		if path == root {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, rel)
		if len(entries) >= maxTreeEntries {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk workspace: %w", err)
	}
	sort.Strings(entries)
	return strings.Join(entries, "\n"), nil
}

// ReadFile reads a file under root, bounded by MaxFileBytes.
func ReadFile(root, rel string) (string, error) {
	path, err := Resolve(root, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("is a directory: %s", rel)
	}
	if info.Size() > MaxFileBytes {
		return "", fmt.Errorf("file too large (%d bytes, limit %d): %s", info.Size(), MaxFileBytes, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListDirectory lists the entries directly under a relative path.
func ListDirectory(root, rel string) (string, error) {
	path, err := Resolve(root, rel)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Contents of %s:\n", rel))
	for _, entry := range entries {
		info, _ := entry.Info()
		if entry.IsDir() {
			result.WriteString(fmt.Sprintf("  [DIR]  %s/\n", entry.Name()))
		} else if info != nil {
			result.WriteString(fmt.Sprintf("  [FILE] %s (%d bytes)\n", entry.Name(), info.Size()))
		} else {
			result.WriteString(fmt.Sprintf("  [FILE] %s\n", entry.Name()))
		}
	}
	return result.String(), nil
}
