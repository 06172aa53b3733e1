package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main"), 0644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestResolveRejectsEscape(t *testing.T) {
	root := setupWorkspace(t)

	for _, rel := range []string{"../outside", "a/../../outside", "/../../etc/passwd"} {
		if _, err := Resolve(root, rel); err == nil {
			t.Errorf("expected escape error for %q", rel)
		}
	}

	if _, err := Resolve(root, "src/main.go"); err != nil {
		t.Errorf("unexpected error for inside path: %v", err)
	}
	// Absolute-looking paths are treated as workspace-relative.
	if p, err := Resolve(root, "/src/main.go"); err != nil || p != filepath.Join(root, "src", "main.go") {
		t.Errorf("rooted path: %q, %v", p, err)
	}
}

func TestListTree(t *testing.T) {
	root := setupWorkspace(t)

	tree, err := ListTree(root)
	if err != nil {
		t.Fatalf("list tree: %v", err)
	}
	for _, want := range []string{"README.md", "src/", "src/main.go"} {
		if !strings.Contains(tree, want) {
			t.Errorf("tree missing %q:\n%s", want, tree)
		}
	}
}

func TestListTreeSkipsHidden(t *testing.T) {
	root := setupWorkspace(t)
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0644); err != nil {
		t.Fatal(err)
	}

	tree, err := ListTree(root)
	if err != nil {
		t.Fatalf("list tree: %v", err)
	}
	if strings.Contains(tree, ".git") {
		t.Errorf("tree should skip hidden entries:\n%s", tree)
	}
}

func TestReadFile(t *testing.T) {
	root := setupWorkspace(t)

	content, err := ReadFile(root, "README.md")
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if content != "hello" {
		t.Errorf("content = %q", content)
	}

	if _, err := ReadFile(root, "missing.txt"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := ReadFile(root, "src"); err == nil {
		t.Error("expected error for directory")
	}
}

func TestReadFileTooLarge(t *testing.T) {
	root := setupWorkspace(t)
	big := make([]byte, MaxFileBytes+1)
	if err := os.WriteFile(filepath.Join(root, "big.bin"), big, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadFile(root, "big.bin"); err == nil {
		t.Error("expected error for oversized file")
	}
}

func TestListDirectory(t *testing.T) {
	root := setupWorkspace(t)

	out, err := ListDirectory(root, ".")
	if err != nil {
		t.Fatalf("list directory: %v", err)
	}
	if !strings.Contains(out, "[DIR]  src/") || !strings.Contains(out, "[FILE] README.md") {
		t.Errorf("unexpected listing:\n%s", out)
	}

	if _, err := ListDirectory(root, "nope"); err == nil {
		t.Error("expected error for missing directory")
	}
}
