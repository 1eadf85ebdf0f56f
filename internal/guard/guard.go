// Package guard provides path-confined filesystem access rooted at a
// project's folder. Every mutating call returns the pre-image so callers can
// emit diffs, and every path is canonicalized and containment-checked before
// any I/O happens.
package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPathEscape indicates a relative path resolved outside the guard root.
var ErrPathEscape = errors.New("path escapes workspace root")

// Guard confines filesystem operations to a single root directory.
// Guard is stateless per call and safe for concurrent use; serializing
// concurrent writes to the same path is the caller's responsibility.
type Guard struct {
	root string
}

// New creates a Guard rooted at the given directory. The root is made
// absolute and symlink-resolved so containment checks compare canonical
// paths.
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Guard{root: abs}, nil
}

// Root returns the absolute root directory.
func (g *Guard) Root() string {
	return g.root
}

// ResolveSafe resolves a project-relative path to an absolute path.
// It fails with ErrPathEscape if the resolved path is not a descendant of
// the root after canonicalization.
func (g *Guard) ResolveSafe(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	abs := filepath.Join(g.root, filepath.Clean("/"+rel))
	// Clean("/"+rel) strips any ../ prefix, but verify containment anyway:
	// the join result must sit under root.
	if abs != g.root && !strings.HasPrefix(abs, g.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	// A symlink inside the tree may still point outside; canonicalize the
	// deepest existing ancestor and re-check.
	if existing := deepestExisting(abs); existing != "" {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil && resolved != g.root &&
			!strings.HasPrefix(resolved, g.root+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
		}
	}
	return abs, nil
}

// deepestExisting walks up from path to the deepest ancestor that exists.
func deepestExisting(path string) string {
	for p := path; ; p = filepath.Dir(p) {
		if _, err := os.Lstat(p); err == nil {
			return p
		}
		if filepath.Dir(p) == p {
			return ""
		}
	}
}

// Entry describes one directory listing entry.
type Entry struct {
	// Name is the base name of the entry.
	Name string `json:"name"`
	// IsDir is true for directories.
	IsDir bool `json:"is_dir"`
	// Size is the file size in bytes (0 for directories).
	Size int64 `json:"size"`
}

// List returns the entries of a directory, sorted by name.
func (g *Guard) List(relDir string) ([]Entry, error) {
	abs, err := g.ResolveSafe(relDir)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	out := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		e := Entry{Name: d.Name(), IsDir: d.IsDir()}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			e.Size = info.Size()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Tree walks the workspace and returns relative file paths, capped at limit
// entries (0 means no cap). Hidden directories and node_modules are skipped.
func (g *Guard) Tree(limit int) ([]string, error) {
	var out []string
	err := filepath.Walk(g.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		name := info.Name()
		if info.IsDir() {
			if path != g.root && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(g.root, path)
		if err != nil {
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		if limit > 0 && len(out) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile returns the content of a file.
func (g *Guard) ReadFile(rel string) (string, error) {
	abs, err := g.ResolveSafe(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// WriteResult is the outcome of a mutating guard operation.
type WriteResult struct {
	// Path is the project-relative path that was written.
	Path string `json:"path"`
	// Before is the pre-image content ("" for a new file).
	Before string `json:"before"`
	// After is the post-image content.
	After string `json:"after"`
	// Created is true when the file did not exist before.
	Created bool `json:"created"`
}

// WriteFile replaces a file's content, creating parent directories as needed.
// With dryRun set, nothing touches disk; the result reports what would
// change.
func (g *Guard) WriteFile(rel, content string, dryRun bool) (*WriteResult, error) {
	abs, err := g.ResolveSafe(rel)
	if err != nil {
		return nil, err
	}
	before, created := "", true
	if data, err := os.ReadFile(abs); err == nil {
		before, created = string(data), false
	}
	res := &WriteResult{Path: rel, Before: before, After: content, Created: created}
	if dryRun {
		return res, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return res, nil
}

// AppendFile concatenates content to the existing file (creating it when
// missing).
func (g *Guard) AppendFile(rel, content string, dryRun bool) (*WriteResult, error) {
	before := ""
	if abs, err := g.ResolveSafe(rel); err != nil {
		return nil, err
	} else if data, err := os.ReadFile(abs); err == nil {
		before = string(data)
	}
	return g.WriteFile(rel, before+content, dryRun)
}

// ReplaceRange replaces lines startLine..endLine (1-indexed, inclusive) with
// newText.
func (g *Guard) ReplaceRange(rel string, startLine, endLine int, newText string) (*WriteResult, error) {
	if startLine < 1 || endLine < startLine {
		return nil, fmt.Errorf("invalid line range %d..%d", startLine, endLine)
	}
	before, err := g.ReadFile(rel)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(before, "\n")
	if endLine > len(lines) {
		return nil, fmt.Errorf("line range %d..%d exceeds %d lines", startLine, endLine, len(lines))
	}
	var out []string
	out = append(out, lines[:startLine-1]...)
	if newText != "" {
		out = append(out, strings.Split(newText, "\n")...)
	}
	out = append(out, lines[endLine:]...)
	return g.WriteFile(rel, strings.Join(out, "\n"), false)
}
