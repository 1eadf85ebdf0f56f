package guard

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrPatchMismatch indicates hunk context that could not be located in the
// target file.
var ErrPatchMismatch = errors.New("patch context does not match file")

// ErrPatchForeignPath indicates a patch whose headers reference a different
// file than the one being patched.
var ErrPatchForeignPath = errors.New("patch references a different path")

// hunk is one @@ block of a unified diff.
type hunk struct {
	oldStart int
	lines    []string // raw lines including the ' ', '-', '+' prefix
}

// ApplyPatch applies a single-file unified diff to the file at rel.
// The patch may carry ---/+++ headers; when present they must reference rel
// (optionally under the conventional a/ and b/ prefixes). The apply is
// whitespace-tolerant on context lines: trailing whitespace differences do
// not fail the match. Applying a patch and then its reverse restores the
// pre-image byte for byte.
func (g *Guard) ApplyPatch(rel, unifiedDiff string) (*WriteResult, error) {
	if err := checkPatchPaths(rel, unifiedDiff); err != nil {
		return nil, err
	}
	hunks, err := parseHunks(unifiedDiff)
	if err != nil {
		return nil, err
	}
	if len(hunks) == 0 {
		return nil, fmt.Errorf("patch contains no hunks")
	}

	before := ""
	if abs, err := g.ResolveSafe(rel); err != nil {
		return nil, err
	} else if data, readErr := readIfExists(abs); readErr == nil {
		before = data
	}

	after, err := applyHunks(before, hunks)
	if err != nil {
		return nil, err
	}
	return g.WriteFile(rel, after, false)
}

// ReversePatch returns the inverse of a unified diff: additions become
// removals and vice versa, with the hunk headers swapped accordingly.
func ReversePatch(unifiedDiff string) string {
	var out []string
	for _, line := range strings.Split(unifiedDiff, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "):
			out = append(out, "+++ "+line[4:])
		case strings.HasPrefix(line, "+++ "):
			out = append(out, "--- "+line[4:])
		case strings.HasPrefix(line, "@@"):
			oldSpec, newSpec, ok := parseHunkHeader(line)
			if ok {
				out = append(out, fmt.Sprintf("@@ -%s +%s @@", newSpec, oldSpec))
			} else {
				out = append(out, line)
			}
		case strings.HasPrefix(line, "+"):
			out = append(out, "-"+line[1:])
		case strings.HasPrefix(line, "-"):
			out = append(out, "+"+line[1:])
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// checkPatchPaths rejects patches whose file headers name a foreign path.
func checkPatchPaths(rel, diff string) error {
	for _, line := range strings.Split(diff, "\n") {
		var header string
		switch {
		case strings.HasPrefix(line, "--- "):
			header = strings.TrimSpace(line[4:])
		case strings.HasPrefix(line, "+++ "):
			header = strings.TrimSpace(line[4:])
		default:
			continue
		}
		// Strip a trailing timestamp column if present.
		if i := strings.IndexAny(header, "\t"); i >= 0 {
			header = header[:i]
		}
		if header == "/dev/null" || header == "" {
			continue
		}
		header = strings.TrimPrefix(header, "a/")
		header = strings.TrimPrefix(header, "b/")
		if header != rel {
			return fmt.Errorf("%w: %s", ErrPatchForeignPath, header)
		}
	}
	return nil
}

// parseHunkHeader extracts the "-l,c" and "+l,c" specs from an @@ line.
func parseHunkHeader(line string) (oldSpec, newSpec string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "@@" {
		return "", "", false
	}
	if !strings.HasPrefix(fields[1], "-") || !strings.HasPrefix(fields[2], "+") {
		return "", "", false
	}
	return fields[1][1:], fields[2][1:], true
}

func parseHunks(diff string) ([]hunk, error) {
	var hunks []hunk
	var cur *hunk
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "@@") {
			oldSpec, _, ok := parseHunkHeader(line)
			if !ok {
				return nil, fmt.Errorf("malformed hunk header: %s", line)
			}
			start := oldSpec
			if i := strings.Index(start, ","); i >= 0 {
				start = start[:i]
			}
			n, err := strconv.Atoi(start)
			if err != nil {
				return nil, fmt.Errorf("malformed hunk start: %s", line)
			}
			hunks = append(hunks, hunk{oldStart: n})
			cur = &hunks[len(hunks)-1]
			continue
		}
		if cur == nil {
			continue
		}
		if line == "" && cur != nil {
			// Blank line inside a hunk is an empty context line.
			cur.lines = append(cur.lines, " ")
			continue
		}
		switch line[0] {
		case ' ', '-', '+':
			cur.lines = append(cur.lines, line)
		case '\\':
			// "\ No newline at end of file" - ignore.
		default:
			cur = nil // trailing garbage ends the hunk
		}
	}
	// Drop trailing empty context introduced by the final newline split.
	for i := range hunks {
		for len(hunks[i].lines) > 0 && hunks[i].lines[len(hunks[i].lines)-1] == " " {
			hunks[i].lines = hunks[i].lines[:len(hunks[i].lines)-1]
		}
	}
	return hunks, nil
}

// applyHunks applies parsed hunks to content, tolerating trailing-whitespace
// drift on context and removal lines and small positional offsets.
func applyHunks(content string, hunks []hunk) (string, error) {
	lines := strings.Split(content, "\n")
	offset := 0
	for _, h := range hunks {
		// Expected old lines of this hunk (context + removals).
		var oldLines []string
		for _, l := range h.lines {
			if l[0] == ' ' || l[0] == '-' {
				oldLines = append(oldLines, l[1:])
			}
		}

		want := h.oldStart - 1 + offset
		pos, ok := locate(lines, oldLines, want)
		if !ok {
			return "", fmt.Errorf("%w: hunk at line %d", ErrPatchMismatch, h.oldStart)
		}

		// Rebuild: walk the hunk, consuming old lines at pos. Context lines
		// keep the file's own text so whitespace drift survives the apply.
		var out []string
		out = append(out, lines[:pos]...)
		cursor := pos
		for _, l := range h.lines {
			switch l[0] {
			case ' ':
				out = append(out, lines[cursor])
				cursor++
			case '-':
				cursor++
			case '+':
				out = append(out, l[1:])
			}
		}
		out = append(out, lines[cursor:]...)
		offset += len(out) - len(lines)
		lines = out
	}
	return strings.Join(lines, "\n"), nil
}

// locate finds where oldLines match within lines, preferring the expected
// position and searching outward up to a fixed radius.
func locate(lines, oldLines []string, want int) (int, bool) {
	if len(oldLines) == 0 {
		if want < 0 {
			want = 0
		}
		if want > len(lines) {
			want = len(lines)
		}
		return want, true
	}
	const radius = 200
	for delta := 0; delta <= radius; delta++ {
		for _, pos := range []int{want - delta, want + delta} {
			if delta == 0 && pos != want {
				continue
			}
			if pos < 0 || pos+len(oldLines) > len(lines) {
				continue
			}
			if matchAt(lines, oldLines, pos) {
				return pos, true
			}
		}
	}
	return 0, false
}

func matchAt(lines, oldLines []string, pos int) bool {
	for i, want := range oldLines {
		got := lines[pos+i]
		if got != want && strings.TrimRight(got, " \t") != strings.TrimRight(want, " \t") {
			return false
		}
	}
	return true
}

func readIfExists(abs string) (string, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
