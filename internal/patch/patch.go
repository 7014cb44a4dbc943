// Package patch parses unified-diff text and applies it to in-memory file
// content. Application is all-or-nothing: a conflict leaves the input
// untouched.
package patch

import (
	"fmt"
	"strconv"
	"strings"
)

// Patch is an ordered list of hunks for a single file.
type Patch struct {
	Hunks []Hunk
}

// Hunk is one @@-delimited change block.
type Hunk struct {
	OldStart int // 1-based
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// LineKind discriminates hunk body lines.
type LineKind int

const (
	Context LineKind = iota
	Add
	Remove
)

// Line is a single hunk body line without its leading marker.
type Line struct {
	Kind LineKind
	Text string
}

// Parse reads unified-diff text: optional ---/+++ file headers followed by
// one or more hunks. Counts omitted from a range default to 1.
func Parse(diff string) (*Patch, error) {
	p := &Patch{}
	var current *Hunk

	for _, raw := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(raw, "--- ") || strings.HasPrefix(raw, "+++ "):
			if current != nil {
				return nil, fmt.Errorf("patch: %w: file header inside hunk", ErrParse)
			}
		case strings.HasPrefix(raw, "@@"):
			h, err := parseHunkHeader(raw)
			if err != nil {
				return nil, err
			}
			p.Hunks = append(p.Hunks, h)
			current = &p.Hunks[len(p.Hunks)-1]
		case strings.HasPrefix(raw, `\`):
			// "\ No newline at end of file"
		case raw == "" && current == nil:
			// blank line between header and first hunk
		case current == nil:
			if strings.TrimSpace(raw) == "" {
				continue
			}
			return nil, fmt.Errorf("patch: %w: content before first hunk header", ErrParse)
		default:
			line, err := parseBodyLine(raw)
			if err != nil {
				return nil, err
			}
			current.Lines = append(current.Lines, line)
		}
	}

	if len(p.Hunks) == 0 {
		return nil, fmt.Errorf("patch: %w: no hunks found", ErrParse)
	}
	return p, nil
}

func parseHunkHeader(raw string) (Hunk, error) {
	// @@ -oldStart[,oldCount] +newStart[,newCount] @@[ trailing]
	rest := strings.TrimPrefix(raw, "@@")
	end := strings.Index(rest, "@@")
	if end < 0 {
		return Hunk{}, fmt.Errorf("patch: %w: unterminated hunk header %q", ErrParse, raw)
	}
	fields := strings.Fields(rest[:end])
	if len(fields) != 2 || !strings.HasPrefix(fields[0], "-") || !strings.HasPrefix(fields[1], "+") {
		return Hunk{}, fmt.Errorf("patch: %w: malformed hunk header %q", ErrParse, raw)
	}

	oldStart, oldCount, err := parseRange(fields[0][1:])
	if err != nil {
		return Hunk{}, fmt.Errorf("patch: %w: bad old range in %q", ErrParse, raw)
	}
	newStart, newCount, err := parseRange(fields[1][1:])
	if err != nil {
		return Hunk{}, fmt.Errorf("patch: %w: bad new range in %q", ErrParse, raw)
	}
	return Hunk{OldStart: oldStart, OldCount: oldCount, NewStart: newStart, NewCount: newCount}, nil
}

func parseRange(s string) (start, count int, err error) {
	count = 1
	if i := strings.IndexByte(s, ','); i >= 0 {
		count, err = strconv.Atoi(s[i+1:])
		if err != nil {
			return 0, 0, err
		}
		s = s[:i]
	}
	start, err = strconv.Atoi(s)
	if err != nil {
		return 0, 0, err
	}
	return start, count, nil
}

func parseBodyLine(raw string) (Line, error) {
	switch {
	case strings.HasPrefix(raw, " "):
		return Line{Kind: Context, Text: raw[1:]}, nil
	case strings.HasPrefix(raw, "+"):
		return Line{Kind: Add, Text: raw[1:]}, nil
	case strings.HasPrefix(raw, "-"):
		return Line{Kind: Remove, Text: raw[1:]}, nil
	case raw == "":
		// Some producers emit empty context lines without the leading space.
		return Line{Kind: Context, Text: ""}, nil
	default:
		return Line{}, fmt.Errorf("patch: %w: unexpected line %q", ErrParse, raw)
	}
}

// Apply runs every hunk against the original text and returns the patched
// result. Hunk starts are adjusted by the running (new−old) offset from
// earlier hunks. A hunk whose range falls outside the buffer fails with
// ErrConflict and no partial result.
func Apply(original string, p *Patch) (string, error) {
	lines := splitLines(original)
	offset := 0

	for i, h := range p.Hunks {
		start := h.OldStart + offset - 1
		if start < 0 {
			return "", fmt.Errorf("patch: %w: hunk %d starts before line 1", ErrConflict, i+1)
		}
		if start+h.OldCount > len(lines) {
			return "", fmt.Errorf("patch: %w: hunk %d out of bounds at line %d", ErrConflict, i+1, start+1)
		}

		block := make([]string, 0, len(h.Lines))
		for _, l := range h.Lines {
			if l.Kind != Remove {
				block = append(block, l.Text)
			}
		}

		replaced := make([]string, 0, len(lines)-h.OldCount+len(block))
		replaced = append(replaced, lines[:start]...)
		replaced = append(replaced, block...)
		replaced = append(replaced, lines[start+h.OldCount:]...)
		lines = replaced

		offset += len(block) - h.OldCount
	}

	return strings.Join(lines, "\n"), nil
}

// Check reports whether the patch would apply cleanly to original,
// producing no output. Used by preview for dry runs.
func Check(original string, p *Patch) error {
	_, err := Apply(original, p)
	return err
}

// splitLines mirrors the line view Apply operates on: a trailing newline
// does not yield a phantom empty element.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
