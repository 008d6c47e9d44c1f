package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is the number of unchanged lines shown around each change.
const contextLines = 3

// NewFilePatch describes the change of one file from old to new content.
// existedBefore and existsAfter distinguish an empty file from a missing
// one. It reports false when nothing changed.
func NewFilePatch(path, oldContent, newContent string, existedBefore, existsAfter bool) (FilePatch, bool) {
	var status FileStatus
	switch {
	case !existedBefore && !existsAfter:
		return FilePatch{}, false
	case !existedBefore:
		status = FileStatusAdded
		oldContent = ""
	case !existsAfter:
		status = FileStatusDeleted
		newContent = ""
	case oldContent == newContent:
		return FilePatch{}, false
	default:
		status = FileStatusModified
	}

	ops := lineOps(oldContent, newContent)
	fp := FilePatch{
		Path:       path,
		Status:     status,
		OldContent: oldContent,
		NewContent: newContent,
		Diff:       unifiedDiff(path, status, ops),
	}
	for _, op := range ops {
		switch op.kind {
		case diffmatchpatch.DiffInsert:
			fp.Insertions++
		case diffmatchpatch.DiffDelete:
			fp.Deletions++
		}
	}
	return fp, true
}

type lineOp struct {
	kind diffmatchpatch.Operation
	text string
}

// lineOps runs a line-level diff and flattens it to one op per line.
func lineOps(oldContent, newContent string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: d.Type, text: line})
		}
	}
	return ops
}

// splitLines splits s into lines without their terminators.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if strings.HasSuffix(s, "\n") {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type hunk struct {
	start, end int // op indices, end exclusive
}

// hunks groups changed ops with surrounding context, merging hunks whose
// context would overlap.
func hunks(ops []lineOp) []hunk {
	var out []hunk
	for i, op := range ops {
		if op.kind == diffmatchpatch.DiffEqual {
			continue
		}
		start := max(0, i-contextLines)
		end := min(len(ops), i+contextLines+1)
		if n := len(out); n > 0 && start <= out[n-1].end {
			out[n-1].end = max(out[n-1].end, end)
			continue
		}
		out = append(out, hunk{start: start, end: end})
	}
	return out
}

// unifiedDiff renders ops in unified diff format.
func unifiedDiff(path string, status FileStatus, ops []lineOp) string {
	var b strings.Builder

	oldName, newName := "a/"+path, "b/"+path
	switch status {
	case FileStatusAdded:
		oldName = "/dev/null"
	case FileStatusDeleted:
		newName = "/dev/null"
	}
	fmt.Fprintf(&b, "--- %s\n", oldName)
	fmt.Fprintf(&b, "+++ %s\n", newName)

	// line numbers before each op
	oldAt := make([]int, len(ops)+1)
	newAt := make([]int, len(ops)+1)
	oldAt[0], newAt[0] = 1, 1
	for i, op := range ops {
		oldAt[i+1], newAt[i+1] = oldAt[i], newAt[i]
		if op.kind != diffmatchpatch.DiffInsert {
			oldAt[i+1]++
		}
		if op.kind != diffmatchpatch.DiffDelete {
			newAt[i+1]++
		}
	}

	for _, h := range hunks(ops) {
		oldCount := oldAt[h.end] - oldAt[h.start]
		newCount := newAt[h.end] - newAt[h.start]
		fmt.Fprintf(&b, "@@ -%s +%s @@\n", hunkRange(oldAt[h.start], oldCount), hunkRange(newAt[h.start], newCount))
		for _, op := range ops[h.start:h.end] {
			switch op.kind {
			case diffmatchpatch.DiffInsert:
				b.WriteByte('+')
			case diffmatchpatch.DiffDelete:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(op.text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// hunkRange formats a hunk side. An empty side points at the line before it.
func hunkRange(start, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", start-1)
	}
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}
