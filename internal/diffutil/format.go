package diffutil

import (
	"fmt"
	"strings"
)

// Format renders files back into unified-diff text such that
// Parse(Format(files)) reproduces the same file/hunk/line structure.
func Format(files []File) string {
	var b strings.Builder
	for _, f := range files {
		writeFile(&b, f)
	}
	return b.String()
}

func writeFile(b *strings.Builder, f File) {
	oldPath, newPath := f.OldPath, f.NewPath
	if oldPath == "" {
		oldPath = f.Path
	}
	if newPath == "" {
		newPath = f.Path
	}

	fmt.Fprintf(b, "diff --git a/%s b/%s\n", displayPath(oldPath), displayPath(newPath))
	if f.NewFile {
		fmt.Fprintf(b, "new file mode 100644\n")
	}
	if f.DeletedFile {
		fmt.Fprintf(b, "deleted file mode 100644\n")
	}
	if f.RenameFrom != "" {
		fmt.Fprintf(b, "rename from %s\n", f.RenameFrom)
	}
	if f.RenameTo != "" {
		fmt.Fprintf(b, "rename to %s\n", f.RenameTo)
	}
	if f.Binary {
		fmt.Fprintf(b, "Binary files a/%s and b/%s differ\n", displayPath(oldPath), displayPath(newPath))
		return
	}

	fmt.Fprintf(b, "--- %s\n", diffSidePath("a/", oldPath, f.NewFile))
	fmt.Fprintf(b, "+++ %s\n", diffSidePath("b/", newPath, f.DeletedFile))

	for _, h := range f.Hunks {
		writeHunk(b, h)
	}
}

func displayPath(p string) string {
	if p == devNull {
		return "dev/null"
	}
	return p
}

// diffSidePath renders the "--- "/"+++ " path: /dev/null for the side
// that doesn't exist (new-file-mode has no old side; deleted-file-mode
// has no new side).
func diffSidePath(prefix, path string, isMissingSide bool) string {
	if isMissingSide {
		return devNull
	}
	return prefix + path
}

func writeHunk(b *strings.Builder, h Hunk) {
	fmt.Fprintf(b, "@@ -%s +%s @@", rangeString(h.OldStart, h.OldLines), rangeString(h.NewStart, h.NewLines))
	if h.Header != "" {
		fmt.Fprintf(b, " %s", h.Header)
	}
	b.WriteByte('\n')

	for _, l := range h.Lines {
		switch l.Type {
		case LineAddition:
			b.WriteByte('+')
		case LineDeletion:
			b.WriteByte('-')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(l.Content)
		b.WriteByte('\n')
	}
}

func rangeString(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// Summarize builds a short human-readable summary line for a diff_patch payload.
func Summarize(files []File) string {
	if len(files) == 0 {
		return "no changes"
	}
	if len(files) == 1 {
		return fmt.Sprintf("%s (+%d/-%d)", files[0].Path, files[0].Additions, files[0].Deletions)
	}
	totalAdd, totalDel := 0, 0
	for _, f := range files {
		totalAdd += f.Additions
		totalDel += f.Deletions
	}
	return fmt.Sprintf("%d files changed (+%d/-%d)", len(files), totalAdd, totalDel)
}

// Reverse flips a single file's diff: additions become deletions and
// vice versa, and the old/new paths, new/deleted mode flags, rename
// fields and hunk ranges are swapped. A new file reverses to a
// deletion, and a deletion reverses to a creation whose content is the
// deleted lines carried in the original diff.
func Reverse(f File) File {
	rev := f
	rev.OldPath, rev.NewPath = f.NewPath, f.OldPath
	rev.NewFile, rev.DeletedFile = f.DeletedFile, f.NewFile
	rev.RenameFrom, rev.RenameTo = f.RenameTo, f.RenameFrom
	rev.Additions, rev.Deletions = f.Deletions, f.Additions

	rev.Hunks = make([]Hunk, len(f.Hunks))
	for i, h := range f.Hunks {
		rh := Hunk{OldStart: h.NewStart, OldLines: h.NewLines, NewStart: h.OldStart, NewLines: h.OldLines, Header: h.Header}
		rh.Lines = make([]Line, len(h.Lines))
		for j, l := range h.Lines {
			switch l.Type {
			case LineAddition:
				rh.Lines[j] = Line{Type: LineDeletion, Content: l.Content}
			case LineDeletion:
				rh.Lines[j] = Line{Type: LineAddition, Content: l.Content}
			default:
				rh.Lines[j] = l
			}
		}
		rev.Hunks[i] = rh
	}
	rev.Path = rev.pickPath()
	return rev
}

func (f File) pickPath() string {
	switch {
	case f.DeletedFile:
		return f.OldPath
	case f.NewPath != "" && f.NewPath != devNull:
		return f.NewPath
	default:
		return f.OldPath
	}
}

// ReverseText renders the reverse diff for a single file as text,
// ready to hand to a patch tool.
func ReverseText(f File) string {
	return Format([]File{Reverse(f)})
}
