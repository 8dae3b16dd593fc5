package scanner

import (
	"regexp"
	"strings"

	"github.com/doomcode/doomcode/internal/diffutil"
	"github.com/doomcode/doomcode/internal/wire"
)

var (
	diffStartPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^diff --git `),
		regexp.MustCompile(`(?m)^--- a/`),
	}
	diffEndPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\n\n\n`),                                   // multi-empty-line tail
		regexp.MustCompile(`(?m)^[$#%]\s*$`),                            // shell prompt tail
		regexp.MustCompile(`(?i)\b(applied|apply|\d+ files? changed)\b`), // apply/applied/N files changed
	}

	sensitivePathPattern = regexp.MustCompile(`(?i)(\.env|config|secret|key|password|auth|package\.json|go\.mod|Cargo\.toml|Dockerfile)`)
)

// DiffExtractor is stateful: it watches for unified-diff markers to
// enter "in-diff" mode, buffers subsequent output, then leaves the mode
// on an end heuristic and parses the accumulated buffer into a
// diff_patch payload.
type DiffExtractor struct {
	inDiff  bool
	buf     strings.Builder
	newID   func() string
}

func NewDiffExtractor(newPatchID func() string) *DiffExtractor {
	return &DiffExtractor{newID: newPatchID}
}

// Scan consumes as much of the window as it can. When a complete diff
// has been captured it returns the parsed files, the diff_patch
// payload, and true; the caller (the supervisor) resets the window
// whenever Scan reports it consumed something.
func (d *DiffExtractor) Scan(w *Window) (files []diffutil.File, payload *wire.DiffPatch, consumed bool) {
	buf := w.Bytes()

	if !d.inDiff {
		start := firstMatch(diffStartPatterns, buf)
		if start < 0 {
			return nil, nil, false
		}
		d.inDiff = true
		d.buf.Reset()
		d.buf.Write(buf[start:])
		w.buf = w.buf[:start]
		return nil, nil, true
	}

	d.buf.Write(buf)
	w.buf = w.buf[:0]

	content := d.buf.String()
	if end := firstMatch(diffEndPatterns, []byte(content)); end >= 0 {
		d.inDiff = false
		parsed, err := diffutil.Parse(content)
		d.buf.Reset()
		if err != nil || len(parsed) == 0 {
			return nil, nil, true
		}
		payload := buildDiffPatchPayload(d.newID(), parsed)
		return parsed, payload, true
	}

	return nil, nil, true
}

func firstMatch(patterns []*regexp.Regexp, buf []byte) int {
	best := -1
	for _, re := range patterns {
		if loc := re.FindIndex(buf); loc != nil {
			if best < 0 || loc[0] < best {
				best = loc[0]
			}
		}
	}
	return best
}

func buildDiffPatchPayload(patchID string, files []diffutil.File) *wire.DiffPatch {
	summaries := make([]wire.DiffFileSummary, 0, len(files))
	totalAdd, totalDel := 0, 0
	sensitive := false
	for _, f := range files {
		summaries = append(summaries, wire.DiffFileSummary{Path: f.Path, Additions: f.Additions, Deletions: f.Deletions})
		totalAdd += f.Additions
		totalDel += f.Deletions
		if sensitivePathPattern.MatchString(f.Path) {
			sensitive = true
		}
	}

	totalChanges := totalAdd + totalDel
	risk := wire.RiskLow
	switch {
	case sensitive || len(files) > 10 || totalChanges > 500:
		risk = wire.RiskHigh
	case len(files) > 5 || totalChanges > 100:
		risk = wire.RiskMedium
	}

	return &wire.DiffPatch{
		Type:           wire.PayloadDiffPatch,
		PatchID:        patchID,
		Files:          summaries,
		Summary:        diffutil.Summarize(files),
		EstimatedRisk:  risk,
		TotalAdditions: totalAdd,
		TotalDeletions: totalDel,
	}
}
