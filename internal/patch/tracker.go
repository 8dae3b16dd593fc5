// Package patch tracks applied diffs so an operator's undo_request can
// reverse them without re-deriving the original patch from scratch.
package patch

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/doomcode/doomcode/internal/diffutil"
	"github.com/doomcode/doomcode/internal/wire"
)

// MaxHistory bounds the tracker's retained patches; the oldest is
// evicted once the 51st patch is finalized.
const MaxHistory = 50

// Clock lets tests control time.
type Clock func() time.Time

// FileState is one file's before/after hash pair plus the reverse diff
// needed to undo it.
type FileState struct {
	Path       string
	BeforeHash string // empty means the file did not exist before the patch
	AfterHash  string // empty means the file does not exist after the patch
	Reverse    diffutil.File
}

// AppliedPatch is a prepared-and-finalized patch, ready for undo.
type AppliedPatch struct {
	PatchID   string
	Timestamp time.Time
	AgentID   string
	Prompt    string
	Files     []*FileState
}

// Wire converts the record into the payload sent to the operator as
// patch_applied.
func (ap *AppliedPatch) Wire() wire.AppliedPatchWire {
	files := make([]wire.AppliedFileRecord, len(ap.Files))
	for i, fs := range ap.Files {
		files[i] = wire.AppliedFileRecord{Path: fs.Path, BeforeHash: fs.BeforeHash, AfterHash: fs.AfterHash}
	}
	return wire.AppliedPatchWire{
		PatchID:   ap.PatchID,
		Timestamp: ap.Timestamp.UnixMilli(),
		AgentID:   ap.AgentID,
		Prompt:    ap.Prompt,
		Files:     files,
	}
}

// pendingPatch is a diff_patch that has been previewed to the operator
// but not yet decided.
type pendingPatch struct {
	ap    *AppliedPatch
	files []diffutil.File
}

// Tracker records applied patches under a working directory and undoes
// them on request. All mutation is serialized behind a single mutex;
// undo of a large patch does not need to be fast, it needs to not race
// with a concurrent prepare/finalize of the next one.
type Tracker struct {
	mu      sync.Mutex
	workDir string
	history []*AppliedPatch
	pending map[string]*pendingPatch
	now     Clock
	log     zerolog.Logger
}

func NewTracker(workDir string, log zerolog.Logger) *Tracker {
	return &Tracker{workDir: workDir, pending: make(map[string]*pendingPatch), now: time.Now, log: log}
}

// History returns a snapshot of the retained patches, newest first, for
// a session_state resync.
func (t *Tracker) History() []*AppliedPatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*AppliedPatch, len(t.history))
	copy(out, t.history)
	return out
}

// Prepare hashes each file's current on-disk content and computes the
// reverse diff, before the caller applies the forward patch. Read
// errors other than "file does not exist" abort the whole patch: a
// half-hashed patch cannot be safely undone later.
func (t *Tracker) Prepare(patchID string, files []diffutil.File, agentID, prompt string) (*AppliedPatch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prepareLocked(patchID, files, agentID, prompt)
}

func (t *Tracker) prepareLocked(patchID string, files []diffutil.File, agentID, prompt string) (*AppliedPatch, error) {
	ap := &AppliedPatch{PatchID: patchID, Timestamp: t.now(), AgentID: agentID, Prompt: prompt}
	for _, f := range files {
		path := filepath.Join(t.workDir, f.Path)
		before, err := hashFile(path)
		if err != nil {
			return nil, fmt.Errorf("patch: hash %s before apply: %w", f.Path, err)
		}
		ap.Files = append(ap.Files, &FileState{
			Path:       f.Path,
			BeforeHash: before,
			Reverse:    diffutil.Reverse(f),
		})
	}
	return ap, nil
}

// Finalize re-hashes each file after the forward patch has been
// applied and pushes the record to the front of the bounded history.
func (t *Tracker) Finalize(ap *AppliedPatch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalizeLocked(ap)
}

func (t *Tracker) finalizeLocked(ap *AppliedPatch) {
	for _, fs := range ap.Files {
		path := filepath.Join(t.workDir, fs.Path)
		after, err := hashFile(path)
		if err != nil {
			t.log.Warn().Err(err).Str("path", fs.Path).Msg("patch: failed to hash file after apply")
			continue
		}
		fs.AfterHash = after
	}

	t.history = append([]*AppliedPatch{ap}, t.history...)
	if len(t.history) > MaxHistory {
		t.history = t.history[:MaxHistory]
	}
	t.log.Info().Str("patchId", ap.PatchID).Int("files", len(ap.Files)).Msg("patch: recorded applied patch")
}

// BeginPending hashes and records a freshly extracted diff_patch as
// awaiting an operator decision. It must be called before the payload
// is sent to the operator, so the beforeHash reflects the file state
// the diff was actually extracted against.
func (t *Tracker) BeginPending(patchID string, files []diffutil.File, agentID, prompt string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ap, err := t.prepareLocked(patchID, files, agentID, prompt)
	if err != nil {
		return err
	}
	t.pending[patchID] = &pendingPatch{ap: ap, files: files}
	return nil
}

// Decide resolves a pending patch per the operator's patch_decision.
// "reject" drops the pending record and returns (nil, nil). "apply"
// writes the previewed diff to disk and finalizes it. "edit" parses
// editedDiff as a replacement and applies that instead, re-hashing
// beforeHash against the same pre-decision file state.
func (t *Tracker) Decide(patchID, decision, editedDiff string) (*AppliedPatch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pp, ok := t.pending[patchID]
	if !ok {
		return nil, fmt.Errorf("patch: no pending patch %s", patchID)
	}
	delete(t.pending, patchID)

	switch decision {
	case wire.PatchDecisionReject:
		return nil, nil
	case wire.PatchDecisionEdit:
		files, err := diffutil.Parse(editedDiff)
		if err != nil {
			return nil, fmt.Errorf("patch: parse edited diff: %w", err)
		}
		ap, err := t.prepareLocked(patchID, files, pp.ap.AgentID, pp.ap.Prompt)
		if err != nil {
			return nil, err
		}
		if err := t.applyFiles(files); err != nil {
			return nil, err
		}
		t.finalizeLocked(ap)
		return ap, nil
	case wire.PatchDecisionApply:
		if err := t.applyFiles(pp.files); err != nil {
			return nil, err
		}
		t.finalizeLocked(pp.ap)
		return pp.ap, nil
	default:
		return nil, fmt.Errorf("patch: unknown decision %q", decision)
	}
}

// Undo reverts a tracked patch. It first verifies every tracked file
// is still at its recorded afterHash; if anything has drifted since,
// it refuses and reverts nothing rather than guess. On success it
// applies each file's reverse diff in reverse file order — later files
// in a patch may depend on earlier ones having already landed, so
// undo unwinds them last-applied-first.
func (t *Tracker) Undo(patchID string) *wire.UndoResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOf(patchID)
	if idx < 0 {
		return &wire.UndoResult{Type: wire.PayloadUndoResult, PatchID: patchID, Success: false, Error: "no such patch"}
	}
	ap := t.history[idx]

	for _, fs := range ap.Files {
		cur, err := hashFile(filepath.Join(t.workDir, fs.Path))
		if err != nil {
			return &wire.UndoResult{Type: wire.PayloadUndoResult, PatchID: patchID, Success: false,
				Error: fmt.Sprintf("read %s: %v", fs.Path, err)}
		}
		if cur != fs.AfterHash {
			return &wire.UndoResult{Type: wire.PayloadUndoResult, PatchID: patchID, Success: false,
				Error: fmt.Sprintf("%s has changed since the patch was applied, refusing to undo", fs.Path)}
		}
	}

	var reverted []string
	for i := len(ap.Files) - 1; i >= 0; i-- {
		fs := ap.Files[i]
		if err := t.applyReverse(fs); err != nil {
			return &wire.UndoResult{Type: wire.PayloadUndoResult, PatchID: patchID, Success: false,
				Error:         fmt.Sprintf("reverting %s: %v (files already reverted: %v)", fs.Path, err, reverted),
				RevertedFiles: reverted,
			}
		}
		reverted = append(reverted, fs.Path)
	}

	t.history = append(t.history[:idx], t.history[idx+1:]...)
	return &wire.UndoResult{Type: wire.PayloadUndoResult, PatchID: patchID, Success: true, RevertedFiles: reverted}
}

func (t *Tracker) indexOf(patchID string) int {
	for i, ap := range t.history {
		if ap.PatchID == patchID {
			return i
		}
	}
	return -1
}

// applyReverse applies one file's reverse diff, preferring the native
// patch tool (checked with --dry-run before committing) and falling
// back to a manual line-based hunk applier when the tool is missing or
// rejects the hunk.
func (t *Tracker) applyReverse(fs *FileState) error {
	diffText := diffutil.Format([]diffutil.File{fs.Reverse})
	if err := applyViaPatchTool(t.workDir, diffText); err == nil {
		return nil
	} else if t.log.GetLevel() <= zerolog.DebugLevel {
		t.log.Debug().Err(err).Str("path", fs.Path).Msg("patch: native patch tool failed, falling back to manual apply")
	}
	return applyFileManual(t.workDir, fs.Reverse)
}

// applyFiles applies a full diff's files to disk, forward direction,
// preferring the native patch tool for the whole set and falling back
// to the manual applier file-by-file.
func (t *Tracker) applyFiles(files []diffutil.File) error {
	diffText := diffutil.Format(files)
	if err := applyViaPatchTool(t.workDir, diffText); err == nil {
		return nil
	} else if t.log.GetLevel() <= zerolog.DebugLevel {
		t.log.Debug().Err(err).Msg("patch: native patch tool failed, falling back to manual apply")
	}
	for _, f := range files {
		if err := applyFileManual(t.workDir, f); err != nil {
			return err
		}
	}
	return nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// applyViaPatchTool shells out to the system `patch` binary. The dry
// run must succeed before the real apply runs, so a hunk that no
// longer matches never partially lands.
func applyViaPatchTool(workDir, diffText string) error {
	if _, err := exec.LookPath("patch"); err != nil {
		return err
	}

	check := exec.Command("patch", "-p1", "--forward", "--dry-run")
	check.Dir = workDir
	check.Stdin = strings.NewReader(diffText)
	var checkErr bytes.Buffer
	check.Stderr = &checkErr
	if err := check.Run(); err != nil {
		return fmt.Errorf("dry run: %w: %s", err, checkErr.String())
	}

	apply := exec.Command("patch", "-p1", "--forward")
	apply.Dir = workDir
	apply.Stdin = strings.NewReader(diffText)
	var applyErr bytes.Buffer
	apply.Stderr = &applyErr
	if err := apply.Run(); err != nil {
		return fmt.Errorf("apply: %w: %s", err, applyErr.String())
	}
	return nil
}

// applyFileManual applies a single file's diff by hand, matching the
// diff library's own hunk model rather than shelling out. It handles
// deletion, creation (a file whose hunks are all additions against an
// empty base), and ordinary modification.
func applyFileManual(workDir string, f diffutil.File) error {
	path := filepath.Join(workDir, f.Path)

	if f.DeletedFile {
		err := os.Remove(path)
		if err != nil && os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var lines []string
	if !f.NewFile {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Path, err)
		}
		lines = splitLines(string(data))
	}

	var out []string
	cursor := 0
	for _, h := range f.Hunks {
		start := h.OldStart - 1
		if start < 0 {
			start = 0
		}
		if start > len(lines) {
			start = len(lines)
		}
		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, l := range h.Lines {
			switch l.Type {
			case diffutil.LineContext:
				out = append(out, l.Content)
				cursor++
			case diffutil.LineDeletion:
				cursor++
			case diffutil.LineAddition:
				out = append(out, l.Content)
			}
		}
	}
	out = append(out, lines[cursor:]...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", f.Path, err)
	}
	return os.WriteFile(path, []byte(strings.Join(out, "\n")+"\n"), 0o644)
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
