package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/doomcode/doomcode/internal/diffutil"
	"github.com/doomcode/doomcode/internal/wire"
)

const modifyDiff = `diff --git a/foo.txt b/foo.txt
--- a/foo.txt
+++ b/foo.txt
@@ -1,3 +1,3 @@
 line one
-line two
+line two changed
 line three
`

const newFileDiff = `diff --git a/new.txt b/new.txt
new file mode 100644
--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+hello
+world
`

const deleteFileDiff = `diff --git a/gone.txt b/gone.txt
deleted file mode 100644
--- a/gone.txt
+++ /dev/null
@@ -1,2 +0,0 @@
-bye
-now
`

func newTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	return NewTracker(dir, zerolog.Nop()), dir
}

func TestPrepareFinalizeUndoModification(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := filepath.Join(dir, "foo.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\nline three\n"), 0o644))

	files, err := diffutil.Parse(modifyDiff)
	require.NoError(t, err)

	ap, err := tr.Prepare("patch-1", files, "agent-1", "fix line two")
	require.NoError(t, err)
	require.Len(t, ap.Files, 1)
	require.NotEmpty(t, ap.Files[0].BeforeHash)

	// Apply the forward patch the way the supervisor would: write the new content.
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two changed\nline three\n"), 0o644))
	tr.Finalize(ap)
	require.NotEmpty(t, ap.Files[0].AfterHash)
	require.NotEqual(t, ap.Files[0].BeforeHash, ap.Files[0].AfterHash)

	result := tr.Undo("patch-1")
	require.True(t, result.Success, result.Error)
	require.Equal(t, []string{"foo.txt"}, result.RevertedFiles)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "line one\nline two\nline three\n", string(data))
}

func TestUndoRefusesOnDrift(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := filepath.Join(dir, "foo.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\nline three\n"), 0o644))

	files, err := diffutil.Parse(modifyDiff)
	require.NoError(t, err)

	ap, err := tr.Prepare("patch-1", files, "agent-1", "fix line two")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two changed\nline three\n"), 0o644))
	tr.Finalize(ap)

	// Someone edits the file again after the patch landed.
	require.NoError(t, os.WriteFile(path, []byte("line one\nsomething else entirely\nline three\n"), 0o644))

	result := tr.Undo("patch-1")
	require.False(t, result.Success)
	require.Contains(t, result.Error, "changed since")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "line one\nsomething else entirely\nline three\n", string(data))
}

func TestUndoUnknownPatchID(t *testing.T) {
	tr, _ := newTestTracker(t)
	result := tr.Undo("does-not-exist")
	require.False(t, result.Success)
	require.Equal(t, "no such patch", result.Error)
}

func TestPrepareFinalizeUndoNewFile(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := filepath.Join(dir, "new.txt")

	files, err := diffutil.Parse(newFileDiff)
	require.NoError(t, err)

	ap, err := tr.Prepare("patch-new", files, "agent-1", "add new.txt")
	require.NoError(t, err)
	require.Empty(t, ap.Files[0].BeforeHash)

	require.NoError(t, os.WriteFile(path, []byte("hello\nworld\n"), 0o644))
	tr.Finalize(ap)
	require.NotEmpty(t, ap.Files[0].AfterHash)

	result := tr.Undo("patch-new")
	require.True(t, result.Success, result.Error)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestPrepareFinalizeUndoDeletedFile(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("bye\nnow\n"), 0o644))

	files, err := diffutil.Parse(deleteFileDiff)
	require.NoError(t, err)

	ap, err := tr.Prepare("patch-del", files, "agent-1", "remove gone.txt")
	require.NoError(t, err)
	require.NotEmpty(t, ap.Files[0].BeforeHash)

	require.NoError(t, os.Remove(path))
	tr.Finalize(ap)
	require.Empty(t, ap.Files[0].AfterHash)

	result := tr.Undo("patch-del")
	require.True(t, result.Success, result.Error)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "bye\nnow\n", string(data))
}

func TestBeginPendingApplyWritesFileAndFinalizes(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := filepath.Join(dir, "foo.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\nline three\n"), 0o644))

	files, err := diffutil.Parse(modifyDiff)
	require.NoError(t, err)
	require.NoError(t, tr.BeginPending("patch-2", files, "agent-1", "fix line two"))

	ap, err := tr.Decide("patch-2", wire.PatchDecisionApply, "")
	require.NoError(t, err)
	require.NotNil(t, ap)
	require.NotEmpty(t, ap.Files[0].AfterHash)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "line one\nline two changed\nline three\n", string(data))

	// The patch is now undoable.
	result := tr.Undo("patch-2")
	require.True(t, result.Success, result.Error)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "line one\nline two\nline three\n", string(data))
}

func TestBeginPendingRejectLeavesFileUntouched(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := filepath.Join(dir, "foo.txt")
	original := "line one\nline two\nline three\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	files, err := diffutil.Parse(modifyDiff)
	require.NoError(t, err)
	require.NoError(t, tr.BeginPending("patch-3", files, "agent-1", "fix line two"))

	ap, err := tr.Decide("patch-3", wire.PatchDecisionReject, "")
	require.NoError(t, err)
	require.Nil(t, ap)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, string(data))

	// Rejected patches aren't undoable; they were never applied.
	result := tr.Undo("patch-3")
	require.False(t, result.Success)
}

func TestDecideUnknownPendingID(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.Decide("nope", wire.PatchDecisionApply, "")
	require.Error(t, err)
}

func TestHistoryBoundedAt50(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := filepath.Join(dir, "foo.txt")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	for i := 0; i < MaxHistory+5; i++ {
		ap := &AppliedPatch{PatchID: "p"}
		tr.Finalize(ap)
	}

	tr.mu.Lock()
	n := len(tr.history)
	newest := tr.history[0]
	tr.mu.Unlock()

	require.Equal(t, MaxHistory, n)
	require.Equal(t, "p", newest.PatchID)
}
