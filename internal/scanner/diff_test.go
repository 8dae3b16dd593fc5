package scanner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doomcode/doomcode/internal/wire"
)

const sampleDiff = `diff --git a/foo.go b/foo.go
--- a/foo.go
+++ b/foo.go
@@ -1,2 +1,3 @@
 package foo
+// added line
 func Foo() {}
1 file changed
`

func TestDiffExtractorCapturesCompleteDiff(t *testing.T) {
	d := NewDiffExtractor(func() string { return "patch-1" })
	w := NewWindow()
	w.Append([]byte("some preamble\n" + sampleDiff))

	// First scan finds the start marker and enters in-diff mode without
	// producing a payload yet.
	files, payload, consumed := d.Scan(w)
	require.True(t, consumed)
	require.Nil(t, files)
	require.Nil(t, payload)
	require.Equal(t, "some preamble\n", string(w.Bytes()))

	// Second scan sees the end marker already buffered and parses.
	files, payload, consumed = d.Scan(w)
	require.True(t, consumed)
	require.NotNil(t, payload)
	require.Len(t, files, 1)
	require.Equal(t, "foo.go", files[0].Path)
	require.Equal(t, "patch-1", payload.PatchID)
	require.Equal(t, wire.PayloadDiffPatch, payload.Type)
	require.Equal(t, wire.RiskLow, payload.EstimatedRisk)
	require.Equal(t, 1, payload.TotalAdditions)
}

func TestDiffExtractorNoStartMarker(t *testing.T) {
	d := NewDiffExtractor(func() string { return "patch-1" })
	w := NewWindow()
	w.Append([]byte("just plain output, no diff here\n"))

	files, payload, consumed := d.Scan(w)
	require.False(t, consumed)
	require.Nil(t, files)
	require.Nil(t, payload)
}

func TestDiffExtractorFlagsSensitivePath(t *testing.T) {
	d := NewDiffExtractor(func() string { return "patch-2" })
	w := NewWindow()
	sensitive := `diff --git a/.env b/.env
--- a/.env
+++ b/.env
@@ -1 +1 @@
-SECRET=old
+SECRET=new
1 file changed
`
	w.Append([]byte(sensitive))
	_, _, _ = d.Scan(w)
	_, payload, _ := d.Scan(w)
	require.NotNil(t, payload)
	require.Equal(t, wire.RiskHigh, payload.EstimatedRisk)
}
