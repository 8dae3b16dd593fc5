// Package scanner implements the permission-prompt detector and the
// unified-diff extractor that both watch the agent's raw PTY output.
package scanner

// Window is the rolling buffer both scanners read from. It is
// deliberately dumb about content; hygiene (truncation) is a policy
// applied by the caller after each scanner has had a chance to consume
// what it needs.
type Window struct {
	buf []byte
}

const (
	// MaxWindowSize is the hard cap before truncation kicks in.
	MaxWindowSize = 10_000
	// TruncatedTailSize is how much of the tail survives truncation.
	TruncatedTailSize = 5_000
)

func NewWindow() *Window { return &Window{} }

func (w *Window) Append(chunk []byte) {
	w.buf = append(w.buf, chunk...)
}

func (w *Window) Bytes() []byte { return w.buf }

func (w *Window) Len() int { return len(w.buf) }

// Reset drops everything the scanners have already consumed.
func (w *Window) Reset() { w.buf = nil }

// TruncateIfOversized enforces the 10KB hygiene cap. Truncating
// strictly to the tail window can bisect a half-emitted diff, so
// when the retained tail contains a newline the cut moves forward to
// just after its first newline, so a partial line is never handed to
// the diff extractor mid-hunk.
func (w *Window) TruncateIfOversized() {
	if len(w.buf) <= MaxWindowSize {
		return
	}
	tail := w.buf[len(w.buf)-TruncatedTailSize:]
	if idx := indexByte(tail, '\n'); idx >= 0 {
		tail = tail[idx+1:]
	}
	kept := make([]byte, len(tail))
	copy(kept, tail)
	w.buf = kept
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
