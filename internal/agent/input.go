package agent

import (
	"time"

	"github.com/doomcode/doomcode/internal/pty"
)

// Style selects how a prompt is delivered to the assistant.
type Style string

const (
	StyleLineWrite Style = "line_write"
	StyleTypewrite Style = "typewrite"
)

// DefaultTypewriteDelay is the default per-code-point delay for
// typewrite submission.
const DefaultTypewriteDelay = 5 * time.Millisecond

// PrimeDelay is the pause after the priming ESC before typing begins.
const PrimeDelay = 50 * time.Millisecond

// ForceSubmitGap is the separation between the CR and LF halves of a
// force-submit tail.
const ForceSubmitGap = 10 * time.Millisecond

func enterSuffix(mode pty.EnterMode) string {
	switch mode {
	case pty.EnterModeLF:
		return "\n"
	case pty.EnterModeCRLF:
		return "\r\n"
	default:
		return "\r"
	}
}

// sendLineWrite appends the enter suffix once and writes the whole
// thing in a single call.
func sendLineWrite(p pty.Provider, mode pty.EnterMode, text string) error {
	return p.Write([]byte(text + enterSuffix(mode)))
}

// sendTypewrite emits text one code point at a time with a per-character
// delay, primed by an ESC on the bridge backend, and finishes with a
// force-submit CR+LF tail. usesBridge controls the priming ESC: the
// native backend's line discipline doesn't buffer composed input the
// way the bridge's raw slave can leave behind.
func sendTypewrite(p pty.Provider, usesBridge bool, charDelay time.Duration, text string) error {
	if charDelay <= 0 {
		charDelay = DefaultTypewriteDelay
	}

	if usesBridge {
		if err := p.Write([]byte{0x1b}); err != nil {
			return err
		}
		time.Sleep(PrimeDelay)
	}

	for _, r := range text {
		if err := p.Write([]byte(string(r))); err != nil {
			return err
		}
		time.Sleep(charDelay)
	}

	if err := p.Write([]byte{'\r'}); err != nil {
		return err
	}
	time.Sleep(ForceSubmitGap)
	return p.Write([]byte{'\n'})
}
