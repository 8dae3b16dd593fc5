// Package pty abstracts over the two backends the supervisor can use
// to attach the assistant subprocess to a pseudo-terminal: a native PTY
// library, and an in-process bridge fallback for hosts where native
// spawn fails. The rest of the supervisor never cares which is active.
package pty

import "sync"

// Provider is the interface the agent supervisor drives. Every
// implementation must guarantee: Write goes through a single writer,
// OnData delivers bytes in PTY order, and Kill/Resize/Write are safe to
// call from any goroutine.
type Provider interface {
	// Write injects raw bytes into the child's stdin/PTY slave.
	Write(data []byte) error
	// OnData registers the callback invoked for every chunk of
	// combined stdout/stderr the child produces. Only one callback may
	// be registered; a later call replaces the former.
	OnData(cb func([]byte))
	// OnExit registers the callback invoked once, when the child exits.
	OnExit(cb func(err error))
	// Resize updates the PTY window size.
	Resize(cols, rows int) error
	// Kill terminates the child and releases PTY resources. Idempotent.
	Kill() error
}

// dataSink buffers PTY output chunks until a callback is registered.
// The read loop starts as soon as the child is spawned, before the
// supervisor has had a chance to call OnData, so anything read in
// that window would otherwise be silently dropped; buffering it here
// and flushing in order once a callback arrives closes that gap.
type dataSink struct {
	mu      sync.Mutex
	cb      func([]byte)
	pending [][]byte
}

func (d *dataSink) set(cb func([]byte)) {
	d.mu.Lock()
	d.cb = cb
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	if cb == nil {
		return
	}
	for _, chunk := range pending {
		cb(chunk)
	}
}

// deliver copies chunk (callers pass a reused read buffer) before
// either handing it straight to the callback or, if none is
// registered yet, appending it to pending.
func (d *dataSink) deliver(chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)

	d.mu.Lock()
	cb := d.cb
	if cb == nil {
		d.pending = append(d.pending, cp)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	cb(cp)
}

// WindowSize is the initial PTY window used for every backend.
type WindowSize struct {
	Cols int
	Rows int
}

// DefaultWindowSize is the initial 120x40 window every backend starts with.
var DefaultWindowSize = WindowSize{Cols: 120, Rows: 40}

// Env returns the fixed environment overlay every backend applies on
// top of the caller's environment.
func Env(shell string) []string {
	return []string{
		"TERM=xterm-256color",
		"FORCE_COLOR=1",
		"CI=false",
		"SHELL=" + shell,
	}
}
