package pty

import (
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// NativeProvider spawns the child attached to a real PTY via
// github.com/creack/pty. This is the preferred backend; SpawnNative
// returns an error when the spawn fails, and the supervisor falls back
// to the bridge backend when that error looks like a platform spawn
// failure (see looksLikeSpawnFailure).
type NativeProvider struct {
	cmd  *exec.Cmd
	ptmx *os.File
	data dataSink

	mu     sync.Mutex
	onExit func(error)
	killed bool
}

// SpawnNative starts path with args attached to a native PTY sized to
// DefaultWindowSize, with the fixed environment overlay from Env
// applied on top of the current process environment.
func SpawnNative(path string, args []string, dir string, shell string) (*NativeProvider, error) {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), Env(shell)...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(DefaultWindowSize.Cols),
		Rows: uint16(DefaultWindowSize.Rows),
	})
	if err != nil {
		return nil, err
	}

	p := &NativeProvider{cmd: cmd, ptmx: ptmx}
	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

func (p *NativeProvider) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.data.deliver(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				// A read error after Kill is expected; only surfaced via onExit.
			}
			return
		}
	}
}

func (p *NativeProvider) waitLoop() {
	err := p.cmd.Wait()
	p.mu.Lock()
	cb := p.onExit
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (p *NativeProvider) Write(data []byte) error {
	_, err := p.ptmx.Write(data)
	return err
}

func (p *NativeProvider) OnData(cb func([]byte)) {
	p.data.set(cb)
}

func (p *NativeProvider) OnExit(cb func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onExit = cb
}

func (p *NativeProvider) Resize(cols, rows int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (p *NativeProvider) Kill() error {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return nil
	}
	p.killed = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.ptmx.Close()
}
