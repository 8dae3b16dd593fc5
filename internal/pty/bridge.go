package pty

import (
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// EnterMode selects the line-ending suffix and, on the bridge backend,
// the slave terminal's input line discipline.
type EnterMode string

const (
	EnterModeCR   EnterMode = "cr"
	EnterModeLF   EnterMode = "lf"
	EnterModeCRLF EnterMode = "crlf"
)

// BridgeProvider is the fallback backend used when native PTY spawn
// fails. Rather than shelling out to a separate helper binary (which
// would require shipping a second cross-platform executable), it opens
// the PTY master/slave pair itself and attaches the child's stdio to
// the slave directly, proxying bytes between the master and the
// supervisor's callbacks: the same "small self-contained process that
// owns the PTY and speaks pipes to the parent" shape a helper binary
// would have, collapsed into one process since Go doesn't need the
// extra hop a dynamically-typed launcher would.
type BridgeProvider struct {
	cmd    *exec.Cmd
	master *os.File
	slave  *os.File
	data   dataSink

	mu     sync.Mutex
	onExit func(error)
	killed bool
}

// SpawnBridge starts path with args attached to a manually-opened PTY,
// configuring the slave's input line discipline per enterMode: ICRNL
// (translate CR to LF on input) is left on for cr/crlf modes and
// disabled for lf mode, matching the native terminal's default unless
// the caller has picked a mode that requires the raw byte to survive.
func SpawnBridge(path string, args []string, dir, shell string, enterMode EnterMode) (*BridgeProvider, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	if err := pty.Setsize(master, &pty.Winsize{
		Cols: uint16(DefaultWindowSize.Cols),
		Rows: uint16(DefaultWindowSize.Rows),
	}); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, err
	}
	if err := configureLineDiscipline(slave, enterMode); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), Env(shell)...)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = setsid()

	if err := cmd.Start(); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, err
	}
	// The child now owns the slave fd; the parent's copy is only needed
	// to keep it open until Start() duplicates it, so close it here.
	_ = slave.Close()

	p := &BridgeProvider{cmd: cmd, master: master, slave: slave}
	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

// configureLineDiscipline toggles ICRNL on the slave terminal per the
// enter mode: lf mode wants the raw LF to reach the child unmolested;
// cr and crlf modes leave the default translation in place.
func configureLineDiscipline(slave *os.File, mode EnterMode) error {
	termios, err := unix.IoctlGetTermios(int(slave.Fd()), ioctlGetTermios)
	if err != nil {
		return err
	}
	if mode == EnterModeLF {
		termios.Iflag &^= unix.ICRNL
	} else {
		termios.Iflag |= unix.ICRNL
	}
	return unix.IoctlSetTermios(int(slave.Fd()), ioctlSetTermios, termios)
}

func (p *BridgeProvider) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			p.data.deliver(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				_ = err
			}
			return
		}
	}
}

func (p *BridgeProvider) waitLoop() {
	err := p.cmd.Wait()
	p.mu.Lock()
	cb := p.onExit
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (p *BridgeProvider) Write(data []byte) error {
	_, err := p.master.Write(data)
	return err
}

func (p *BridgeProvider) OnData(cb func([]byte)) {
	p.data.set(cb)
}

func (p *BridgeProvider) OnExit(cb func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onExit = cb
}

func (p *BridgeProvider) Resize(cols, rows int) error {
	return pty.Setsize(p.master, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (p *BridgeProvider) Kill() error {
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
	return p.master.Close()
}
