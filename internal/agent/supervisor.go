// Package agent supervises the assistant subprocess: spawning it on a
// pseudo-terminal, scanning its output for permission prompts and
// diffs, and injecting operator-approved input back into it.
package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/doomcode/doomcode/internal/patch"
	"github.com/doomcode/doomcode/internal/pty"
	"github.com/doomcode/doomcode/internal/scanner"
	"github.com/doomcode/doomcode/internal/wire"
)

// Config carries the parameters a supervisor is started with. An
// agent_control start replaces AgentID; an agent_control configure is
// only logged and changes none of these fields.
type Config struct {
	Binary         string
	Args           []string
	WorkDir        string
	Shell          string
	AgentID        string
	EnterMode      pty.EnterMode
	TypewriteDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Shell == "" {
		c.Shell = "/bin/bash"
	}
	if c.EnterMode == "" {
		c.EnterMode = pty.EnterModeCRLF
	}
	if c.TypewriteDelay <= 0 {
		c.TypewriteDelay = DefaultTypewriteDelay
	}
	return c
}

// Callbacks are the events the supervisor emits toward the transport
// layer. Any nil callback is simply not invoked.
type Callbacks struct {
	OnOutput       func(wire.TerminalOutput)
	OnPermission   func(*wire.PermissionRequest)
	OnDiffPatch    func(*wire.DiffPatch)
	OnPatchApplied func(*wire.PatchApplied)
	OnStatus       func(wire.AgentStatusUpdate)
}

// Supervisor owns one assistant subprocess and the scanning/injection
// pipeline around it. All mutation goes through mu; the PTY read
// callback, the transport-driven control methods, and the typewrite
// pacing goroutine are the three concurrent activities that touch it.
type Supervisor struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger

	provider   pty.Provider
	usesBridge bool

	status     string
	lastPrompt string

	window   *scanner.Window
	perm     *scanner.PermissionDetector
	diffs    *scanner.DiffExtractor
	tracker  *patch.Tracker
	pending  map[string]*wire.PermissionRequest

	seq uint64
	cb  Callbacks
}

func New(cfg Config, tracker *patch.Tracker, newID func() string, log zerolog.Logger, cb Callbacks) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{
		cfg:     cfg,
		log:     log,
		status:  wire.StatusIdle,
		window:  scanner.NewWindow(),
		perm:    scanner.NewPermissionDetector(newID),
		diffs:   scanner.NewDiffExtractor(newID),
		tracker: tracker,
		pending: make(map[string]*wire.PermissionRequest),
		cb:      cb,
	}
}

// Status returns the current supervision state.
func (s *Supervisor) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start spawns the subprocess: native PTY first, falling back to the
// bridge backend when the native spawn fails in the way a broken
// posix_spawnp would.
func (s *Supervisor) Start() error {
	s.mu.Lock()

	if s.provider != nil {
		s.mu.Unlock()
		return fmt.Errorf("agent: already running")
	}

	provider, usesBridge, err := spawnFunc(s.cfg)
	if err != nil {
		s.setStatusLocked(wire.StatusError)
		s.mu.Unlock()
		return fmt.Errorf("agent: spawn failed: %w", err)
	}

	s.provider = provider
	s.usesBridge = usesBridge
	s.window.Reset()
	s.setStatusLocked(wire.StatusRunning)
	s.mu.Unlock()

	// Wired outside the lock: dataSink flushes any output buffered
	// before this call synchronously, and handleOutput/handleExit both
	// need s.mu themselves.
	provider.OnData(s.handleOutput)
	provider.OnExit(s.handleExit)

	return nil
}

// spawnFunc is a var so tests can substitute a fake backend without
// spawning a real subprocess.
var spawnFunc = spawn

func spawn(cfg Config) (pty.Provider, bool, error) {
	native, err := pty.SpawnNative(cfg.Binary, cfg.Args, cfg.WorkDir, cfg.Shell)
	if err == nil {
		return native, false, nil
	}
	if !looksLikeSpawnFailure(err) {
		return nil, false, err
	}
	bridge, bridgeErr := pty.SpawnBridge(cfg.Binary, cfg.Args, cfg.WorkDir, cfg.Shell, cfg.EnterMode)
	if bridgeErr != nil {
		return nil, false, fmt.Errorf("native: %w; bridge: %v", err, bridgeErr)
	}
	return bridge, true, nil
}

// looksLikeSpawnFailure reports whether an error from the native
// backend is the class of platform spawn failure the bridge fallback
// exists for. Errors raised before any process is started (e.g. exec's
// lookup failure for a missing binary) do not match; every
// os.StartProcess failure carries the "fork/exec" prefix and does,
// including one caused by a bad working directory.
func looksLikeSpawnFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "posix_spawnp") ||
		strings.Contains(msg, "fork/exec") ||
		strings.Contains(msg, "operation not permitted")
}

// Stop kills the subprocess and transitions to idle.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.setStatusLocked(wire.StatusIdle)
}

func (s *Supervisor) stopLocked() {
	if s.provider != nil {
		if err := s.provider.Kill(); err != nil {
			s.log.Warn().Err(err).Msg("agent: kill failed")
		}
		s.provider = nil
	}
}

func (s *Supervisor) handleExit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = nil
	if err != nil {
		s.log.Warn().Err(err).Msg("agent: subprocess exited with error")
	}
	s.setStatusLocked(wire.StatusIdle)
}

// handleOutput is the PTY read-loop callback: it appends the chunk to
// the rolling window, forwards it to the operator as terminal_output,
// then runs both scanners against the accumulated window.
func (s *Supervisor) handleOutput(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.seq
	s.seq++
	if s.cb.OnOutput != nil {
		s.cb.OnOutput(wire.TerminalOutput{
			Type:     wire.PayloadTerminalOutput,
			Stream:   "stdout",
			Data:     string(chunk),
			Sequence: seq,
		})
	}

	s.window.Append(chunk)

	if req := s.perm.Scan(s.window); req != nil {
		s.pending[req.RequestID] = req
		s.setStatusLocked(wire.StatusWaitingInput)
		if s.cb.OnPermission != nil {
			s.cb.OnPermission(req)
		}
	}

	if files, payload, consumed := s.diffs.Scan(s.window); consumed {
		s.window.Reset()
		if payload != nil {
			if s.tracker != nil {
				if err := s.tracker.BeginPending(payload.PatchID, files, s.cfg.AgentID, s.lastPrompt); err != nil {
					s.log.Warn().Err(err).Str("patchId", payload.PatchID).Msg("agent: failed to prepare patch")
				}
			}
			if s.cb.OnDiffPatch != nil {
				s.cb.OnDiffPatch(payload)
			}
		}
	}

	s.window.TruncateIfOversized()
}

// SendPrompt injects a user prompt into the assistant, using line-write
// on the native backend and typewrite on the bridge backend by default.
func (s *Supervisor) SendPrompt(text string, style Style) error {
	s.mu.Lock()
	provider := s.provider
	usesBridge := s.usesBridge
	mode := s.cfg.EnterMode
	delay := s.cfg.TypewriteDelay
	s.lastPrompt = text
	s.mu.Unlock()

	if provider == nil {
		return fmt.Errorf("agent: not running")
	}

	if style == "" {
		style = StyleLineWrite
		if usesBridge {
			style = StyleTypewrite
		}
	}

	if style == StyleTypewrite {
		return sendTypewrite(provider, usesBridge, delay, text)
	}
	return sendLineWrite(provider, mode, text)
}

// HandlePermissionResponse writes the operator's decision into the PTY
// and clears the pending entry: y/n plus the enter suffix.
func (s *Supervisor) HandlePermissionResponse(resp *wire.PermissionResponse) error {
	s.mu.Lock()
	provider := s.provider
	mode := s.cfg.EnterMode
	_, ok := s.pending[resp.RequestID]
	delete(s.pending, resp.RequestID)
	remaining := len(s.pending)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("agent: no pending permission %s", resp.RequestID)
	}
	if provider == nil {
		return fmt.Errorf("agent: not running")
	}

	answer := "n"
	if resp.Decision == wire.DecisionApprove || resp.Decision == wire.DecisionApproveAlways {
		answer = "y"
	}
	if err := provider.Write([]byte(answer + enterSuffix(mode))); err != nil {
		return err
	}

	s.mu.Lock()
	if remaining == 0 {
		s.setStatusLocked(wire.StatusRunning)
	}
	s.mu.Unlock()
	return nil
}

// PendingPermissions returns a snapshot of unresolved permission
// requests, used to build the session_state resync payload.
func (s *Supervisor) PendingPermissions() []*wire.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wire.PermissionRequest, 0, len(s.pending))
	for _, req := range s.pending {
		out = append(out, req)
	}
	return out
}

// HandleControl applies an operator agent_control command.
func (s *Supervisor) HandleControl(cmd *wire.AgentControl) error {
	switch cmd.Command {
	case wire.AgentCommandStart:
		s.mu.Lock()
		sameAgent := cmd.AgentID != "" && cmd.AgentID == s.cfg.AgentID
		alreadyRunning := s.provider != nil
		if cmd.AgentID != "" {
			s.cfg.AgentID = cmd.AgentID
		}
		s.mu.Unlock()

		if sameAgent && alreadyRunning {
			return nil // already running this agent; start is a no-op
		}
		s.Stop()
		return s.Start()
	case wire.AgentCommandStop:
		s.Stop()
		return nil
	case wire.AgentCommandRetry:
		s.mu.Lock()
		status := s.status
		prompt := s.lastPrompt
		s.mu.Unlock()
		if status != wire.StatusIdle || prompt == "" {
			return fmt.Errorf("agent: nothing to retry")
		}
		if err := s.Start(); err != nil {
			return err
		}
		return s.SendPrompt(prompt, "")
	case wire.AgentCommandConfigure:
		if cmd.Config == nil {
			return nil
		}
		s.log.Info().Interface("config", cmd.Config).Msg("agent: configure requested; full effect requires restart")
		return nil
	default:
		return fmt.Errorf("agent: unknown command %q", cmd.Command)
	}
}

// DecidePatch resolves a pending diff_patch per the operator's
// patch_decision and returns the payload to send back, if any (nil,
// nil on reject).
func (s *Supervisor) DecidePatch(dec *wire.PatchDecision) (*wire.PatchApplied, error) {
	if s.tracker == nil {
		return nil, fmt.Errorf("agent: no patch tracker configured")
	}
	ap, err := s.tracker.Decide(dec.PatchID, dec.Decision, dec.EditedDiff)
	if err != nil {
		return nil, err
	}
	if ap == nil {
		return nil, nil
	}
	applied := &wire.PatchApplied{Type: wire.PayloadPatchApplied, Patch: ap.Wire()}
	if s.cb.OnPatchApplied != nil {
		s.cb.OnPatchApplied(applied)
	}
	return applied, nil
}

func (s *Supervisor) setStatusLocked(status string) {
	if s.status == status {
		return
	}
	s.status = status
	if s.cb.OnStatus != nil {
		update := wire.AgentStatusUpdate{
			Type:       wire.PayloadAgentStatusUpdate,
			AgentID:    s.cfg.AgentID,
			Status:     status,
			LastPrompt: s.lastPrompt,
		}
		s.cb.OnStatus(update)
	}
}
