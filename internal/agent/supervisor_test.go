package agent

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/doomcode/doomcode/internal/patch"
	"github.com/doomcode/doomcode/internal/pty"
	"github.com/doomcode/doomcode/internal/wire"
)

// newTestSupervisor builds a Supervisor with a fake provider already
// attached, bypassing Start (which would spawn a real subprocess).
func newTestSupervisor(t *testing.T, cb Callbacks) (*Supervisor, *fakeProvider) {
	t.Helper()
	tracker := patch.NewTracker(t.TempDir(), zerolog.Nop())
	s := New(Config{Binary: "irrelevant", AgentID: "claude"}, tracker, func() string { return "id-1" }, zerolog.Nop(), cb)
	p := &fakeProvider{}
	s.provider = p
	s.status = wire.StatusRunning
	return s, p
}

func TestHandleOutputForwardsAndDetectsPermission(t *testing.T) {
	var gotOutput wire.TerminalOutput
	var gotPermission *wire.PermissionRequest
	var gotStatus []wire.AgentStatusUpdate

	s, _ := newTestSupervisor(t, Callbacks{
		OnOutput:     func(p wire.TerminalOutput) { gotOutput = p },
		OnPermission: func(p *wire.PermissionRequest) { gotPermission = p },
		OnStatus:     func(p wire.AgentStatusUpdate) { gotStatus = append(gotStatus, p) },
	})

	s.handleOutput([]byte("Do you want to create /tmp/x.txt?\n"))

	require.Equal(t, "stdout", gotOutput.Stream)
	require.Contains(t, gotOutput.Data, "create /tmp/x.txt")
	require.NotNil(t, gotPermission)
	require.Equal(t, "file_write", gotPermission.Action)
	require.Equal(t, wire.StatusWaitingInput, s.Status())
	require.NotEmpty(t, gotStatus)
	require.Equal(t, wire.StatusWaitingInput, gotStatus[len(gotStatus)-1].Status)
}

func TestSendPromptDefaultsToLineWriteOnNativeBackend(t *testing.T) {
	s, p := newTestSupervisor(t, Callbacks{})
	require.NoError(t, s.SendPrompt("hello", ""))
	require.Equal(t, "hello\r\n", p.joined())
}

func TestSendPromptFailsWhenNotRunning(t *testing.T) {
	s, _ := newTestSupervisor(t, Callbacks{})
	s.provider = nil
	require.Error(t, s.SendPrompt("hello", ""))
}

func TestHandlePermissionResponseApprove(t *testing.T) {
	s, p := newTestSupervisor(t, Callbacks{})
	s.pending["req-1"] = &wire.PermissionRequest{RequestID: "req-1"}
	s.status = wire.StatusWaitingInput

	err := s.HandlePermissionResponse(&wire.PermissionResponse{RequestID: "req-1", Decision: wire.DecisionApprove})
	require.NoError(t, err)
	require.Equal(t, "y\r\n", p.joined())
	require.Equal(t, wire.StatusRunning, s.Status())
	require.Empty(t, s.pending)
}

func TestHandlePermissionResponseUnknownRequest(t *testing.T) {
	s, _ := newTestSupervisor(t, Callbacks{})
	err := s.HandlePermissionResponse(&wire.PermissionResponse{RequestID: "nope", Decision: wire.DecisionApprove})
	require.Error(t, err)
}

func TestHandleControlStop(t *testing.T) {
	s, _ := newTestSupervisor(t, Callbacks{})
	require.NoError(t, s.HandleControl(&wire.AgentControl{Command: wire.AgentCommandStop}))
	require.Equal(t, wire.StatusIdle, s.Status())
	require.Nil(t, s.provider)
}

// TestStartDoesNotDeadlockOnBufferedOutput reproduces the case where the
// child has already emitted output (e.g. a startup banner) by the time
// Start wires up OnData. dataSink flushes that buffered output
// synchronously from inside OnData, and handleOutput takes s.mu itself,
// so Start must not still be holding s.mu when it calls OnData.
func TestStartDoesNotDeadlockOnBufferedOutput(t *testing.T) {
	p := &fakeProvider{}
	p.buffer([]byte("banner\n"))

	orig := spawnFunc
	spawnFunc = func(cfg Config) (pty.Provider, bool, error) {
		return p, false, nil
	}
	defer func() { spawnFunc = orig }()

	var got []wire.TerminalOutput
	tracker := patch.NewTracker(t.TempDir(), zerolog.Nop())
	s := New(Config{Binary: "irrelevant"}, tracker, func() string { return "id-1" }, zerolog.Nop(), Callbacks{
		OnOutput: func(o wire.TerminalOutput) { got = append(got, o) },
	})

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start deadlocked wiring OnData for buffered output")
	}

	require.Len(t, got, 1)
	require.Equal(t, "banner\n", got[0].Data)
	require.Equal(t, uint64(0), got[0].Sequence, "first output must carry sequence 0")
}

func TestHandleControlStartSameAgentAlreadyRunningIsNoop(t *testing.T) {
	s, p := newTestSupervisor(t, Callbacks{})
	err := s.HandleControl(&wire.AgentControl{Command: wire.AgentCommandStart, AgentID: "claude"})
	require.NoError(t, err)
	// A no-op must not have killed and respawned the provider.
	require.Same(t, p, s.provider)
}

func TestHandleControlStartUpdatesAgentID(t *testing.T) {
	s, _ := newTestSupervisor(t, Callbacks{})
	s.provider = nil
	s.status = wire.StatusIdle

	err := s.HandleControl(&wire.AgentControl{Command: wire.AgentCommandStart, AgentID: "other-agent"})
	require.Error(t, err) // spawn fails: "irrelevant" isn't a real binary
	require.Equal(t, "other-agent", s.cfg.AgentID)
}

func TestHandleControlUnknownCommand(t *testing.T) {
	s, _ := newTestSupervisor(t, Callbacks{})
	err := s.HandleControl(&wire.AgentControl{Command: "bogus"})
	require.Error(t, err)
}

func TestHandleControlRetryRequiresIdleAndPrompt(t *testing.T) {
	s, _ := newTestSupervisor(t, Callbacks{})
	err := s.HandleControl(&wire.AgentControl{Command: wire.AgentCommandRetry})
	require.Error(t, err)
}

func TestPendingPermissionsSnapshot(t *testing.T) {
	s, _ := newTestSupervisor(t, Callbacks{})
	s.pending["a"] = &wire.PermissionRequest{RequestID: "a"}
	s.pending["b"] = &wire.PermissionRequest{RequestID: "b"}
	got := s.PendingPermissions()
	require.Len(t, got, 2)
}

func TestLooksLikeSpawnFailure(t *testing.T) {
	require.True(t, looksLikeSpawnFailure(errOf("posix_spawnp: too many open files")))
	require.True(t, looksLikeSpawnFailure(errOf("fork/exec /bin/x: permission denied")))
	require.False(t, looksLikeSpawnFailure(errOf("no such file or directory")))
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func errOf(msg string) error { return simpleErr(msg) }
