package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/doomcode/doomcode/internal/relaystore"
	"github.com/doomcode/doomcode/internal/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every frame sent to each connection and lets
// tests script probe responses and forced-dead connections.
type fakeTransport struct {
	mu       sync.Mutex
	sent     map[string][]any
	dead     map[string]bool
	closed   map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: map[string][]any{}, dead: map[string]bool{}, closed: map[string]bool{}}
}

func (f *fakeTransport) Send(connectionID string, frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connectionID] = append(f.sent[connectionID], frame)
	return nil
}

func (f *fakeTransport) Probe(connectionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[connectionID]
}

func (f *fakeTransport) Close(connectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[connectionID] = true
}

func (f *fakeTransport) framesFor(connectionID string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any{}, f.sent[connectionID]...)
}

func (f *fakeTransport) lastOfType(connectionID string, target any) bool {
	frames := f.framesFor(connectionID)
	for i := len(frames) - 1; i >= 0; i-- {
		if fitsType(frames[i], target) {
			return true
		}
	}
	return false
}

func fitsType(v, target any) bool {
	switch target.(type) {
	case wire.SessionCreatedFrame:
		_, ok := v.(wire.SessionCreatedFrame)
		return ok
	case wire.ErrorFrame:
		_, ok := v.(wire.ErrorFrame)
		return ok
	case wire.PeerConnectedFrame:
		_, ok := v.(wire.PeerConnectedFrame)
		return ok
	case wire.PeerDisconnectedFrame:
		_, ok := v.(wire.PeerDisconnectedFrame)
		return ok
	}
	return false
}

func newTestHub(t *testing.T) (*Hub, *relaystore.InMemoryStore, *fakeTransport) {
	t.Helper()
	store := relaystore.NewInMemoryStore()
	transport := newFakeTransport()
	counter := 0
	newID := func() string {
		counter++
		return "sess-" + string(rune('0'+counter))
	}
	hub := NewHub(store, transport, zerolog.Nop(), newID)
	return hub, store, transport
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCreateThenJoinOperatorNotifiesController(t *testing.T) {
	hub, _, transport := newTestHub(t)

	hub.HandleFrame("controller-conn", mustJSON(t, wire.CreateFrame{Action: wire.ActionCreate, PublicKey: "ctrl-pub"}))
	require.True(t, transport.lastOfType("controller-conn", wire.SessionCreatedFrame{}))

	sessionID := "sess-1"
	hub.HandleFrame("operator-conn", mustJSON(t, wire.JoinFrame{
		Action: wire.ActionJoin, SessionID: sessionID, Role: wire.RoleOperator, PublicKey: "op-pub",
	}))

	require.True(t, transport.lastOfType("controller-conn", wire.PeerConnectedFrame{}))
}

func TestJoinUnknownSessionFails(t *testing.T) {
	hub, _, transport := newTestHub(t)
	hub.HandleFrame("conn-1", mustJSON(t, wire.JoinFrame{
		Action: wire.ActionJoin, SessionID: "nope", Role: wire.RoleOperator, PublicKey: "k",
	}))
	require.True(t, transport.lastOfType("conn-1", wire.ErrorFrame{}))
}

func TestSecondJoinSameRoleRejectedWhileIncumbentAlive(t *testing.T) {
	hub, _, transport := newTestHub(t)
	hub.HandleFrame("c1", mustJSON(t, wire.CreateFrame{Action: wire.ActionCreate, PublicKey: "k1"}))

	hub.HandleFrame("c2", mustJSON(t, wire.JoinFrame{
		Action: wire.ActionJoin, SessionID: "sess-1", Role: wire.RoleController, PublicKey: "k2",
	}))
	require.True(t, transport.lastOfType("c2", wire.ErrorFrame{}))
}

func TestIncumbentEvictedWhenProbeSaysGone(t *testing.T) {
	hub, _, transport := newTestHub(t)
	hub.HandleFrame("c1", mustJSON(t, wire.CreateFrame{Action: wire.ActionCreate, PublicKey: "k1"}))

	transport.mu.Lock()
	transport.dead["c1"] = true
	transport.mu.Unlock()

	hub.HandleFrame("c2", mustJSON(t, wire.JoinFrame{
		Action: wire.ActionJoin, SessionID: "sess-1", Role: wire.RoleController, PublicKey: "k2",
	}))

	require.True(t, transport.closed["c1"])
	require.False(t, transport.lastOfType("c2", wire.ErrorFrame{}))
}

func TestOfflineQueueAndDrain(t *testing.T) {
	hub, _, transport := newTestHub(t)
	hub.HandleFrame("c1", mustJSON(t, wire.CreateFrame{Action: wire.ActionCreate, PublicKey: "k1"}))

	for i := 1; i <= 3; i++ {
		var nonce [24]byte
		env := wire.NewEnvelope("sess-1", wire.SenderController, nonce, []byte("ct"))
		env.MessageID = "m" + string(rune('0'+i))
		hub.HandleFrame("c1", mustJSON(t, env))
	}

	hub.HandleFrame("c2", mustJSON(t, wire.JoinFrame{
		Action: wire.ActionJoin, SessionID: "sess-1", Role: wire.RoleOperator, PublicKey: "op",
	}))

	frames := transport.framesFor("c2")
	var statusSeen bool
	var replayed []string
	for _, f := range frames {
		switch v := f.(type) {
		case wire.QueueStatusFrame:
			require.Equal(t, 3, v.QueuedMessages)
			statusSeen = true
		case wire.Envelope:
			replayed = append(replayed, v.MessageID)
		}
	}
	require.True(t, statusSeen)
	require.Equal(t, []string{"m1", "m2", "m3"}, replayed)

	hub.HandleFrame("c2", mustJSON(t, wire.AckFrame{Action: wire.ActionAck, SessionID: "sess-1", LastMessageID: "m3"}))
	hub.HandleFrame("c2", mustJSON(t, wire.QueueStatusRequestFrame{Action: wire.ActionQueueStatus, SessionID: "sess-1"}))

	frames = transport.framesFor("c2")
	last := frames[len(frames)-1].(wire.QueueStatusFrame)
	require.Equal(t, 0, last.QueuedMessages)
}

func TestKeyRotationPurgesQueueBeforeReplay(t *testing.T) {
	hub, _, transport := newTestHub(t)
	hub.HandleFrame("c1", mustJSON(t, wire.CreateFrame{Action: wire.ActionCreate, PublicKey: "k1"}))

	var nonce [24]byte
	env1 := wire.NewEnvelope("sess-1", wire.SenderController, nonce, []byte("a"))
	env2 := wire.NewEnvelope("sess-1", wire.SenderController, nonce, []byte("b"))
	hub.HandleFrame("c1", mustJSON(t, env1))
	hub.HandleFrame("c1", mustJSON(t, env2))

	hub.HandleFrame("op1", mustJSON(t, wire.JoinFrame{
		Action: wire.ActionJoin, SessionID: "sess-1", Role: wire.RoleOperator, PublicKey: "KO",
	}))
	hub.HandleFrame("op1", mustJSON(t, wire.ControlFrame{Action: wire.ActionLeave}))

	hub.HandleFrame("op2", mustJSON(t, wire.JoinFrame{
		Action: wire.ActionJoin, SessionID: "sess-1", Role: wire.RoleOperator, PublicKey: "KO-prime",
	}))

	frames := transport.framesFor("op2")
	var status wire.QueueStatusFrame
	for _, f := range frames {
		if v, ok := f.(wire.QueueStatusFrame); ok {
			status = v
		}
	}
	require.Equal(t, 0, status.QueuedMessages, "queue must be purged before any replay after key rotation")
}

func TestOperatorToControllerDroppedWhileControllerAbsent(t *testing.T) {
	hub, store, _ := newTestHub(t)
	now := time.Now()
	_, _ = store.CreateSession("sess-1", now)
	_, _, _ = store.SetSessionSlot("sess-1", wire.RoleOperator, "op1", "opk", now)
	_ = store.PutConnection(relaystore.Connection{ID: "op1", SessionID: "sess-1", Role: wire.RoleOperator, PublicKey: "opk", ConnectedAt: now})

	var nonce [24]byte
	env := wire.NewEnvelope("sess-1", wire.SenderOperator, nonce, []byte("hi"))
	hub.HandleFrame("op1", mustJSON(t, env))

	items, err := store.ListQueue("sess-1", now)
	require.NoError(t, err)
	require.Empty(t, items, "operator->controller traffic must be dropped, not queued, while controller is absent")
}

func TestDisconnectNotifiesPeerAndDoesNotPurgeQueue(t *testing.T) {
	hub, store, transport := newTestHub(t)
	hub.HandleFrame("c1", mustJSON(t, wire.CreateFrame{Action: wire.ActionCreate, PublicKey: "k1"}))

	var nonce [24]byte
	env := wire.NewEnvelope("sess-1", wire.SenderController, nonce, []byte("queued"))
	hub.HandleFrame("c1", mustJSON(t, env))

	hub.HandleFrame("op1", mustJSON(t, wire.JoinFrame{
		Action: wire.ActionJoin, SessionID: "sess-1", Role: wire.RoleOperator, PublicKey: "opk",
	}))

	hub.HandleDisconnect("c1")
	require.True(t, transport.lastOfType("op1", wire.PeerDisconnectedFrame{}))

	// Controller disconnect must not purge the queue: the envelope
	// queued before the disconnect is still listed afterwards.
	items, err := store.ListQueue("sess-1", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, items, "queue must survive controller disconnect")
}
