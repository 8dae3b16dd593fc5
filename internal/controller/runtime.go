package controller

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/doomcode/doomcode/internal/agent"
	"github.com/doomcode/doomcode/internal/config"
	"github.com/doomcode/doomcode/internal/crypto"
	"github.com/doomcode/doomcode/internal/patch"
	"github.com/doomcode/doomcode/internal/wire"
)

// Runtime is the controller's single long-lived object: it owns the
// relay connection, the assistant supervisor, and the patch tracker,
// and shuttles decrypted payloads between them.
type Runtime struct {
	cfg     *config.Config
	log     zerolog.Logger
	client  *Client
	kp      *crypto.Keypair
	sup     *agent.Supervisor
	tracker *patch.Tracker
	stop    chan struct{}
}

// NewRuntime wires a supervisor and tracker around an already-dialed
// client. The client must already have completed create/join.
func NewRuntime(cfg *config.Config, log zerolog.Logger, client *Client, kp *crypto.Keypair, agentBinary string) (*Runtime, error) {
	binary, err := agent.FindBinary(agentBinary)
	if err != nil {
		return nil, err
	}

	tracker := patch.NewTracker(cfg.WorkDir, log)

	r := &Runtime{cfg: cfg, log: log, client: client, kp: kp, tracker: tracker, stop: make(chan struct{})}

	r.sup = agent.New(agent.Config{
		Binary:         binary,
		WorkDir:        cfg.WorkDir,
		AgentID:        agentBinary,
		EnterMode:      cfg.EnterMode,
		TypewriteDelay: cfg.TypewriteDelay,
	}, tracker, wire.NewMessageID, log, agent.Callbacks{
		OnOutput:       func(p wire.TerminalOutput) { r.sendOrLog(p) },
		OnPermission:   func(p *wire.PermissionRequest) { r.sendOrLog(p) },
		OnDiffPatch:    func(p *wire.DiffPatch) { r.sendOrLog(p) },
		OnPatchApplied: func(p *wire.PatchApplied) { r.sendOrLog(p) },
		OnStatus:       func(p wire.AgentStatusUpdate) { r.sendOrLog(p) },
	})

	return r, nil
}

func (r *Runtime) sendOrLog(payload any) {
	if err := r.client.SendPayload(payload); err != nil {
		r.log.Warn().Err(err).Msg("controller: failed to send payload")
	}
}

// Start launches the assistant subprocess. Call after the peer key is
// established so terminal_output has somewhere to go.
func (r *Runtime) Start() error {
	return r.sup.Start()
}

// HandlePeerKey establishes the encryption box and starts the assistant
// once the operator's public key is known, whether that happens
// immediately at join time or later via peer_connected.
func (r *Runtime) HandlePeerKey(peerPublicKey string) {
	if err := r.client.SetPeer(&r.kp.Secret, peerPublicKey); err != nil {
		r.log.Error().Err(err).Msg("controller: failed to establish peer box")
		return
	}
	if err := r.sup.Start(); err != nil {
		r.log.Error().Err(err).Msg("controller: failed to start assistant")
	}
	r.sendSessionState()
}

// Run processes control and envelope frames off the relay connection
// until a read fails (for example when the connection closes). Stop
// does not by itself end the read loop.
func (r *Runtime) Run() error {
	go r.client.HeartbeatLoop(r.sup.Status, r.stop)

	for {
		raw, err := r.client.ReadFrame()
		if err != nil {
			return fmt.Errorf("controller: read frame: %w", err)
		}

		if wire.IsEnvelopeFrame(raw) {
			r.handleEnvelopeFrame(raw)
			continue
		}
		r.handleControlFrame(raw)
	}
}

// Stop tears down the supervisor and signals the heartbeat loop to exit.
func (r *Runtime) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	r.sup.Stop()
}

func (r *Runtime) handleControlFrame(raw []byte) {
	action, err := wire.SniffAction(raw)
	if err != nil {
		r.log.Warn().Err(err).Msg("controller: malformed control frame")
		return
	}

	switch action {
	case wire.ActionPeerConnected:
		var frame wire.PeerConnectedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			r.log.Warn().Err(err).Msg("controller: malformed peer_connected")
			return
		}
		r.HandlePeerKey(frame.PeerPublicKey)
	case wire.ActionPeerDisconnected:
		r.log.Info().Msg("controller: operator disconnected")
	case wire.ActionError:
		var frame wire.ErrorFrame
		_ = json.Unmarshal(raw, &frame)
		r.log.Warn().Str("code", frame.Code).Str("message", frame.Message).Msg("controller: relay error")
	case wire.ActionPing:
		// Nothing to do: a ping control frame expects no reply. The
		// relay's liveness probe is a websocket ping, not this frame.
	default:
		r.log.Debug().Str("action", action).Msg("controller: unhandled control frame")
	}
}

func (r *Runtime) handleEnvelopeFrame(raw []byte) {
	env, err := wire.Decode(raw)
	if err != nil {
		r.log.Warn().Err(err).Msg("controller: malformed envelope")
		return
	}
	plaintext, err := r.client.OpenPayload(env)
	if err != nil {
		r.log.Warn().Err(err).Msg("controller: failed to open envelope")
		return
	}

	var probe wire.TypeOnly
	if err := json.Unmarshal(plaintext, &probe); err != nil {
		r.log.Warn().Err(err).Msg("controller: malformed payload")
		return
	}

	switch probe.Type {
	case wire.PayloadUserPrompt:
		var p wire.UserPrompt
		if err := json.Unmarshal(plaintext, &p); err != nil {
			return
		}
		if err := r.sup.SendPrompt(p.Prompt, ""); err != nil {
			r.log.Warn().Err(err).Msg("controller: failed to inject prompt")
		}

	case wire.PayloadPermissionResponse:
		var p wire.PermissionResponse
		if err := json.Unmarshal(plaintext, &p); err != nil {
			return
		}
		if err := r.sup.HandlePermissionResponse(&p); err != nil {
			r.log.Warn().Err(err).Msg("controller: failed to apply permission response")
		}

	case wire.PayloadPatchDecision:
		var p wire.PatchDecision
		if err := json.Unmarshal(plaintext, &p); err != nil {
			return
		}
		applied, err := r.sup.DecidePatch(&p)
		if err != nil {
			r.log.Warn().Err(err).Str("patchId", p.PatchID).Msg("controller: patch decision failed")
			return
		}
		if applied != nil {
			r.sendOrLog(applied)
		}

	case wire.PayloadUndoRequest:
		var p wire.UndoRequest
		if err := json.Unmarshal(plaintext, &p); err != nil {
			return
		}
		result := r.tracker.Undo(p.PatchID)
		r.sendOrLog(result)

	case wire.PayloadAgentControl:
		var p wire.AgentControl
		if err := json.Unmarshal(plaintext, &p); err != nil {
			return
		}
		if err := r.sup.HandleControl(&p); err != nil {
			r.log.Warn().Err(err).Str("command", p.Command).Msg("controller: agent_control failed")
		}

	case wire.PayloadHeartbeat:
		// Informational only; missed heartbeats are not tracked. The
		// relay's own liveness probe is what drives incumbent eviction.

	default:
		r.log.Debug().Str("type", probe.Type).Msg("controller: unhandled payload type")
	}
}

func (r *Runtime) sendSessionState() {
	pending := r.sup.PendingPermissions()
	pendingWire := make([]wire.PendingPermissionWire, len(pending))
	for i, p := range pending {
		pendingWire[i] = wire.PendingPermissionWire{
			RequestID:   p.RequestID,
			Action:      p.Action,
			Description: p.Description,
			Details:     p.Details,
		}
	}

	history := r.tracker.History()
	historyWire := make([]wire.PatchHistoryEntry, len(history))
	for i, ap := range history {
		historyWire[i] = wire.PatchHistoryEntry{PatchID: ap.PatchID, Files: len(ap.Files)}
	}

	r.sendOrLog(wire.SessionState{
		Type:               wire.PayloadSessionState,
		AgentStatus:        r.sup.Status(),
		PendingPermissions: pendingWire,
		PatchHistory:       historyWire,
	})
}
