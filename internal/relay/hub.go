// Package relay implements the C4 relay handlers: connection
// lifecycle, join/create/ack/queue_status, encrypted-envelope routing,
// peer notifications, and queue replay. The hub never decrypts
// anything; it routes on envelope headers only.
package relay

import (
	"encoding/json"
	"time"

	"github.com/doomcode/doomcode/internal/relaystore"
	"github.com/doomcode/doomcode/internal/wire"
	"github.com/rs/zerolog"
)

// Transport is what the hub needs from whatever carries frames to a
// connection. A single connection is born anonymous and is addressed
// by the id the transport assigns it.
type Transport interface {
	// Send delivers a JSON-marshalable frame to a connection. Errors
	// are logged by the caller, never surfaced to other connections.
	Send(connectionID string, frame any) error
	// Probe sends a liveness ping to an incumbent connection and
	// reports whether it is still alive (true = alive). It makes a
	// single attempt: unless that attempt finds the connection gone,
	// the incumbent is treated as alive.
	Probe(connectionID string) (alive bool)
	// Close forcibly disconnects a connection (used to evict a dead incumbent).
	Close(connectionID string)
}

// Clock lets tests control time.
type Clock func() time.Time

// Hub owns the join/leave/route/queue state machine over a Store and a
// Transport. It holds no per-connection state of its own beyond what
// the Store already tracks.
type Hub struct {
	store     relaystore.Store
	transport Transport
	now       Clock
	log       zerolog.Logger
	newID     func() string
}

func NewHub(store relaystore.Store, transport Transport, log zerolog.Logger, newID func() string) *Hub {
	return &Hub{store: store, transport: transport, now: time.Now, log: log, newID: newID}
}

// HandleFrame dispatches a raw frame received from a connection. It
// first tries to identify the frame kind by wire.IsEnvelopeFrame
// disambiguation, then routes accordingly.
func (h *Hub) HandleFrame(connectionID string, raw []byte) {
	if wire.IsEnvelopeFrame(raw) {
		h.handleEnvelope(connectionID, raw)
		return
	}
	h.handleControl(connectionID, raw)
}

func (h *Hub) handleControl(connectionID string, raw []byte) {
	action, err := wire.SniffAction(raw)
	if err != nil {
		h.log.Warn().Err(err).Str("conn", connectionID).Msg("dropping malformed control frame")
		return
	}

	switch action {
	case wire.ActionCreate:
		h.handleCreate(connectionID, raw)
	case wire.ActionJoin:
		h.handleJoin(connectionID, raw)
	case wire.ActionLeave:
		h.HandleDisconnect(connectionID)
	case wire.ActionAck:
		h.handleAck(connectionID, raw)
	case wire.ActionQueueStatus:
		h.handleQueueStatus(connectionID, raw)
	default:
		h.log.Warn().Str("action", action).Msg("unknown control action")
		_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeInternal, "unknown action"))
	}
}

func (h *Hub) handleCreate(connectionID string, raw []byte) {
	var frame wire.CreateFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeInternal, "malformed create frame"))
		return
	}

	sessionID := h.newID()
	now := h.now()
	if _, err := h.store.CreateSession(sessionID, now); err != nil {
		h.log.Error().Err(err).Msg("create session")
		_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeInternal, "failed to create session"))
		return
	}

	if err := h.bindSlot(connectionID, sessionID, wire.RoleController, frame.PublicKey, now); err != nil {
		_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeInternal, err.Error()))
		return
	}

	_ = h.transport.Send(connectionID, wire.SessionCreatedFrame{Action: wire.ActionSessionCreated, SessionID: sessionID})
}

func (h *Hub) handleJoin(connectionID string, raw []byte) {
	var frame wire.JoinFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeInternal, "malformed join frame"))
		return
	}

	now := h.now()
	sess, err := h.store.GetSession(frame.SessionID, now)
	if err != nil {
		_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeSessionNotFound, "session not found or expired"))
		return
	}

	if incumbent, ok := sess.Slots[frame.Role]; ok && incumbent.Filled() {
		if h.transport.Probe(incumbent.ConnectionID) {
			_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeAlreadyConnected, "role already connected"))
			return
		}
		// Incumbent is gone: evict and proceed.
		h.evict(frame.SessionID, frame.Role, incumbent.ConnectionID)
	}

	if err := h.bindSlot(connectionID, frame.SessionID, frame.Role, frame.PublicKey, now); err != nil {
		_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeInternal, err.Error()))
		return
	}

	// Re-fetch to observe the peer slot as it stands after our own bind.
	sess, err = h.store.GetSession(frame.SessionID, now)
	if err != nil {
		return
	}
	peerRole := otherRole(frame.Role)
	peerSlot, peerFilled := sess.Slots[peerRole]
	peerFilled = peerFilled && peerSlot.Filled()

	var peerPublicKey *string
	if peerFilled {
		key := peerSlot.PublicKey
		peerPublicKey = &key
	}
	_ = h.transport.Send(connectionID, wire.SessionJoinedFrame{Action: wire.ActionSessionJoined, PeerPublicKey: peerPublicKey})

	if peerFilled {
		_ = h.transport.Send(peerSlot.ConnectionID, wire.PeerConnectedFrame{
			Action:        wire.ActionPeerConnected,
			PeerPublicKey: frame.PublicKey,
			PeerType:      frame.Role,
		})
	}

	if frame.Role == wire.RoleOperator {
		h.replayQueueToOperator(frame.SessionID, connectionID, now)
	}
}

// bindSlot binds connectionID into a session's role slot, records the
// connection in the store, and — for an operator join whose public key
// differs from the one already on file — purges the queue before any
// replay can occur, per the key-rotation invariant.
func (h *Hub) bindSlot(connectionID, sessionID string, role wire.Role, publicKey string, now time.Time) error {
	_, keyRotated, err := h.store.SetSessionSlot(sessionID, role, connectionID, publicKey, now)
	if err != nil {
		return err
	}
	if err := h.store.PutConnection(relaystore.Connection{
		ID: connectionID, SessionID: sessionID, Role: role, PublicKey: publicKey, ConnectedAt: now,
	}); err != nil {
		return err
	}
	if role == wire.RoleOperator && keyRotated {
		h.log.Info().Str("session", sessionID).Msg("operator public key rotated: purging queue before replay")
		if err := h.store.PurgeQueue(sessionID); err != nil {
			return err
		}
	}
	return nil
}

// replayQueueToOperator sends queue_status followed by every
// non-expired queued envelope in order, per the offline-queue-drain
// scenario.
func (h *Hub) replayQueueToOperator(sessionID, connectionID string, now time.Time) {
	items, err := h.store.ListQueue(sessionID, now)
	if err != nil {
		h.log.Error().Err(err).Msg("list queue for replay")
		return
	}

	status := wire.QueueStatusFrame{Action: wire.ActionQueueStatus, QueuedMessages: len(items)}
	if len(items) > 0 {
		ts := items[0].Envelope.Timestamp
		status.OldestTimestamp = &ts
	}
	_ = h.transport.Send(connectionID, status)

	for _, item := range items {
		_ = h.transport.Send(connectionID, item.Envelope)
	}
}

func (h *Hub) handleAck(connectionID string, raw []byte) {
	var frame wire.AckFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	conn, err := h.store.GetConnection(connectionID)
	if err != nil || conn.Role != wire.RoleOperator {
		_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeNotJoined, "not joined as operator"))
		return
	}
	if err := h.store.DeleteQueuedUpTo(frame.SessionID, frame.LastMessageID); err != nil {
		h.log.Error().Err(err).Msg("ack delete queued up to")
	}
}

func (h *Hub) handleQueueStatus(connectionID string, raw []byte) {
	var frame wire.QueueStatusRequestFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	items, err := h.store.ListQueue(frame.SessionID, h.now())
	if err != nil {
		_ = h.transport.Send(connectionID, wire.NewError(wire.ErrCodeSessionNotFound, "session not found"))
		return
	}
	status := wire.QueueStatusFrame{Action: wire.ActionQueueStatus, QueuedMessages: len(items)}
	if len(items) > 0 {
		ts := items[0].Envelope.Timestamp
		status.OldestTimestamp = &ts
	}
	_ = h.transport.Send(connectionID, status)
}

// handleEnvelope routes an opaque envelope frame: forward if the peer
// slot is filled, enqueue if the sender is the controller and the
// operator is absent, else drop silently.
func (h *Hub) handleEnvelope(connectionID string, raw []byte) {
	env, err := wire.Decode(raw)
	if err != nil {
		h.log.Warn().Err(err).Str("conn", connectionID).Msg("dropping invalid envelope")
		return
	}

	conn, err := h.store.GetConnection(connectionID)
	if err != nil {
		h.log.Warn().Str("conn", connectionID).Msg("envelope from unjoined connection dropped")
		return
	}
	// The envelope's sender must equal the slot occupied by this
	// connection; the relay does not trust the client-asserted sender
	// beyond that.
	if env.Sender != wire.Sender(conn.Role) {
		h.log.Warn().Str("conn", connectionID).Msg("envelope sender does not match connection role, dropping")
		return
	}

	now := h.now()
	sess, err := h.store.GetSession(env.SessionID, now)
	if err != nil {
		return
	}

	peerRole := otherRole(conn.Role)
	peerSlot, ok := sess.Slots[peerRole]
	switch {
	case ok && peerSlot.Filled():
		_ = h.transport.Send(peerSlot.ConnectionID, env)
	case conn.Role == wire.RoleController:
		if err := h.store.Enqueue(env.SessionID, env, now); err != nil {
			h.log.Error().Err(err).Msg("enqueue envelope")
		}
	default:
		// operator-to-controller while controller absent: drop silently.
	}
}

// HandleDisconnect notifies the peer (if any) and clears the slot. The
// queue is never purged here — only on operator key rotation — so the
// operator can still drain it after a controller reconnects.
func (h *Hub) HandleDisconnect(connectionID string) {
	conn, err := h.store.GetConnection(connectionID)
	if err != nil {
		return
	}
	h.evict(conn.SessionID, conn.Role, connectionID)
}

// evict clears a role's slot (only if it still points at
// evictConnectionID) and notifies the peer.
func (h *Hub) evict(sessionID string, role wire.Role, evictConnectionID string) {
	now := h.now()
	sess, err := h.store.GetSession(sessionID, now)
	if err == nil {
		if slot, ok := sess.Slots[role]; !ok || slot.ConnectionID != evictConnectionID {
			// Slot has already moved on (e.g. a fresh incumbent joined); don't clobber it.
			_ = h.store.DeleteConnection(evictConnectionID)
			return
		}
		peerRole := otherRole(role)
		if peerSlot, ok := sess.Slots[peerRole]; ok && peerSlot.Filled() {
			_ = h.transport.Send(peerSlot.ConnectionID, wire.PeerDisconnectedFrame{Action: wire.ActionPeerDisconnected, PeerType: role})
		}
	}
	_ = h.store.ClearSessionSlot(sessionID, role)
	_ = h.store.DeleteConnection(evictConnectionID)
	h.transport.Close(evictConnectionID)
}

func otherRole(r wire.Role) wire.Role {
	if r == wire.RoleController {
		return wire.RoleOperator
	}
	return wire.RoleController
}
