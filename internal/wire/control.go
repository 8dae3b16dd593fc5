package wire

import "encoding/json"

// Role identifies which side of a session a connection joins as.
type Role string

const (
	RoleController Role = "controller"
	RoleOperator   Role = "operator"
)

// Control frame actions, client -> relay.
const (
	ActionCreate      = "create"
	ActionJoin        = "join"
	ActionLeave       = "leave"
	ActionAck         = "ack"
	ActionQueueStatus = "queue_status"
)

// Control frame actions, relay -> client.
const (
	ActionSessionCreated  = "session_created"
	ActionSessionJoined   = "session_joined"
	ActionPeerConnected   = "peer_connected"
	ActionPeerDisconnected = "peer_disconnected"
	ActionError           = "error"
	ActionPing            = "ping"
)

// Error codes carried by an "error" control frame.
const (
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeAlreadyConnected = "ALREADY_CONNECTED"
	ErrCodeNotJoined        = "NOT_JOINED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ControlFrame is the plaintext envelope for all client<->relay control
// traffic. Every concrete payload below embeds Action so the frame
// round-trips through a single json.RawMessage-free struct per
// direction; handlers decode into the specific payload type once the
// action has been sniffed.
type ControlFrame struct {
	Action string `json:"action"`
}

// CreateFrame is sent by a controller to allocate a fresh session.
type CreateFrame struct {
	Action    string `json:"action"`
	PublicKey string `json:"publicKey"`
}

// JoinFrame is sent by either role to bind a connection to a session slot.
type JoinFrame struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
	Role      Role   `json:"role"`
	PublicKey string `json:"publicKey"`
}

// AckFrame is sent by the operator to advance the queue cursor.
type AckFrame struct {
	Action        string `json:"action"`
	SessionID     string `json:"sessionId"`
	LastMessageID string `json:"lastMessageId"`
}

// QueueStatusRequestFrame asks the relay for the current queue depth.
type QueueStatusRequestFrame struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// SessionCreatedFrame answers a successful "create".
type SessionCreatedFrame struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// SessionJoinedFrame answers a successful "join". PeerPublicKey is
// present iff the peer slot was already filled at join time.
type SessionJoinedFrame struct {
	Action        string  `json:"action"`
	PeerPublicKey *string `json:"peerPublicKey,omitempty"`
}

// PeerConnectedFrame notifies the existing peer that the other role joined.
type PeerConnectedFrame struct {
	Action        string `json:"action"`
	PeerPublicKey string `json:"peerPublicKey"`
	PeerType      Role   `json:"peerType"`
}

// PeerDisconnectedFrame notifies the remaining peer that the other role left.
type PeerDisconnectedFrame struct {
	Action   string `json:"action"`
	PeerType Role   `json:"peerType"`
}

// QueueStatusFrame answers "queue_status" or is pushed unsolicited
// right before queue replay begins.
type QueueStatusFrame struct {
	Action          string `json:"action"`
	QueuedMessages  int    `json:"queuedMessages"`
	OldestTimestamp *int64 `json:"oldestTimestamp,omitempty"`
}

// ErrorFrame carries a stable code plus a human-readable message.
type ErrorFrame struct {
	Action  string `json:"action"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Action: ActionError, Code: code, Message: message}
}

// SniffAction extracts just the action field from a raw control frame
// without committing to a concrete payload type.
func SniffAction(raw []byte) (string, error) {
	var cf ControlFrame
	if err := json.Unmarshal(raw, &cf); err != nil {
		return "", err
	}
	return cf.Action, nil
}
