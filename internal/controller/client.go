package controller

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/doomcode/doomcode/internal/crypto"
	"github.com/doomcode/doomcode/internal/wire"
)

func marshalPayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("controller: marshal payload: %w", err)
	}
	return b, nil
}

// Client owns the controller's single websocket connection to the
// relay: the control-frame handshake (create or join), plaintext
// control frames after that (peer lifecycle, errors), and encrypted
// envelope frames carrying payloads to and from the operator.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	SessionID string
	box       *crypto.Box
	peerSet   bool
}

// Dial opens the websocket connection. It does not perform the
// create/join handshake; call Create or Join next.
func Dial(wsURL string, log zerolog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("controller: dial relay: %w", err)
	}
	return &Client{conn: conn, log: log}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Create allocates a fresh session for a fresh `start` invocation.
func (c *Client) Create(publicKey [32]byte) (string, error) {
	if err := c.writeJSON(wire.CreateFrame{
		Action:    wire.ActionCreate,
		PublicKey: base64.StdEncoding.EncodeToString(publicKey[:]),
	}); err != nil {
		return "", err
	}

	var frame wire.SessionCreatedFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return "", fmt.Errorf("controller: read session_created: %w", err)
	}
	if frame.Action != wire.ActionSessionCreated {
		return "", fmt.Errorf("controller: expected session_created, got %q", frame.Action)
	}
	c.SessionID = frame.SessionID
	return frame.SessionID, nil
}

// Join binds this connection to an existing session, for `connect` and
// for reconnecting to a previously persisted session. The returned
// pointer is the peer's public key when the peer slot was already
// filled at join time, nil otherwise.
func (c *Client) Join(sessionID string, role wire.Role, publicKey [32]byte) (*string, error) {
	if err := c.writeJSON(wire.JoinFrame{
		Action:    wire.ActionJoin,
		SessionID: sessionID,
		Role:      role,
		PublicKey: base64.StdEncoding.EncodeToString(publicKey[:]),
	}); err != nil {
		return nil, err
	}

	var frame wire.SessionJoinedFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("controller: read session_joined: %w", err)
	}
	if frame.Action != wire.ActionSessionJoined {
		return nil, fmt.Errorf("controller: expected session_joined, got %q", frame.Action)
	}
	c.SessionID = sessionID
	return frame.PeerPublicKey, nil
}

// SetPeer establishes the encryption box once the operator's public key
// is known, whether from an immediate session_joined or a later
// peer_connected.
func (c *Client) SetPeer(mySecret *[32]byte, peerPublicB64 string) error {
	peer, err := base64.StdEncoding.DecodeString(peerPublicB64)
	if err != nil || len(peer) != crypto.KeySize {
		return fmt.Errorf("controller: invalid peer public key")
	}
	var peerArr [32]byte
	copy(peerArr[:], peer)
	c.box = crypto.NewBox(mySecret, &peerArr)
	c.peerSet = true
	return nil
}

// HasPeer reports whether the encryption box is ready to seal/open.
func (c *Client) HasPeer() bool { return c.peerSet }

// SendPayload seals a payload struct and ships it as an envelope frame.
func (c *Client) SendPayload(payload any) error {
	if !c.peerSet {
		return fmt.Errorf("controller: no peer key established yet")
	}
	plaintext, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	sealed, err := c.box.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("controller: seal payload: %w", err)
	}
	env := wire.NewEnvelope(c.SessionID, wire.SenderController, sealed.Nonce, sealed.Ciphertext)
	return c.writeJSON(env)
}

// OpenPayload decrypts an envelope's ciphertext back to plaintext JSON.
func (c *Client) OpenPayload(env wire.Envelope) ([]byte, error) {
	if !c.peerSet {
		return nil, fmt.Errorf("controller: no peer key established yet")
	}
	nonce, err := env.Nonce()
	if err != nil {
		return nil, err
	}
	ct, err := env.Ciphertext()
	if err != nil {
		return nil, err
	}
	return c.box.Open(&crypto.Sealed{Nonce: nonce, Ciphertext: ct})
}

// ReadFrame blocks for the next raw frame off the wire.
func (c *Client) ReadFrame() ([]byte, error) {
	_, raw, err := c.conn.ReadMessage()
	return raw, err
}

// Leave sends the leave control frame, which makes the relay clear
// this connection's slot and notify the peer.
func (c *Client) Leave() error {
	return c.writeJSON(wire.ControlFrame{Action: wire.ActionLeave})
}

const heartbeatInterval = 20 * time.Second

// HeartbeatLoop sends a heartbeat payload every 20s until stop closes.
func (c *Client) HeartbeatLoop(agentStatus func() string, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hb := wire.Heartbeat{
				Type:        wire.PayloadHeartbeat,
				Timestamp:   time.Now().UnixMilli(),
				AgentStatus: agentStatus(),
			}
			if err := c.SendPayload(hb); err != nil {
				c.log.Warn().Err(err).Msg("controller: heartbeat send failed")
			}
		}
	}
}
