// Package wire implements the versioned frame format shared by the
// relay and both endpoints: plaintext control frames and opaque
// envelope frames.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the only envelope wire version this implementation speaks.
const Version = 1

// Sender identifies which role produced an envelope.
type Sender string

const (
	SenderController Sender = "controller"
	SenderOperator   Sender = "operator"
)

func (s Sender) valid() bool {
	return s == SenderController || s == SenderOperator
}

// Envelope is the outermost wire frame carrying opaque ciphertext. The
// relay inspects only these fields; it never decodes the ciphertext.
type Envelope struct {
	Version   int    `json:"version"`
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
	Sender    Sender `json:"sender"`

	// Nonce and Ciphertext are base64-encoded on the wire. EncryptedPayload
	// is the field name used on the wire (aliased "ciphertext" in the
	// spec prose); we keep the wire tag matching what clients emit.
	NonceB64            string `json:"nonce"`
	EncryptedPayloadB64 string `json:"encryptedPayload"`
}

// DecodeError reports why a candidate frame failed envelope validation.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "wire: decode envelope: " + e.Reason }

// NewMessageID mints a fresh 128-bit id, rendered without hyphens as an
// opaque identifier.
func NewMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewEnvelope builds a fully-formed envelope from raw nonce/ciphertext
// bytes, minting a fresh messageId and stamping the producer's clock.
func NewEnvelope(sessionID string, sender Sender, nonce [24]byte, ciphertext []byte) Envelope {
	return Envelope{
		Version:             Version,
		SessionID:           sessionID,
		MessageID:           NewMessageID(),
		Timestamp:           time.Now().UnixMilli(),
		Sender:              sender,
		NonceB64:            base64.StdEncoding.EncodeToString(nonce[:]),
		EncryptedPayloadB64: base64.StdEncoding.EncodeToString(ciphertext),
	}
}

// Nonce decodes the envelope's base64 nonce into a fixed-size array.
func (e Envelope) Nonce() ([24]byte, error) {
	var out [24]byte
	raw, err := base64.StdEncoding.DecodeString(e.NonceB64)
	if err != nil {
		return out, fmt.Errorf("wire: decode nonce: %w", err)
	}
	if len(raw) != 24 {
		return out, fmt.Errorf("wire: nonce must be 24 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Ciphertext decodes the envelope's base64 ciphertext.
func (e Envelope) Ciphertext() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(e.EncryptedPayloadB64)
	if err != nil {
		return nil, fmt.Errorf("wire: decode ciphertext: %w", err)
	}
	return raw, nil
}

// Encode marshals the envelope to its wire form.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode validates and parses a candidate envelope frame: version must
// be 1, sender must be a known enum member, and nonce/ciphertext must
// be valid base64 of plausible shape. Malformed input never crashes the
// caller — it returns a DecodeError to be logged and dropped.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	if e.Version != Version {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("unsupported version %d", e.Version)}
	}
	if e.SessionID == "" || e.MessageID == "" {
		return Envelope{}, &DecodeError{Reason: "missing sessionId or messageId"}
	}
	if !e.Sender.valid() {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("invalid sender %q", e.Sender)}
	}
	if _, err := e.Nonce(); err != nil {
		return Envelope{}, &DecodeError{Reason: err.Error()}
	}
	if _, err := base64.StdEncoding.DecodeString(e.EncryptedPayloadB64); err != nil {
		return Envelope{}, &DecodeError{Reason: "invalid ciphertext base64"}
	}
	return e, nil
}

// IsEnvelopeFrame reports whether a raw frame looks like an envelope
// frame rather than a control frame: envelope frames carry
// encryptedPayload and no top-level action.
func IsEnvelopeFrame(raw []byte) bool {
	var probe struct {
		Action           string `json:"action"`
		EncryptedPayload string `json:"encryptedPayload"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Action == "" && probe.EncryptedPayload != ""
}
