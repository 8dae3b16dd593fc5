package controller

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// PairingTimeout is the absolute lifetime of a pairing payload.
const PairingTimeout = 5 * time.Minute

// PairingPayload is the JSON blob the controller renders (as a QR code
// plus a textual fallback) for the operator to scan or paste.
type PairingPayload struct {
	SessionID string `json:"sessionId"`
	PublicKey string `json:"publicKey"`
	RelayURL  string `json:"relayUrl"`
	ExpiresAt int64  `json:"expiresAt"`
}

// NewPairingPayload builds a payload expiring PairingTimeout from now.
func NewPairingPayload(sessionID string, publicKey [32]byte, relayURL string) PairingPayload {
	return PairingPayload{
		SessionID: sessionID,
		PublicKey: base64.StdEncoding.EncodeToString(publicKey[:]),
		RelayURL:  relayURL,
		ExpiresAt: time.Now().Add(PairingTimeout).UnixMilli(),
	}
}

// Encode renders the payload as the JSON string form both the QR code
// and the textual fallback carry.
func (p PairingPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("controller: encode pairing payload: %w", err)
	}
	return string(b), nil
}

// Render prints the pairing payload to the given writer as a scannable
// QR code plus a textual fallback, matching a scan-or-paste flow.
func Render(p PairingPayload, out io.Writer) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}

	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(out, "pairing payload (QR generation failed: %v):\n%s\n", err, data)
		return nil
	}

	fmt.Fprintln(out, qr.ToSmallString(false))
	fmt.Fprintln(out, "Or paste this pairing payload into the operator app:")
	fmt.Fprintln(out, data)
	return nil
}
