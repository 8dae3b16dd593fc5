package controller

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/doomcode/doomcode/internal/crypto"
)

// PersistedKeypair is the base64 wire form of a Curve25519 keypair, the
// shape session.json stores it in.
type PersistedKeypair struct {
	PublicKey string `json:"publicKey"`
	SecretKey string `json:"secretKey"`
}

// SessionFile is the on-disk shape of {workingDirectory}/.doomcode/session.json.
type SessionFile struct {
	SessionID string           `json:"sessionId"`
	WSURL     string           `json:"wsUrl"`
	HTTPURL   string           `json:"httpUrl"`
	KeyPair   PersistedKeypair `json:"keyPair"`
	UpdatedAt int64            `json:"updatedAt"`
}

// NewSessionFile captures the fields worth persisting after a session
// is established.
func NewSessionFile(sessionID, wsURL, httpURL string, kp *crypto.Keypair) SessionFile {
	return SessionFile{
		SessionID: sessionID,
		WSURL:     wsURL,
		HTTPURL:   httpURL,
		KeyPair: PersistedKeypair{
			PublicKey: base64.StdEncoding.EncodeToString(kp.Public[:]),
			SecretKey: base64.StdEncoding.EncodeToString(kp.Secret[:]),
		},
		UpdatedAt: time.Now().UnixMilli(),
	}
}

// Keypair reconstructs the Curve25519 keypair persisted in the file.
func (s SessionFile) Keypair() (*crypto.Keypair, error) {
	pub, err := base64.StdEncoding.DecodeString(s.KeyPair.PublicKey)
	if err != nil || len(pub) != crypto.KeySize {
		return nil, fmt.Errorf("controller: invalid persisted public key")
	}
	sec, err := base64.StdEncoding.DecodeString(s.KeyPair.SecretKey)
	if err != nil || len(sec) != crypto.KeySize {
		return nil, fmt.Errorf("controller: invalid persisted secret key")
	}
	kp := &crypto.Keypair{}
	copy(kp.Public[:], pub)
	copy(kp.Secret[:], sec)
	return kp, nil
}

// SaveSessionFile writes the session state atomically: write to a
// sibling temp file, then rename over the target, so a crash mid-write
// never leaves a truncated session.json behind.
func SaveSessionFile(path string, s SessionFile) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("controller: marshal session file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("controller: write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("controller: rename session file: %w", err)
	}
	return nil
}

// LoadSessionFile reads a previously persisted session, if present. ok
// is false and err is nil when the file simply doesn't exist yet.
func LoadSessionFile(path string) (s SessionFile, ok bool, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionFile{}, false, nil
		}
		return SessionFile{}, false, fmt.Errorf("controller: read session file: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return SessionFile{}, false, fmt.Errorf("controller: parse session file: %w", err)
	}
	return s, true, nil
}
