// Package crypto wraps the precomputed-shared-secret NaCl box used for
// end-to-end envelope encryption between a controller and its operator.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// ErrAuthFailed is returned for any tampering, truncation, or
// cross-session misrouting detected while opening a sealed message.
// Callers never see partial plaintext.
var ErrAuthFailed = errors.New("crypto: authentication failed")

// KeySize is the length in bytes of both halves of a Curve25519 keypair.
const KeySize = 32

// NonceSize is the length in bytes of the random nonce used for each seal.
const NonceSize = 24

// Keypair is a single endpoint's long-lived Curve25519 keypair.
type Keypair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// GenerateKeypair returns a fresh keypair sourced from the platform CSPRNG.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return &Keypair{Public: *pub, Secret: *priv}, nil
}

// Zero overwrites the secret half so it does not linger in memory once a
// session ends.
func (k *Keypair) Zero() {
	if k == nil {
		return
	}
	for i := range k.Secret {
		k.Secret[i] = 0
	}
}

// Sealed is the output of a Box.Seal call: a fresh nonce and its ciphertext.
type Sealed struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
}

// Box precomputes an X25519 shared secret for one peer pair. All
// subsequent seal/open calls reuse it; it is discarded (by simply
// dropping the Box) when the session ends.
type Box struct {
	shared [KeySize]byte
}

// NewBox precomputes the shared secret between mySecret and peerPublic.
func NewBox(mySecret, peerPublic *[KeySize]byte) *Box {
	b := &Box{}
	box.Precompute(&b.shared, peerPublic, mySecret)
	return b
}

// Seal authenticates and encrypts plaintext under a fresh random nonce.
// No nonce is ever reused for a given shared secret: each call draws 24
// fresh bytes from the CSPRNG, and the birthday bound on that width
// makes accidental reuse over any realistic session lifetime
// negligible.
func (b *Box) Seal(plaintext []byte) (*Sealed, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	ct := box.SealAfterPrecomputation(nil, plaintext, &nonce, &b.shared)
	return &Sealed{Nonce: nonce, Ciphertext: ct}, nil
}

// Open verifies and decrypts a sealed message. Any single-bit change to
// nonce or ciphertext, or a message sealed under a different shared
// secret, yields ErrAuthFailed.
func (b *Box) Open(s *Sealed) ([]byte, error) {
	plaintext, ok := box.OpenAfterPrecomputation(nil, s.Ciphertext, &s.Nonce, &b.shared)
	if !ok {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
