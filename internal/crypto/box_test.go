package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	alice, err := GenerateKeypair()
	require.NoError(t, err)
	bob, err := GenerateKeypair()
	require.NoError(t, err)

	aliceBox := NewBox(&alice.Secret, &bob.Public)
	bobBox := NewBox(&bob.Secret, &alice.Public)

	msg := []byte("hello from alice")
	sealed, err := aliceBox.Seal(msg)
	require.NoError(t, err)

	opened, err := bobBox.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, msg, opened)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	alice, _ := GenerateKeypair()
	bob, _ := GenerateKeypair()
	aliceBox := NewBox(&alice.Secret, &bob.Public)
	bobBox := NewBox(&bob.Secret, &alice.Public)

	sealed, err := aliceBox.Seal([]byte("do not tamper"))
	require.NoError(t, err)

	sealed.Ciphertext[0] ^= 0x01
	_, err = bobBox.Open(sealed)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestOpenRejectsTamperedNonce(t *testing.T) {
	alice, _ := GenerateKeypair()
	bob, _ := GenerateKeypair()
	aliceBox := NewBox(&alice.Secret, &bob.Public)
	bobBox := NewBox(&bob.Secret, &alice.Public)

	sealed, err := aliceBox.Seal([]byte("nonce matters too"))
	require.NoError(t, err)

	sealed.Nonce[0] ^= 0x01
	_, err = bobBox.Open(sealed)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestOpenRejectsCrossSessionMisrouting(t *testing.T) {
	alice, _ := GenerateKeypair()
	bob, _ := GenerateKeypair()
	carol, _ := GenerateKeypair()

	aliceToBob := NewBox(&alice.Secret, &bob.Public)
	carolBox := NewBox(&carol.Secret, &alice.Public)

	sealed, err := aliceToBob.Seal([]byte("for bob's eyes only"))
	require.NoError(t, err)

	_, err = carolBox.Open(sealed)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestNoncesAreNotReused(t *testing.T) {
	alice, _ := GenerateKeypair()
	bob, _ := GenerateKeypair()
	b := NewBox(&alice.Secret, &bob.Public)

	seen := make(map[[NonceSize]byte]bool)
	for i := 0; i < 1000; i++ {
		s, err := b.Seal([]byte("x"))
		require.NoError(t, err)
		require.False(t, seen[s.Nonce], "nonce reused")
		seen[s.Nonce] = true
	}
}
