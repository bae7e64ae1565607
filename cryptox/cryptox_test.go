package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDeriveSessionKey_Deterministic(t *testing.T) {
	token := []byte("ciallo")
	clientID := "0058454c-ba2f-40de-8390-c1bcfc65754f"

	k1, err := DeriveSessionKey(token, clientID)
	require.NoError(t, err)
	k2, err := DeriveSessionKey(token, clientID)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, SessionKeySize)
}

func TestDeriveSessionKey_DifferentInputsDifferentKeys(t *testing.T) {
	k1, err := DeriveSessionKey([]byte("token-a"), "client-1")
	require.NoError(t, err)
	k2, err := DeriveSessionKey([]byte("token-b"), "client-1")
	require.NoError(t, err)
	k3, err := DeriveSessionKey([]byte("token-a"), "client-2")
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveSessionKey_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		token := []byte(rapid.String().Draw(t, "token"))
		clientID := rapid.StringMatching(`[0-9a-f-]{8,36}`).Draw(t, "clientID")

		k1, err := DeriveSessionKey(token, clientID)
		if err != nil {
			t.Fatalf("derive failed: %v", err)
		}
		k2, err := DeriveSessionKey(token, clientID)
		if err != nil {
			t.Fatalf("derive failed: %v", err)
		}
		if len(k1) != SessionKeySize {
			t.Fatalf("expected %d byte key, got %d", SessionKeySize, len(k1))
		}
		for i := range k1 {
			if k1[i] != k2[i] {
				t.Fatalf("derivation is not deterministic at byte %d", i)
			}
		}
	})
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key, err := DeriveSessionKey([]byte("token"), "client-1")
	require.NoError(t, err)

	plaintext := []byte("hello, tunnel")
	sealed, err := Seal(key, plaintext)
	require.NoError(t, err)

	opened, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealOpen_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key, err := DeriveSessionKey([]byte("k"), "c")
		if err != nil {
			t.Fatalf("derive failed: %v", err)
		}
		plaintext := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "plaintext")

		sealed, err := Seal(key, plaintext)
		if err != nil {
			t.Fatalf("seal failed: %v", err)
		}
		opened, err := Open(key, sealed)
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		if len(opened) != len(plaintext) {
			t.Fatalf("length mismatch: got %d want %d", len(opened), len(plaintext))
		}
		for i := range plaintext {
			if opened[i] != plaintext[i] {
				t.Fatalf("content mismatch at byte %d", i)
			}
		}
	})
}

func TestOpen_TamperedCiphertextFails(t *testing.T) {
	key, err := DeriveSessionKey([]byte("token"), "client-1")
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("hello, tunnel"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Open(key, tampered)
	assert.Error(t, err)
}

func TestOpen_TamperedNonceFails(t *testing.T) {
	key, err := DeriveSessionKey([]byte("token"), "client-1")
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("hello, tunnel"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[0] ^= 0xFF

	_, err = Open(key, tampered)
	assert.Error(t, err)
}

func TestTokensEqual(t *testing.T) {
	assert.True(t, TokensEqual([]byte("secret"), []byte("secret")))
	assert.False(t, TokensEqual([]byte("secret"), []byte("wrong")))
	assert.False(t, TokensEqual([]byte("secret"), []byte("sec")))
}
