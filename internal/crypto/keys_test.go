package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519Verify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	key := PublicKey{Algorithm: AlgEd25519, Bytes: pub}
	msg := []byte("invoice-content-hash")
	sig := ed25519.Sign(priv, msg)

	ok, err := key.Verify(msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = key.Verify([]byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = PublicKey{Algorithm: AlgEd25519, Bytes: pub[:16]}.Verify(msg, sig)
	assert.Error(t, err)
}

func TestSecp256k1Verify(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	key := PublicKey{Algorithm: AlgSecp256k1, Bytes: priv.PubKey().SerializeCompressed()}
	msg := []byte("invoice-content-hash")
	digest := sha256.Sum256(msg)
	sig := secpecdsa.Sign(priv, digest[:])

	ok, err := key.Verify(msg, sig.Serialize())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = key.Verify([]byte("tampered"), sig.Serialize())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = key.Verify(msg, []byte("not-der"))
	assert.Error(t, err)
	_, err = PublicKey{Algorithm: AlgSecp256k1, Bytes: []byte{0x02}}.Verify(msg, sig.Serialize())
	assert.Error(t, err)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := PublicKey{Algorithm: "rsa"}.Verify([]byte("m"), []byte("s"))
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestKeyID(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	key := PublicKey{Algorithm: AlgEd25519, Bytes: pub}
	id := key.KeyID()
	assert.Len(t, id, 40) // ripemd160 is 20 bytes
	assert.Equal(t, id, key.KeyID())

	other, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	assert.NotEqual(t, id, PublicKey{Algorithm: AlgEd25519, Bytes: other}.KeyID())
}

func TestKeyRegistry(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	r := NewKeyRegistry()
	_, err = r.VerifyFor("BUY-001", []byte("m"), []byte("s"))
	assert.ErrorIs(t, err, ErrNoKey)

	r.Register("BUY-001", PublicKey{Algorithm: AlgEd25519, Bytes: pub})
	msg := []byte("invoice-content-hash")
	ok, err := r.VerifyFor("BUY-001", msg, ed25519.Sign(priv, msg))
	require.NoError(t, err)
	assert.True(t, ok)
}
