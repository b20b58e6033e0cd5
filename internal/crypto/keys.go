// Package crypto verifies buyer acceptance signatures and derives key
// fingerprints. Two key algorithms are supported: ed25519 and ECDSA
// over secp256k1 (DER signatures).
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/crypto/ripemd160"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

type Algorithm string

const (
	AlgEd25519   Algorithm = "ed25519"
	AlgSecp256k1 Algorithm = "secp256k1"
)

var (
	ErrUnknownAlgorithm = errors.New("unknown signature algorithm")
	ErrNoKey            = errors.New("no public key registered for account")
)

// PublicKey is an account's registered verification key.
type PublicKey struct {
	Algorithm Algorithm
	Bytes     []byte // ed25519: 32 bytes; secp256k1: 33-byte compressed
}

// KeyID is the fingerprint used to reference a key:
// RIPEMD160(SHA-256(key bytes)), hex encoded.
func (k PublicKey) KeyID() string {
	sha := sha256.Sum256(k.Bytes)
	h := ripemd160.New()
	h.Write(sha[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks sig over msg. The message is hashed with SHA-256 for
// secp256k1; ed25519 signs the raw message.
func (k PublicKey) Verify(msg, sig []byte) (bool, error) {
	switch k.Algorithm {
	case AlgEd25519:
		if len(k.Bytes) != ed25519.PublicKeySize {
			return false, fmt.Errorf("ed25519 key must be %d bytes, got %d", ed25519.PublicKeySize, len(k.Bytes))
		}
		return ed25519.Verify(ed25519.PublicKey(k.Bytes), msg, sig), nil
	case AlgSecp256k1:
		pub, err := secp256k1.ParsePubKey(k.Bytes)
		if err != nil {
			return false, fmt.Errorf("parse secp256k1 key: %w", err)
		}
		parsed, err := secpecdsa.ParseDERSignature(sig)
		if err != nil {
			return false, fmt.Errorf("parse signature: %w", err)
		}
		digest := sha256.Sum256(msg)
		return parsed.Verify(digest[:], pub), nil
	default:
		return false, ErrUnknownAlgorithm
	}
}

// KeyRegistry maps account ids to their registered public keys. This is
// the security branch added in artifact version 2.1.0.
type KeyRegistry struct {
	mu   sync.RWMutex
	keys map[string]PublicKey
}

func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[string]PublicKey)}
}

func (r *KeyRegistry) Register(accountID string, key PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[accountID] = key
}

func (r *KeyRegistry) Lookup(accountID string) (PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[accountID]
	return k, ok
}

// VerifyFor verifies sig over msg with accountID's registered key.
func (r *KeyRegistry) VerifyFor(accountID string, msg, sig []byte) (bool, error) {
	key, ok := r.Lookup(accountID)
	if !ok {
		return false, ErrNoKey
	}
	return key.Verify(msg, sig)
}
