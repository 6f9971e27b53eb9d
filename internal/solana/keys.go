// Package solana is a thin chain client: JSON-RPC lookups, associated
// token account derivation and raw transaction assembly for the treasury
// signer. Only the calls the engine consumes are wrapped.
package solana

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
)

// PublicKey is a 32-byte ed25519 public key / account address.
type PublicKey [32]byte

// Well-known program addresses.
var (
	SystemProgramID          = mustPublicKey("11111111111111111111111111111111")
	TokenProgramID           = mustPublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgramID = mustPublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// PublicKeyFromBase58 decodes an address string.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(raw) != 32 {
		return pk, fmt.Errorf("address %q: expected 32 bytes, got %d", s, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func mustPublicKey(s string) PublicKey {
	pk, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

func (p PublicKey) Bytes() []byte {
	return p[:]
}

// Keypair wraps the treasury's ed25519 signing key.
type Keypair struct {
	Public  PublicKey
	private ed25519.PrivateKey
}

// LoadKeypair reads a CLI-format key file: a JSON array of 64 bytes
// (seed || public key).
func LoadKeypair(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var nums []int
	if err := json.Unmarshal(raw, &nums); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	if len(nums) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file %s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(nums))
	}
	key := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("key file %s: byte %d out of range", path, i)
		}
		key[i] = byte(n)
	}
	kp := &Keypair{private: ed25519.PrivateKey(key)}
	copy(kp.Public[:], kp.private.Public().(ed25519.PublicKey))
	return kp, nil
}

// Sign produces a 64-byte ed25519 signature over the message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}
