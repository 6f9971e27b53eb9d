package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

// pdaMarker is appended to the hashed seeds when deriving a program address.
var pdaMarker = []byte("ProgramDerivedAddress")

// FindAssociatedTokenAddress derives the canonical token-holding account for
// (owner, mint): the first off-curve program address over the standard seed
// triple, walking the bump seed down from 255.
func FindAssociatedTokenAddress(owner, mint PublicKey) (PublicKey, uint8, error) {
	seeds := [][]byte{owner.Bytes(), TokenProgramID.Bytes(), mint.Bytes()}
	return findProgramAddress(seeds, AssociatedTokenProgramID)
}

func findProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		candidate, err := createProgramAddress(seeds, byte(bump), programID)
		if err != nil {
			continue // candidate landed on the curve, try next bump
		}
		return candidate, uint8(bump), nil
	}
	return PublicKey{}, 0, errors.New("no valid program address for seeds")
}

func createProgramAddress(seeds [][]byte, bump byte, programID PublicKey) (PublicKey, error) {
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > 32 {
			return PublicKey{}, fmt.Errorf("seed too long: %d bytes", len(seed))
		}
		h.Write(seed)
	}
	h.Write([]byte{bump})
	h.Write(programID.Bytes())
	h.Write(pdaMarker)

	var out PublicKey
	copy(out[:], h.Sum(nil))

	// A program address must not be a valid curve point; a successful
	// decompression means this bump is unusable.
	if _, err := new(edwards25519.Point).SetBytes(out[:]); err == nil {
		return PublicKey{}, errors.New("address is on the curve")
	}
	return out, nil
}
