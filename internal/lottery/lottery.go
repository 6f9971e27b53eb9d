// Package lottery implements the deterministic, publicly reproducible
// winner draw. The seed derivation and PRNG are fixed: any change to either
// requires a version bump recorded in round meta.
package lottery

import (
	"fmt"
	"math"
)

// Hash32 is the iterative h = (h<<5) - h + c hash over UTF-8 bytes, taken as
// a non-negative 32-bit integer.
func Hash32(s string) uint32 {
	var h int32
	for _, c := range []byte(s) {
		h = (h << 5) - h + int32(c)
	}
	if h < 0 {
		return uint32(-int64(h))
	}
	return uint32(h)
}

// Seed derives the round seed from its public inputs. Anyone holding the
// round meta can recompute it.
func Seed(timestamp int64, tokenMint, blockhash string) uint32 {
	return Hash32(fmt.Sprintf("%d-%s-%s", timestamp, tokenMint, blockhash))
}

// Mulberry32 is the fixed PRNG for the draw. Bit-identical across
// implementations.
type Mulberry32 struct {
	state uint32
}

func NewMulberry32(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// Next returns the next value in [0, 1).
func (m *Mulberry32) Next() float64 {
	m.state += 0x6D2B79F5
	z := m.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	return float64(z^(z>>14)) / 4294967296.0
}

// Weight computes a holder's draw weight in [0, 10] from wallet age in days,
// consecutive eligible rounds and the time-weighted balance accumulator.
func Weight(walletAgeDays float64, streakRounds int, twbScore float64) float64 {
	if walletAgeDays < 0 {
		walletAgeDays = 0
	}
	if twbScore < 0 {
		twbScore = 0
	}
	age := math.Sqrt(walletAgeDays)
	streak := math.Min(3, 1+float64(streakRounds)/10)
	twb := math.Min(5, 1+math.Log10(1+twbScore))
	return math.Min(10, age*streak*twb)
}

// Entry is one eligible holder with its computed weight.
type Entry struct {
	Wallet string
	Weight float64
}

// SelectWinners draws up to count winners without replacement. Identical
// inputs always produce the identical ordered output.
func SelectWinners(eligible []Entry, count int, seed uint32) []Entry {
	remaining := make([]Entry, len(eligible))
	copy(remaining, eligible)

	rng := NewMulberry32(seed)
	var winners []Entry

	for len(winners) < count && len(remaining) > 0 {
		var total float64
		for _, e := range remaining {
			total += e.Weight
		}
		if total <= 0 {
			break
		}

		r := rng.Next() * total
		var cumulative float64
		picked := len(remaining) - 1
		for i, e := range remaining {
			cumulative += e.Weight
			if r < cumulative {
				picked = i
				break
			}
		}

		winners = append(winners, remaining[picked])
		remaining = append(remaining[:picked], remaining[picked+1:]...)
	}
	return winners
}
