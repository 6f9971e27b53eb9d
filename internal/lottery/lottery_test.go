package lottery

import (
	"testing"
)

func TestHash32_KnownValues(t *testing.T) {
	// The iterative 31h+c hash with single characters reduces to the byte
	// value itself; the empty string hashes to zero.
	if got := Hash32(""); got != 0 {
		t.Errorf("Hash32(\"\") = %d, want 0", got)
	}
	if got := Hash32("a"); got != 97 {
		t.Errorf("Hash32(\"a\") = %d, want 97", got)
	}
	// "ab" = 31*97 + 98 = 3105
	if got := Hash32("ab"); got != 3105 {
		t.Errorf("Hash32(\"ab\") = %d, want 3105", got)
	}
}

func TestHash32_NonNegative(t *testing.T) {
	// Long inputs overflow int32; the result must still be usable as a
	// non-negative seed.
	inputs := []string{
		"1700000000-TokenMintAddr11111111111111111111111111111-Blockhash",
		"a very long string designed to overflow the 32 bit accumulator several times over",
	}
	for _, in := range inputs {
		got := Hash32(in)
		_ = got // uint32 is non-negative by construction; check determinism instead
		if got != Hash32(in) {
			t.Errorf("Hash32(%q) not deterministic", in)
		}
	}
}

func TestMulberry32_Range(t *testing.T) {
	rng := NewMulberry32(12345)
	for i := 0; i < 10000; i++ {
		v := rng.Next()
		if v < 0 || v >= 1 {
			t.Fatalf("Next() = %f out of [0,1) at draw %d", v, i)
		}
	}
}

func TestMulberry32_Deterministic(t *testing.T) {
	a := NewMulberry32(777)
	b := NewMulberry32(777)
	for i := 0; i < 100; i++ {
		if av, bv := a.Next(), b.Next(); av != bv {
			t.Fatalf("same seed diverged at draw %d: %f vs %f", i, av, bv)
		}
	}
}

func TestWeight_Caps(t *testing.T) {
	// An ancient whale with a huge streak still caps at 10.
	if w := Weight(100000, 1000, 1e12); w != 10 {
		t.Errorf("expected cap at 10, got %f", w)
	}
	// A brand-new wallet has zero weight regardless of balance.
	if w := Weight(0, 0, 1e9); w != 0 {
		t.Errorf("expected 0 weight for age 0, got %f", w)
	}
	// Negative inputs clamp to zero rather than producing NaN.
	if w := Weight(-5, 0, -1); w != 0 {
		t.Errorf("expected 0 for negative inputs, got %f", w)
	}
}

func TestWeight_ComponentCaps(t *testing.T) {
	// Streak multiplier saturates at 3: streak 20 and streak 1000 are equal
	// with the other factors pinned.
	w20 := Weight(1, 20, 0)
	w1000 := Weight(1, 1000, 0)
	if w20 != w1000 {
		t.Errorf("streak multiplier should saturate: %f vs %f", w20, w1000)
	}
	// Balance multiplier saturates at 5.
	b4 := Weight(1, 0, 1e4)
	b9 := Weight(1, 0, 1e9)
	if b9 != b4 {
		t.Errorf("twb multiplier should saturate: %f vs %f", b4, b9)
	}
}

func TestSelectWinners_Reproducible(t *testing.T) {
	eligible := []Entry{
		{Wallet: "alpha", Weight: 1.0},
		{Wallet: "bravo", Weight: 2.5},
		{Wallet: "charlie", Weight: 0.5},
		{Wallet: "delta", Weight: 4.0},
		{Wallet: "echo", Weight: 1.5},
	}
	seed := Seed(1700000000, "MintAddr", "Blockhash11111111111111111111111111111111111")

	first := SelectWinners(eligible, 3, seed)
	second := SelectWinners(eligible, 3, seed)

	if len(first) != 3 {
		t.Fatalf("expected 3 winners, got %d", len(first))
	}
	for i := range first {
		if first[i].Wallet != second[i].Wallet {
			t.Errorf("draw not reproducible at position %d: %s vs %s", i, first[i].Wallet, second[i].Wallet)
		}
	}
}

func TestSelectWinners_WithoutReplacement(t *testing.T) {
	eligible := []Entry{
		{Wallet: "a", Weight: 1},
		{Wallet: "b", Weight: 1},
		{Wallet: "c", Weight: 1},
		{Wallet: "d", Weight: 1},
	}
	winners := SelectWinners(eligible, 4, 42)
	if len(winners) != 4 {
		t.Fatalf("expected all 4 entries drawn, got %d", len(winners))
	}
	seen := map[string]bool{}
	for _, w := range winners {
		if seen[w.Wallet] {
			t.Errorf("wallet %s drawn twice", w.Wallet)
		}
		seen[w.Wallet] = true
	}
}

func TestSelectWinners_FewerEligibleThanRequested(t *testing.T) {
	eligible := []Entry{{Wallet: "only", Weight: 2}}
	winners := SelectWinners(eligible, 10, 1)
	if len(winners) != 1 || winners[0].Wallet != "only" {
		t.Errorf("expected the single eligible holder, got %v", winners)
	}
}

func TestSelectWinners_ZeroTotalWeight(t *testing.T) {
	eligible := []Entry{
		{Wallet: "a", Weight: 0},
		{Wallet: "b", Weight: 0},
	}
	if winners := SelectWinners(eligible, 2, 9); len(winners) != 0 {
		t.Errorf("zero total weight must draw nobody, got %v", winners)
	}
}

func TestSelectWinners_InputNotMutated(t *testing.T) {
	eligible := []Entry{
		{Wallet: "a", Weight: 1},
		{Wallet: "b", Weight: 2},
		{Wallet: "c", Weight: 3},
	}
	SelectWinners(eligible, 2, 5)
	if eligible[0].Wallet != "a" || eligible[1].Wallet != "b" || eligible[2].Wallet != "c" {
		t.Errorf("eligible slice was mutated: %v", eligible)
	}
}

func TestSelectWinners_HeavierWeightWinsMoreOften(t *testing.T) {
	// Distributional check across many seeds: a 9:1 weight split should
	// show up clearly in first-pick frequency.
	eligible := []Entry{
		{Wallet: "heavy", Weight: 9},
		{Wallet: "light", Weight: 1},
	}
	heavyFirst := 0
	trials := 2000
	for seed := uint32(0); seed < uint32(trials); seed++ {
		winners := SelectWinners(eligible, 1, seed)
		if len(winners) == 1 && winners[0].Wallet == "heavy" {
			heavyFirst++
		}
	}
	// Expect ~90%; anything under 80% indicates a broken cumulative walk.
	if heavyFirst < trials*8/10 {
		t.Errorf("heavy wallet won only %d/%d first picks", heavyFirst, trials)
	}
}
