package scanner

import (
	"math"

	"github.com/rawblock/flywheel-engine/pkg/models"
)

// Buy detection confidence tiers. Only high-confidence spend feeds
// eligibility.
type Confidence int

const (
	ConfidenceHigh Confidence = iota
	ConfidenceMedium
	ConfidenceLow
)

const lamportsPerSol = 1_000_000_000

// mediumMinSol filters out fee-only native deltas in the balance-delta rule.
const mediumMinSol = 0.001

// BuyEvent is one detected native-coin spend that acquired the mint.
type BuyEvent struct {
	Wallet        string
	SolSpent      float64
	TokenReceived float64
	Confidence    Confidence
}

// detectBuys applies the three detection rules in order and returns the
// events of the first rule that produced any.
//
// High: the indexer parsed a swap with native input and token outputs.
// Medium: an account lost native balance and gained the mint in one tx.
// Low: a token transfer on the mint correlated with a native transfer out
// of the recipient.
func detectBuys(tx *models.EnrichedTx, mint string) []BuyEvent {
	if evs := detectSwapBuys(tx, mint); len(evs) > 0 {
		return evs
	}
	if evs := detectBalanceDeltaBuys(tx, mint); len(evs) > 0 {
		return evs
	}
	return detectTransferBuys(tx, mint)
}

func detectSwapBuys(tx *models.EnrichedTx, mint string) []BuyEvent {
	swap := tx.Events.Swap
	if swap == nil || swap.NativeInput == nil || len(swap.TokenOutputs) == 0 {
		return nil
	}
	solSpent := float64(swap.NativeInput.Lamports()) / lamportsPerSol
	if solSpent <= 0 {
		return nil
	}

	var out []BuyEvent
	for _, to := range swap.TokenOutputs {
		if to.Mint != mint || to.UserAccount == "" {
			continue
		}
		raw := to.RawTokenAmount.Raw()
		ui := rawToUi(raw.String(), to.RawTokenAmount.Decimals)
		out = append(out, BuyEvent{
			Wallet:        to.UserAccount,
			SolSpent:      solSpent,
			TokenReceived: ui,
			Confidence:    ConfidenceHigh,
		})
	}
	return out
}

func detectBalanceDeltaBuys(tx *models.EnrichedTx, mint string) []BuyEvent {
	var out []BuyEvent
	for _, ad := range tx.AccountData {
		if ad.NativeBalanceChange >= 0 {
			continue
		}
		solSpent := float64(-ad.NativeBalanceChange) / lamportsPerSol
		if solSpent < mediumMinSol {
			continue
		}
		for _, tbc := range ad.TokenBalanceChanges {
			if tbc.Mint != mint {
				continue
			}
			raw := tbc.RawTokenAmount.Raw()
			if raw.Sign() <= 0 {
				continue
			}
			wallet := tbc.UserAccount
			if wallet == "" {
				wallet = ad.Account
			}
			out = append(out, BuyEvent{
				Wallet:        wallet,
				SolSpent:      solSpent,
				TokenReceived: rawToUi(raw.String(), tbc.RawTokenAmount.Decimals),
				Confidence:    ConfidenceMedium,
			})
			break
		}
	}
	return out
}

func detectTransferBuys(tx *models.EnrichedTx, mint string) []BuyEvent {
	var out []BuyEvent
	for _, tt := range tx.TokenTransfers {
		if tt.Mint != mint || tt.TokenAmount <= 0 || tt.ToUserAccount == "" {
			continue
		}
		for _, nt := range tx.NativeTransfers {
			if nt.FromUserAccount != tt.ToUserAccount || nt.Amount <= 0 {
				continue
			}
			out = append(out, BuyEvent{
				Wallet:        tt.ToUserAccount,
				SolSpent:      float64(nt.Amount) / lamportsPerSol,
				TokenReceived: tt.TokenAmount,
				Confidence:    ConfidenceLow,
			})
			break
		}
	}
	return out
}

func rawToUi(raw string, decimals int) float64 {
	var v float64
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + float64(c-'0')
	}
	return v / math.Pow10(decimals)
}
