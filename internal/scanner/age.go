package scanner

import (
	"context"
	"log"
	"time"
)

const (
	agePageSize    = 1000
	ageMaxPages    = 20
	agePageDelay   = 100 * time.Millisecond
	ageGroupSize   = 5
	ageGroupDelay  = 500 * time.Millisecond
	ageBatchWallet = 50
)

// backfillAges resolves first_seen_ts for wallets that still lack one.
// Lookups run off the critical path in small rate-limited groups; failures
// fail open and retry on the next sighting.
func (s *Scanner) backfillAges(ctx context.Context) error {
	wallets, err := s.store.WalletsMissingAge(ageBatchWallet)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		return nil
	}

	log.Printf("[Scanner] Resolving wallet age for %d wallets", len(wallets))
	for i, wallet := range wallets {
		if i > 0 && i%ageGroupSize == 0 {
			if err := sleep(ctx, ageGroupDelay); err != nil {
				return err
			}
		}
		s.resolveAge(ctx, wallet)
	}
	return nil
}

// resolveAge paginates the wallet's signature history looking for the oldest
// block time, then persists it as first_seen_ts.
func (s *Scanner) resolveAge(ctx context.Context, wallet string) {
	var (
		oldest int64
		found  bool
		before string
	)

	for page := 0; page < ageMaxPages; page++ {
		sigs, err := s.sigs.GetSignaturesForAddress(ctx, wallet, before, agePageSize)
		if err != nil {
			// Fail open: the wallet stays age-less and is retried on the
			// next sighting. Transport trouble here never latches safe mode.
			log.Printf("[Scanner] age lookup for %s: %v", short(wallet), err)
			return
		}
		if len(sigs) == 0 {
			break
		}
		for _, sig := range sigs {
			if sig.BlockTime != nil && (!found || *sig.BlockTime < oldest) {
				oldest = *sig.BlockTime
				found = true
			}
		}
		if len(sigs) < agePageSize {
			break
		}
		before = sigs[len(sigs)-1].Signature
		if err := sleep(ctx, agePageDelay); err != nil {
			return
		}
	}

	if !found {
		return
	}
	if err := s.store.SetFirstSeen(wallet, oldest); err != nil {
		log.Printf("[Scanner] persist age for %s: %v", short(wallet), err)
	}
}
