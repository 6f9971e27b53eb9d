// Package scanner drives the holder registry: it turns enriched ledger
// transactions into holder discoveries and buy detections, writing through
// to the store and advancing the scan cursor.
package scanner

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/rawblock/flywheel-engine/internal/db"
	"github.com/rawblock/flywheel-engine/internal/solana"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

const (
	pageSize       = 100
	interPageDelay = 200 * time.Millisecond
)

// TxSource fetches enriched transactions, newest first.
type TxSource interface {
	FetchEnrichedTransactions(ctx context.Context, address string, limit int, before string) ([]models.EnrichedTx, error)
}

// SignatureSource lists raw signatures for an address, newest first.
type SignatureSource interface {
	GetSignaturesForAddress(ctx context.Context, address, before string, limit int) ([]solana.SignatureInfo, error)
}

type Scanner struct {
	txs   TxSource
	sigs  SignatureSource
	store *db.Store
	mint  string
}

func New(txs TxSource, sigs SignatureSource, store *db.Store, mint string) *Scanner {
	return &Scanner{txs: txs, sigs: sigs, store: store, mint: mint}
}

// Bootstrap replays the ledger from the head down to limit transactions,
// ignoring any stored cursor, then leaves the cursor at the head.
func (s *Scanner) Bootstrap(ctx context.Context, limit int) error {
	return s.scan(ctx, limit, false)
}

// Incremental processes transactions newer than the stored cursor.
func (s *Scanner) Incremental(ctx context.Context, limit int) error {
	return s.scan(ctx, limit, true)
}

func (s *Scanner) scan(ctx context.Context, limit int, useCursor bool) error {
	var cursorSig string
	if useCursor {
		sig, _, err := s.store.ScanCursor()
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
		cursorSig = sig
	}

	var (
		newCursorSig string
		newCursorTs  int64
		before       string
		processed    int
		newBuys      int
	)

scanLoop:
	for processed < limit {
		want := limit - processed
		if want > pageSize {
			want = pageSize
		}
		batch, err := s.txs.FetchEnrichedTransactions(ctx, s.mint, want, before)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		for _, tx := range batch {
			// The first transaction of the run is the newest; it becomes
			// the cursor once the batch completes.
			if newCursorSig == "" {
				newCursorSig = tx.Signature
				newCursorTs = tx.Timestamp
			}
			if useCursor && tx.Signature == cursorSig {
				break scanLoop
			}
			newBuys += s.processTx(&tx)
			processed++
		}

		if len(batch) < want {
			break
		}
		before = batch[len(batch)-1].Signature
		if err := sleep(ctx, interPageDelay); err != nil {
			return err
		}
	}

	if newCursorSig != "" {
		if err := s.store.SetScanCursor(newCursorSig, newCursorTs); err != nil {
			return err
		}
	}

	log.Printf("[Scanner] Processed %d txs (%d buy events), cursor %s", processed, newBuys, short(newCursorSig))

	return s.backfillAges(ctx)
}

// processTx applies holder discovery and buy detection for one transaction.
// Parsing problems are swallowed so a single malformed tx never stalls the
// cursor. Returns the number of buy events recorded.
func (s *Scanner) processTx(tx *models.EnrichedTx) int {
	for _, wallet := range s.discoverHolders(tx) {
		if err := s.store.EnsureHolder(wallet, tx.Timestamp); err != nil {
			log.Printf("[Scanner] ensure holder %s: %v", short(wallet), err)
		}
	}

	events := detectBuys(tx, s.mint)
	for _, ev := range events {
		if err := s.store.EnsureHolder(ev.Wallet, tx.Timestamp); err != nil {
			log.Printf("[Scanner] ensure buyer %s: %v", short(ev.Wallet), err)
			continue
		}
		if err := s.store.AddBuy(ev.Wallet, ev.SolSpent, ev.Confidence == ConfidenceHigh, tx.Timestamp); err != nil {
			log.Printf("[Scanner] record buy for %s: %v", short(ev.Wallet), err)
		}
	}
	return len(events)
}

// discoverHolders unions wallets touched by token transfers on the mint and
// accounts whose token balance changed for the mint.
func (s *Scanner) discoverHolders(tx *models.EnrichedTx) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(w string) {
		if w != "" && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}

	for _, tt := range tx.TokenTransfers {
		if tt.Mint != s.mint {
			continue
		}
		add(tt.FromUserAccount)
		add(tt.ToUserAccount)
	}
	for _, ad := range tx.AccountData {
		for _, tbc := range ad.TokenBalanceChanges {
			if tbc.Mint == s.mint {
				add(ad.Account)
				break
			}
		}
	}
	return out
}

func short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "…"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
