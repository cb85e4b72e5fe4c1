package reconcile

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/ledger"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/snapshot"
)

// InitialDiscoveryWindow and MaxDiscoveryWindowMultiplier implement
// spec.md §4.8 Phase E's expanding-window bisection fallback: "initial
// window 1,000,000 blocks... double the window size up to a 32x cap,
// then slide adjacent".
const (
	InitialDiscoveryWindow       = 1_000_000
	MaxDiscoveryWindowMultiplier = 32
)

// Discover implements Phase E: only runs if the caller requests more
// entries than the history currently has. It first validates any
// candidate blocks from configured hint sources, falling back to
// expanding-window bisection from the earliest known entry (or the
// current chain tip if the history is empty) down toward genesis.
func (r *Reconciler) Discover(h *ledger.History, targetCount int, tip uint64, save func(*ledger.History) error) error {
	if len(h.Transactions) >= targetCount {
		return nil
	}

	if err := r.discoverFromHints(h, targetCount, save); err != nil {
		return err
	}
	if len(h.Transactions) >= targetCount {
		return nil
	}
	return r.discoverByExpandingWindow(h, targetCount, tip, save)
}

func (r *Reconciler) discoverFromHints(h *ledger.History, targetCount int, save func(*ledger.History) error) error {
	for _, src := range r.hintSrcs {
		if r.checkStop() {
			return errCancelled
		}
		if !src.Available() {
			continue
		}
		lo, hi := discoveryBounds(h)
		candidates, err := src.CandidateBlocks(context.Background(), r.account, lo, hi)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("reconcile: hint source query failed, ignoring", zap.Error(err))
			}
			continue
		}
		for _, c := range candidates {
			if len(h.Transactions) >= targetCount || r.checkStop() {
				break
			}
			if entryExistsAt(h, c.Block) {
				continue
			}
			snap, err := r.reader.Read(r.account, c.Block, r.TrackedFilter)
			if err != nil {
				continue // unvalidatable candidate: skip, don't fail the whole pass
			}
			prevSnap, err := r.reader.Read(r.account, c.Block-1, r.TrackedFilter)
			if err != nil {
				continue
			}
			change := snapshot.Diff(prevSnap, snap)
			if !change.HasChanges {
				continue
			}
			entry := r.entryFromSnapshots(prevSnap, snap, change)
			h.Transactions = insertSorted(h.Transactions, entry)
			h.Metadata.TotalTransactions = uint64(len(h.Transactions))
			r.recordInsert()
			if save != nil {
				if err := save(h); err != nil {
					return errors.Wrap(err, "reconcile: saving after hint-validated insertion")
				}
			}
		}
	}
	return nil
}

// discoverByExpandingWindow walks backward from the earliest known
// entry (or tip, if the history is empty), doubling the search window
// on an empty result and resetting it to InitialDiscoveryWindow the
// moment a change is found, per spec.md §4.8 Phase E.
func (r *Reconciler) discoverByExpandingWindow(h *ledger.History, targetCount int, tip uint64, save func(*ledger.History) error) error {
	hi := tip
	if len(h.Transactions) > 0 {
		hi = h.Transactions[0].Block - 1
	}
	window := uint64(InitialDiscoveryWindow)

	for len(h.Transactions) < targetCount {
		if r.checkStop() {
			return errCancelled
		}
		if hi == 0 {
			return nil // exhausted range down to genesis
		}
		lo := uint64(0)
		if hi > window {
			lo = hi - window
		}

		exists, err := r.blocks.AccountExists(r.account, lo)
		if err != nil {
			return errors.Wrapf(err, "reconcile: checking account existence at block %d", lo)
		}
		if !exists {
			h.Metadata.HistoryComplete = boolPtr(true)
			return nil
		}

		loc, err := r.search.FindLatestChange(r.account, lo, hi, r.TrackedFilter)
		if err != nil {
			var missing *chain.MissingBlockError
			if errors.As(err, &missing) {
				hi = lo
				continue
			}
			return errors.Wrapf(err, "reconcile: discovery search over [%d, %d]", lo, hi)
		}
		if !loc.HasChanges {
			if window/InitialDiscoveryWindow >= MaxDiscoveryWindowMultiplier {
				hi = lo // slide the window rather than growing further
			} else {
				window *= 2
			}
			if lo == 0 {
				return nil
			}
			continue
		}

		entry := r.entryFromLocation(loc)
		h.Transactions = insertSorted(h.Transactions, entry)
		h.Metadata.TotalTransactions = uint64(len(h.Transactions))
		r.recordInsert()
		window = InitialDiscoveryWindow
		hi = loc.Block - 1
		if save != nil {
			if err := save(h); err != nil {
				return errors.Wrap(err, "reconcile: saving after discovery insertion")
			}
		}
	}
	return nil
}

func discoveryBounds(h *ledger.History) (lo, hi uint64) {
	if len(h.Transactions) == 0 {
		return 0, 0
	}
	return h.Transactions[0].Block, h.Transactions[len(h.Transactions)-1].Block
}

func entryExistsAt(h *ledger.History, block uint64) bool {
	for _, e := range h.Transactions {
		if e.Block == block {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
