package snapshot

import (
	"fmt"
	"math/big"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/control"
)

// RPC is the narrow view of chain.RPC the reader needs — every method
// it calls during a read, nothing about block fetching.
type RPC interface {
	ViewNativeBalance(account string, block uint64) (*big.Int, error)
	ViewFTBalance(account, contract string, block uint64) (*big.Int, error)
	ViewIntentsBalances(account string, assetIDs []string, block uint64) (map[string]*big.Int, error)
	DiscoverIntentsPositions(account string, block uint64) (map[string]*big.Int, error)
	ViewStakedBalance(account, pool string, block uint64) (*big.Int, error)
	AccountExists(account string, block uint64) (bool, error)
}

// Reader is the Balance Snapshot Reader (C1). It memoises every native,
// fungible-token and staking-pool (account, block, asset-key) result it
// successfully reads for the process lifetime, cleared on explicit Reset
// or when the bound is hit (spec.md §5's "flushed every k entries").
// Intents balances, enumerated or explicit, are not memoised: every Read
// queries them again.
type Reader struct {
	rpc    RPC
	logger *zap.Logger
	stop   *control.Flag

	mu        sync.Mutex
	cache     *lru.Cache // cacheKey -> *big.Int
	group     singleflight.Group
	entries   int
	flushSize int
}

// NewReader constructs a Reader. The LRU backing the cache is sized
// generously so ordinary eviction almost never triggers; the explicit
// Purge every flushSize successful reads (flushSize <= 0 defaults to
// spec.md §5's suggested k≈10) is what actually bounds memory, per §5's
// "the snapshot cache is explicitly flushed every k entries".
func NewReader(rpc RPC, logger *zap.Logger, stop *control.Flag, flushSize int) *Reader {
	if flushSize <= 0 {
		flushSize = 10
	}
	cache, _ := lru.New(100_000)
	return &Reader{rpc: rpc, logger: logger, stop: stop, cache: cache, flushSize: flushSize}
}

// Reset clears the memoisation cache immediately, per spec.md §4.1
// "cleared on explicit request".
func (r *Reader) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
	r.entries = 0
}

type cacheKey struct {
	account string
	block   uint64
	asset   string
}

// Read performs a point-in-time balance query restricted to filter,
// spec.md §4.1. Returns *chain.MissingBlockError or *chain.AccountAbsentError
// unwrapped-comparable via errors.As; those never get cached.
func (r *Reader) Read(account string, block uint64, filter Filter) (*Snapshot, error) {
	if r.stop != nil && r.stop.Stopped() {
		return nil, errors.New("snapshot: read aborted, cancellation requested")
	}

	snap := New(account, block)

	if filter.Native {
		n, err := r.cached(account, block, "near", func() (*big.Int, error) {
			return r.rpc.ViewNativeBalance(account, block)
		})
		if err != nil {
			return nil, err
		}
		snap.Native = n
	}

	for _, contract := range filter.FungibleTokens {
		n, err := r.cached(account, block, contract, func() (*big.Int, error) {
			return r.rpc.ViewFTBalance(account, contract, block)
		})
		if err != nil {
			return nil, err
		}
		snap.FungibleTokens[contract] = n
	}

	if filter.DiscoverIntents {
		positions, err := r.rpc.DiscoverIntentsPositions(account, block)
		if err != nil {
			return nil, classify(err, account, block)
		}
		for k, v := range positions {
			snap.IntentsTokens[k] = v
		}
	} else if len(filter.IntentsTokens) > 0 {
		values, err := r.rpc.ViewIntentsBalances(account, filter.IntentsTokens, block)
		if err != nil {
			return nil, classify(err, account, block)
		}
		for _, k := range filter.IntentsTokens {
			v, ok := values[k]
			if !ok {
				v = new(big.Int)
			}
			snap.IntentsTokens[k] = v
		}
	}

	for _, pool := range filter.StakingPools {
		n, err := r.cached(account, block, pool, func() (*big.Int, error) {
			return r.rpc.ViewStakedBalance(account, pool, block)
		})
		if err != nil {
			return nil, err
		}
		snap.StakingPools[pool] = n
	}

	return snap, nil
}

func (r *Reader) cached(account string, block uint64, asset string, query func() (*big.Int, error)) (*big.Int, error) {
	key := cacheKey{account, block, asset}
	sfKey := fmt.Sprintf("%s|%d|%s", account, block, asset)

	r.mu.Lock()
	if v, ok := r.cache.Get(key); ok {
		r.mu.Unlock()
		return new(big.Int).Set(v.(*big.Int)), nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(sfKey, func() (interface{}, error) {
		n, err := query()
		if err != nil {
			return nil, classify(err, account, block)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	n := v.(*big.Int)

	r.mu.Lock()
	r.cache.Add(key, n)
	r.entries++
	if r.entries >= r.flushSize {
		// Explicit periodic flush, spec.md §5: every flushSize successful
		// reads, drop every memoised entry rather than let the cache grow
		// unboundedly across an entire run. Subsequent reads for the same
		// (account, block, asset) simply re-query and re-cache.
		if r.logger != nil {
			r.logger.Debug("snapshot cache flush", zap.Int("entries_since_last_flush", r.entries))
		}
		r.cache.Purge()
		r.entries = 0
	}
	r.mu.Unlock()

	return new(big.Int).Set(n), nil
}

// classify wraps transport errors, leaving chain.MissingBlockError and
// chain.AccountAbsentError untouched so callers can type-assert through
// them (pkg/errors preserves Unwrap/Cause the same way the teacher's
// support/errors does).
func classify(err error, account string, block uint64) error {
	var missing *chain.MissingBlockError
	var absent *chain.AccountAbsentError
	if errors.As(err, &missing) || errors.As(err, &absent) {
		return err
	}
	return errors.Wrapf(err, "snapshot: read %s at block %d", account, block)
}
