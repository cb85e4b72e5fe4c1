// Package staking implements the Staking Observer (C7) of spec.md §4.7:
// pool discovery from transfer history, active-range computation per pool,
// epoch-boundary reward enumeration, and balance_before/balance_after
// enrichment of history entries that already touch a pool.
package staking

import (
	"math/big"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/control"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/ledger"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/transfer"
)

// EpochLength is the network constant spec.md §4.7 describes as
// "conceptually 43,200" blocks per epoch.
const EpochLength = 43200

// PostWithdrawalOffset is how many blocks after a withdrawal this package
// waits before treating a zero pool balance as confirmation the account
// fully unstaked, per spec.md §4.7's "small offset" language.
const PostWithdrawalOffset = 1

// EnrichmentBlockOffset is the delay between an entry's block (where a
// staking-touching transaction is deducted) and when the pool contract's
// own receipt has executed, spec.md §4.7.
const EnrichmentBlockOffset = 1

// RPC is the narrow staking-balance view this package depends on.
type RPC interface {
	ViewStakedBalance(account, pool string, block uint64) (*big.Int, error)
}

// Observer is the C7 Staking Observer.
type Observer struct {
	rpc         RPC
	logger      *zap.Logger
	stop        *control.Flag
	epochLength uint64
}

// New constructs an Observer. epochLength is the network's blocks-per-epoch
// constant the caller resolved from configuration (spec.md §4.7); 0 falls
// back to EpochLength, the mainnet default.
func New(rpc RPC, logger *zap.Logger, stop *control.Flag, epochLength uint64) *Observer {
	if epochLength == 0 {
		epochLength = EpochLength
	}
	return &Observer{rpc: rpc, logger: logger, stop: stop, epochLength: epochLength}
}

// DiscoverPools scans entries' transfers for staking-pool counterparties
// or memo-recognised staking method calls, per spec.md §4.7 "Pool
// discovery". The returned set is ordered for deterministic persistence.
func DiscoverPools(entries []ledger.TransactionEntry) []string {
	seen := map[string]bool{}
	var pools []string
	add := func(pool string) {
		if pool == "" || seen[pool] {
			return
		}
		seen[pool] = true
		pools = append(pools, pool)
	}
	for _, e := range entries {
		if e.Transfers == nil {
			continue
		}
		for _, t := range *e.Transfers {
			if transfer.LooksLikePool(t.Counterparty) {
				add(t.Counterparty)
				continue
			}
			if transfer.IsStakingMethod(t.Memo) {
				add(t.Counterparty)
			}
		}
	}
	return pools
}

// ActiveRange computes a pool's [first_deposit_block, last_active_block]
// from the account's entries, per spec.md §4.7 "Active range per pool".
// found is false when no entry touches pool at all.
func (o *Observer) ActiveRange(account, pool string, entries []ledger.TransactionEntry) (firstBlock, lastBlock uint64, found bool, err error) {
	var lastWithdrawalBlock uint64
	sawWithdrawal := false

	for _, e := range entries {
		if e.Transfers == nil {
			continue
		}
		touches := false
		isWithdrawal := false
		for _, t := range *e.Transfers {
			if t.Counterparty != pool {
				continue
			}
			touches = true
			if transfer.IsStakingMethod(t.Memo) && (t.Memo == transfer.MethodWithdraw || t.Memo == transfer.MethodWithdrawAll) {
				isWithdrawal = true
			}
		}
		if !touches {
			continue
		}
		if !found || e.Block < firstBlock {
			firstBlock = e.Block
		}
		if e.Block > lastBlock {
			lastBlock = e.Block
		}
		found = true
		if isWithdrawal && e.Block >= lastWithdrawalBlock {
			lastWithdrawalBlock = e.Block
			sawWithdrawal = true
		}
	}
	if !found {
		return 0, 0, false, nil
	}

	if sawWithdrawal && lastWithdrawalBlock == lastBlock {
		if o.stop != nil && o.stop.Stopped() {
			return 0, 0, false, errors.New("staking: active range check aborted, cancellation requested")
		}
		balance, err := o.rpc.ViewStakedBalance(account, pool, lastWithdrawalBlock+PostWithdrawalOffset)
		if err != nil {
			return 0, 0, false, errors.Wrapf(err, "staking: checking post-withdrawal balance for %s at %s", account, pool)
		}
		if bignum.IsZero(balance) {
			// Fully unstaked: last_active_block stays at the withdrawal block.
			return firstBlock, lastBlock, true, nil
		}
	}
	// Still staking: the range runs to the latest block in the history.
	latestBlock := lastBlock
	for _, e := range entries {
		if e.Block > latestBlock {
			latestBlock = e.Block
		}
	}
	return firstBlock, latestBlock, true, nil
}

// Reward is one synthesised staking_reward event, spec.md §4.7 "Reward
// enumeration".
type Reward struct {
	Pool  string
	Block uint64
	Start *big.Int
	End   *big.Int
	Diff  *big.Int // signed: end - start
}

// EnumerateRewards steps epoch boundaries across [firstBlock, lastBlock]
// and synthesises a Reward wherever the pool balance changed between
// consecutive boundaries without a matching known deposit/withdrawal
// already recorded at that exact block, per spec.md §4.7.
//
// knownDiffs maps a block height to the staking diff already recorded in
// history for pool at that block (from changes.stakingChanged[pool]); a
// boundary whose observed diff exactly matches an already-recorded diff
// at that block is treated as already explained and skipped.
func (o *Observer) EnumerateRewards(account, pool string, firstBlock, lastBlock uint64, knownDiffs map[uint64]*big.Int) ([]Reward, error) {
	if lastBlock <= firstBlock {
		return nil, nil
	}

	var rewards []Reward
	prevBlock := firstBlock
	prevBalance, err := o.queryBoundary(account, pool, prevBlock)
	if err != nil {
		return nil, err
	}

	for boundary := firstBlock + o.epochLength; boundary <= lastBlock; boundary += o.epochLength {
		balance, err := o.queryBoundary(account, pool, boundary)
		if err != nil {
			return nil, err
		}
		diff := bignum.Sub(balance, prevBalance)
		if !bignum.IsZero(diff) {
			if known, ok := knownDiffs[boundary]; !ok || !bignum.Equal(known, diff) {
				rewards = append(rewards, Reward{Pool: pool, Block: boundary, Start: prevBalance, End: balance, Diff: diff})
			}
		}
		prevBlock = boundary
		prevBalance = balance
	}
	_ = prevBlock
	return rewards, nil
}

func (o *Observer) queryBoundary(account, pool string, block uint64) (*big.Int, error) {
	if o.stop != nil && o.stop.Stopped() {
		return nil, errors.New("staking: reward enumeration aborted, cancellation requested")
	}
	balance, err := o.rpc.ViewStakedBalance(account, pool, block)
	if err != nil {
		return nil, errors.Wrapf(err, "staking: querying %s at pool %s, block %d", account, pool, block)
	}
	return balance, nil
}

// Enrich populates balance_before/balance_after staking_pools entries for
// every pool any of e's transfers touch, querying at block and block+1
// respectively per spec.md §4.7's receipt-execution-delay rule.
func (o *Observer) Enrich(account string, e *ledger.TransactionEntry) error {
	if e.Transfers == nil {
		return nil
	}
	pools := map[string]bool{}
	for _, t := range *e.Transfers {
		if transfer.LooksLikePool(t.Counterparty) {
			pools[t.Counterparty] = true
		}
	}
	if len(pools) == 0 {
		return nil
	}
	if e.BalanceBefore.StakingPools == nil {
		e.BalanceBefore.StakingPools = map[string]ledger.BigInt{}
	}
	if e.BalanceAfter.StakingPools == nil {
		e.BalanceAfter.StakingPools = map[string]ledger.BigInt{}
	}
	for pool := range pools {
		if o.stop != nil && o.stop.Stopped() {
			return errors.New("staking: enrichment aborted, cancellation requested")
		}
		before, err := o.rpc.ViewStakedBalance(account, pool, e.Block)
		if err != nil {
			return errors.Wrapf(err, "staking: enriching before-balance for %s at block %d", pool, e.Block)
		}
		after, err := o.rpc.ViewStakedBalance(account, pool, e.Block+EnrichmentBlockOffset)
		if err != nil {
			return errors.Wrapf(err, "staking: enriching after-balance for %s at block %d", pool, e.Block+EnrichmentBlockOffset)
		}
		e.BalanceBefore.StakingPools[pool] = ledger.NewBigInt(before)
		e.BalanceAfter.StakingPools[pool] = ledger.NewBigInt(after)
	}
	return nil
}
