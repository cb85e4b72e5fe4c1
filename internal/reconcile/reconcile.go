// Package reconcile implements the History Reconciler (C8) of spec.md
// §4.8: the top-level orchestration that drives the Search Engine, the
// Transfer Extractor/Attributor and the Staking Observer against a single
// on-disk History document, phase by phase, saving after every change
// that must survive a crash.
package reconcile

import (
	"math/big"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/control"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/hints"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/ledger"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/search"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/snapshot"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/staking"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/transfer"
)

// SnapshotReader is the narrow view of the Balance Snapshot Reader (C1)
// the Reconciler needs.
type SnapshotReader interface {
	Read(account string, block uint64, filter snapshot.Filter) (*snapshot.Snapshot, error)
}

// SearchEngine is the narrow view of the Search Engine (C3) the
// Reconciler drives.
type SearchEngine interface {
	FindLatestChange(account string, lo, hi uint64, filter snapshot.Filter) (search.ChangeLocation, error)
}

// BlockSource is the narrow view of chain.RPC the Reconciler needs
// directly (beyond what it hands to the Extractor/Attributor).
type BlockSource interface {
	FetchBlock(height uint64) (*chain.Block, error)
	AccountExists(account string, block uint64) (bool, error)
}

// LogFetcher backfills the per-receipt logs a plain block/chunk fetch
// can't carry, once a transaction hash covering those receipts is known.
// Optional: a transport that can't support it (or a test double) simply
// leaves Enrich running against whatever Logs FetchBlock already set.
type LogFetcher interface {
	FetchTransactionLogs(txHash string) (map[string]chain.ReceiptLogs, error)
}

// Reconciler is the History Reconciler, C8.
type Reconciler struct {
	account string
	reader  SnapshotReader
	search  SearchEngine
	blocks  BlockSource

	extractor  *transfer.Extractor
	attributor *transfer.Attributor
	staking    *staking.Observer
	hintSrcs   []hints.Source

	logger *zap.Logger
	stop   *control.Flag
	now    func() time.Time

	// TrackedFilter selects which dimensions newly discovered entries
	// query; it grows to include staking pools as Phase D discovers
	// them.
	TrackedFilter snapshot.Filter

	// Metrics is optional; when set, every insertion, enrichment and
	// synthesised reward is counted against it, and a failed block fetch
	// in Enrich is recorded as an error. Left nil by New so tests that
	// construct a Reconciler directly don't need to care.
	Metrics *Metrics

	// LogFetcher is optional; when set, Enrich uses it to backfill a
	// block's receipt logs from the attributed transaction before running
	// the extractor. Left nil by New for the same reason as Metrics.
	LogFetcher LogFetcher
}

// New constructs a Reconciler. now is injected so a caller can supply a
// fixed clock in tests without this package reaching for time.Now
// directly at arbitrary call sites.
func New(account string, reader SnapshotReader, engine SearchEngine, blocks BlockSource,
	extractor *transfer.Extractor, attributor *transfer.Attributor, observer *staking.Observer,
	hintSrcs []hints.Source, logger *zap.Logger, stop *control.Flag, now func() time.Time, filter snapshot.Filter) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		account: account, reader: reader, search: engine, blocks: blocks,
		extractor: extractor, attributor: attributor, staking: observer,
		hintSrcs: hintSrcs, logger: logger, stop: stop, now: now, TrackedFilter: filter,
	}
}

// LoadOrInit implements Phase A: load the history document, or
// initialise an empty one if it doesn't exist yet.
func LoadOrInit(path, account string, now time.Time) (*ledger.History, error) {
	h, err := ledger.Load(path)
	if err != nil {
		if isNotExist(err) {
			return ledger.New(account, now), nil
		}
		return nil, err
	}
	return h, nil
}

func (r *Reconciler) checkStop() bool { return r.stop != nil && r.stop.Stopped() }

var errCancelled = errors.New("reconcile: cancellation requested")

// GapFill implements Phase B: sort non-synthetic entries by block, run
// the Change Detector between every adjacent pair's balance_after /
// balance_before, and invoke the Search Engine restricted to each
// mismatched asset to find and insert the missing entry, repeating per
// pair until it's connected or the filtered search returns nothing.
// save is called after every successful insertion, per spec.md §4.8's
// crash-safety requirement.
func (r *Reconciler) GapFill(h *ledger.History, save func(*ledger.History) error) error {
	for {
		if r.checkStop() {
			return errCancelled
		}
		sortEntries(h.Transactions)
		inserted, err := r.gapFillOnePass(h)
		if err != nil {
			return err
		}
		if inserted == nil {
			break
		}
		h.Transactions = insertSorted(h.Transactions, *inserted)
		h.Metadata.TotalTransactions = uint64(len(h.Transactions))
		r.recordInsert()
		if save != nil {
			if err := save(h); err != nil {
				return errors.Wrap(err, "reconcile: saving after gap-fill insertion")
			}
		}
	}
	refreshVerifications(h)
	return nil
}

func (r *Reconciler) recordInsert() {
	if r.Metrics != nil {
		r.Metrics.recordInsert(r.now())
	}
}

func (r *Reconciler) recordEnrich() {
	if r.Metrics != nil {
		r.Metrics.recordEnrich(r.now())
	}
}

func (r *Reconciler) recordReward() {
	if r.Metrics != nil {
		r.Metrics.recordReward(r.now())
	}
}

func (r *Reconciler) recordError(err error) {
	if r.Metrics != nil {
		r.Metrics.recordError(err)
	}
}

// gapFillOnePass scans adjacent non-synthetic pairs and returns the
// first newly-found entry, or nil once every pair is connected or
// exhausted.
func (r *Reconciler) gapFillOnePass(h *ledger.History) (*ledger.TransactionEntry, error) {
	nonSynthetic := nonSyntheticIndices(h.Transactions)
	for i := 0; i+1 < len(nonSynthetic); i++ {
		prev := &h.Transactions[nonSynthetic[i]]
		curr := &h.Transactions[nonSynthetic[i+1]]
		if curr.Block <= prev.Block+1 {
			continue
		}

		prevAfter := toDomainSnapshot(prev.BalanceAfter, r.account)
		currBefore := toDomainSnapshot(curr.BalanceBefore, r.account)
		change := snapshot.Diff(prevAfter, currBefore)
		if !change.HasChanges {
			continue
		}

		filter := filterFromChange(change)
		if r.checkStop() {
			return nil, errCancelled
		}
		loc, err := r.search.FindLatestChange(r.account, prev.Block, curr.Block-1, filter)
		if err != nil {
			return nil, errors.Wrapf(err, "reconcile: gap-fill search between blocks %d and %d", prev.Block, curr.Block)
		}
		if !loc.HasChanges {
			continue // filtered search came back empty: this gap is left unresolved
		}

		entry := r.entryFromLocation(loc)
		return &entry, nil
	}
	return nil, nil
}

func (r *Reconciler) entryFromLocation(loc search.ChangeLocation) ledger.TransactionEntry {
	return r.entryFromSnapshotsAtBlock(loc.Block, loc.Start, loc.End, loc.Change)
}

func (r *Reconciler) entryFromSnapshots(start, end *snapshot.Snapshot, change snapshot.Change) ledger.TransactionEntry {
	return r.entryFromSnapshotsAtBlock(end.Block, start, end, change)
}

func (r *Reconciler) entryFromSnapshotsAtBlock(block uint64, start, end *snapshot.Snapshot, change snapshot.Change) ledger.TransactionEntry {
	before := ledger.SnapshotFromDomain(start)
	after := ledger.SnapshotFromDomain(end)
	ledger.NormalizeWire(&before, &after)
	return ledger.TransactionEntry{
		Block:         block,
		BalanceBefore: before,
		BalanceAfter:  after,
		Changes:       ledger.ChangesFromDomain(change),
	}
}

// Enrich implements Phase C: for every entry whose transfers are
// undefined but changes.has_changes, or whose changed token/intents
// assets lack a matching transfer, run the Attributor and Extractor
// against the entry's block and record the result (even an empty one,
// per the sentinel convention documented on ledger.TransactionEntry).
func (r *Reconciler) Enrich(h *ledger.History, save func(*ledger.History) error) error {
	for i := range h.Transactions {
		if r.checkStop() {
			return errCancelled
		}
		entry := &h.Transactions[i]
		if !entry.Changes.HasChanges() {
			continue
		}
		if entry.EnrichmentAttempted() && !needsReenrichment(entry) {
			continue
		}

		block, err := r.blocks.FetchBlock(entry.Block)
		if err != nil {
			r.recordError(err)
			return errors.Wrapf(err, "reconcile: fetching block %d for enrichment", entry.Block)
		}

		attribution := r.attributor.Attribute(block, r.account)
		entry.TransactionHashes = attribution.TransactionHashes
		entry.TransactionBlock = attribution.TransactionBlock
		if block.Timestamp != nil {
			entry.Timestamp = block.Timestamp
		}

		r.backfillLogs(block, attribution.TransactionHashes)

		details := r.extractor.ExtractTransfers(block, r.account)
		entry.SetTransfers(ledger.TransfersFromDomain(details))
		r.recordEnrich()

		if save != nil {
			if err := save(h); err != nil {
				return errors.Wrapf(err, "reconcile: saving after enriching block %d", entry.Block)
			}
		}
	}
	return nil
}

// backfillLogs overlays per-receipt logs and tokens_burnt pulled from
// each attributed transaction onto block's outcomes, matched by receipt
// id, so the extractor's log-based FT/MT/plain-text/staking-method
// parsing (C5) has something to parse even when block came from a plain
// block/chunk fetch. A no-op when LogFetcher is unset or a lookup fails;
// extraction then simply falls back to whatever Logs FetchBlock set.
func (r *Reconciler) backfillLogs(block *chain.Block, txHashes []string) {
	if r.LogFetcher == nil || len(txHashes) == 0 {
		return
	}
	byReceipt := map[string]chain.ReceiptLogs{}
	for _, hash := range txHashes {
		logs, err := r.LogFetcher.FetchTransactionLogs(hash)
		if err != nil {
			if r.logger != nil {
				r.logger.Debug("reconcile: fetching transaction logs failed, continuing without them",
					zap.String("tx_hash", hash), zap.Error(err))
			}
			continue
		}
		for receiptID, rl := range logs {
			byReceipt[receiptID] = rl
		}
	}
	if len(byReceipt) == 0 {
		return
	}
	for si := range block.Shards {
		for oi := range block.Shards[si].Outcomes {
			outcome := &block.Shards[si].Outcomes[oi]
			if rl, ok := byReceipt[outcome.ReceiptID]; ok {
				outcome.Logs = rl.Logs
				outcome.TokensBurnt = rl.TokensBurnt
			}
		}
	}
}

// needsReenrichment reports whether a changed FT/intents asset has no
// corresponding transfer entry, spec.md §4.8's "parser coverage
// improved between runs" trigger.
func needsReenrichment(entry *ledger.TransactionEntry) bool {
	if entry.Transfers == nil {
		return true
	}
	have := map[string]bool{}
	for _, t := range *entry.Transfers {
		have[t.TokenID] = true
	}
	for id := range entry.Changes.TokensChanged {
		if !have[id] {
			return true
		}
	}
	for id := range entry.Changes.IntentsChanged {
		if !have[id] {
			return true
		}
	}
	return false
}

// StakingPass implements Phase D: discover pools, compute each pool's
// active range, synthesise reward entries at epoch boundaries, and
// enrich every entry that already touches a known pool.
func (r *Reconciler) StakingPass(h *ledger.History, save func(*ledger.History) error) error {
	if r.staking == nil {
		return nil
	}
	pools := staking.DiscoverPools(h.Transactions)
	h.StakingPools = mergePools(h.StakingPools, pools)
	r.TrackedFilter.StakingPools = mergePools(r.TrackedFilter.StakingPools, pools)

	for _, pool := range pools {
		if r.checkStop() {
			return errCancelled
		}
		first, last, found, err := r.staking.ActiveRange(r.account, pool, h.Transactions)
		if err != nil {
			return errors.Wrapf(err, "reconcile: computing active range for pool %s", pool)
		}
		if !found {
			continue
		}

		known := knownStakingDiffs(h.Transactions, pool)
		rewards, err := r.staking.EnumerateRewards(r.account, pool, first, last, known)
		if err != nil {
			return errors.Wrapf(err, "reconcile: enumerating rewards for pool %s", pool)
		}
		for _, reward := range rewards {
			entry := stakingRewardEntry(pool, reward)
			h.Transactions = insertSorted(h.Transactions, entry)
			h.Metadata.TotalTransactions = uint64(len(h.Transactions))
			r.recordReward()
			if save != nil {
				if err := save(h); err != nil {
					return errors.Wrap(err, "reconcile: saving after staking reward insertion")
				}
			}
		}
	}

	for i := range h.Transactions {
		if r.checkStop() {
			return errCancelled
		}
		if err := r.staking.Enrich(r.account, &h.Transactions[i]); err != nil {
			return errors.Wrapf(err, "reconcile: staking enrichment at block %d", h.Transactions[i].Block)
		}
	}
	if save != nil {
		return save(h)
	}
	return nil
}

func stakingRewardEntry(pool string, reward staking.Reward) ledger.TransactionEntry {
	entry := ledger.TransactionEntry{Block: reward.Block, TransactionHashes: []string{}}
	dir := transfer.DirIn
	if bignum.Sign(reward.Diff) < 0 {
		dir = transfer.DirOut
	}
	entry.SetTransfers([]ledger.TransferDetail{{
		Type: string(transfer.TypeStakingReward), Direction: string(dir),
		Amount: ledger.NewBigInt(bignum.Abs(reward.Diff)), Counterparty: pool, Memo: "staking_reward",
	}})
	entry.Changes.StakingChanged = map[string]ledger.AssetDelta{
		pool: {Start: ledger.NewBigInt(reward.Start), End: ledger.NewBigInt(reward.End), Diff: ledger.NewBigInt(reward.Diff)},
	}
	return entry
}

func knownStakingDiffs(entries []ledger.TransactionEntry, pool string) map[uint64]*big.Int {
	out := map[uint64]*big.Int{}
	for _, e := range entries {
		if d, ok := e.Changes.StakingChanged[pool]; ok {
			out[e.Block] = ledger.AsBigIntOrZero(&d.Diff)
		}
	}
	return out
}

func mergePools(existing, added []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range existing {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range added {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func toDomainSnapshot(w ledger.Snapshot, account string) *snapshot.Snapshot {
	s := snapshot.New(account, 0)
	if w.Native != nil {
		s.Native = new(big.Int).Set(ledger.AsBigIntOrZero(w.Native))
	}
	for k, v := range w.FungibleTokens {
		v := v
		s.FungibleTokens[k] = new(big.Int).Set(ledger.AsBigIntOrZero(&v))
	}
	for k, v := range w.IntentsTokens {
		v := v
		s.IntentsTokens[k] = new(big.Int).Set(ledger.AsBigIntOrZero(&v))
	}
	for k, v := range w.StakingPools {
		v := v
		s.StakingPools[k] = new(big.Int).Set(ledger.AsBigIntOrZero(&v))
	}
	return s
}

func filterFromChange(c snapshot.Change) snapshot.Filter {
	f := snapshot.Filter{Native: c.NativeChanged}
	for id := range c.TokensChanged {
		f.FungibleTokens = append(f.FungibleTokens, id)
	}
	for id := range c.IntentsChanged {
		f.IntentsTokens = append(f.IntentsTokens, id)
	}
	for id := range c.StakingChanged {
		f.StakingPools = append(f.StakingPools, id)
	}
	sort.Strings(f.FungibleTokens)
	sort.Strings(f.IntentsTokens)
	sort.Strings(f.StakingPools)
	return f
}

func nonSyntheticIndices(entries []ledger.TransactionEntry) []int {
	var out []int
	for i, e := range entries {
		if isSynthetic(e) {
			continue
		}
		out = append(out, i)
	}
	return out
}

// isSynthetic reports whether e was produced by the Staking Observer
// rather than discovered from a real transaction, spec.md §4.8 Phase B
// "non-synthetic entries".
func isSynthetic(e ledger.TransactionEntry) bool {
	if len(e.TransactionHashes) != 0 || e.Transfers == nil {
		return false
	}
	t := *e.Transfers
	return len(t) == 1 && t[0].Type == string(transfer.TypeStakingReward)
}

func sortEntries(entries []ledger.TransactionEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Block < entries[j].Block })
}

func insertSorted(entries []ledger.TransactionEntry, e ledger.TransactionEntry) []ledger.TransactionEntry {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Block >= e.Block })
	if idx < len(entries) && entries[idx].Block == e.Block {
		entries[idx] = e
		return entries
	}
	entries = append(entries, ledger.TransactionEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = e
	return entries
}

// refreshVerifications recomputes verification_with_next/previous for
// every adjacent pair, per spec.md §4.8 Phase B's final step.
func refreshVerifications(h *ledger.History) {
	sortEntries(h.Transactions)
	for i := range h.Transactions {
		h.Transactions[i].VerificationWithNext = nil
		h.Transactions[i].VerificationWithPrevious = nil
	}
	for i := 0; i+1 < len(h.Transactions); i++ {
		prev := &h.Transactions[i]
		curr := &h.Transactions[i+1]
		prevAfter := toDomainSnapshot(prev.BalanceAfter, "")
		currBefore := toDomainSnapshot(curr.BalanceBefore, "")
		change := snapshot.Diff(prevAfter, currBefore)
		v := &ledger.Verification{Valid: !change.HasChanges}
		if change.HasChanges {
			v.MismatchedAssets = mismatchedAssetIDs(change)
		}
		prev.VerificationWithNext = v
		curr.VerificationWithPrevious = v
	}
}

func mismatchedAssetIDs(c snapshot.Change) []string {
	var out []string
	if c.NativeChanged {
		out = append(out, "near")
	}
	for id := range c.TokensChanged {
		out = append(out, id)
	}
	for id := range c.IntentsChanged {
		out = append(out, id)
	}
	for id := range c.StakingChanged {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func isNotExist(err error) bool { return os.IsNotExist(err) }

// UpdateSummary recomputes h.Metadata's block-range fields from the
// current transaction list. Called after every phase that can change
// the set of entries, so a crash between phases still leaves a
// self-consistent summary on disk.
func UpdateSummary(h *ledger.History) {
	h.Metadata.TotalTransactions = uint64(len(h.Transactions))
	if len(h.Transactions) == 0 {
		h.Metadata.FirstBlock = nil
		h.Metadata.LastBlock = nil
		return
	}
	sortEntries(h.Transactions)
	first := h.Transactions[0].Block
	last := h.Transactions[len(h.Transactions)-1].Block
	h.Metadata.FirstBlock = &first
	h.Metadata.LastBlock = &last
}
