package ledger

import "time"

// Snapshot is the wire form of spec.md §3's Balance Snapshot, one
// top-level field per dimension, keys as canonical asset-id strings.
type Snapshot struct {
	Native         *BigInt           `json:"native,omitempty"`
	FungibleTokens map[string]BigInt `json:"fungibleTokens,omitempty"`
	IntentsTokens  map[string]BigInt `json:"intentsTokens,omitempty"`
	StakingPools   map[string]BigInt `json:"stakingPools,omitempty"`
}

// AssetDelta is the wire form of spec.md §3's per-asset {start, end, diff}.
type AssetDelta struct {
	Start BigInt `json:"start"`
	End   BigInt `json:"end"`
	Diff  BigInt `json:"diff"`
}

// Changes is the wire form of spec.md §6's "changes" object.
type Changes struct {
	NearChanged    bool                  `json:"nearChanged"`
	NearDiff       *BigInt               `json:"nearDiff,omitempty"`
	TokensChanged  map[string]AssetDelta `json:"tokensChanged,omitempty"`
	IntentsChanged map[string]AssetDelta `json:"intentsChanged,omitempty"`
	StakingChanged map[string]AssetDelta `json:"stakingChanged,omitempty"`
}

// HasChanges reports whether any dimension of c is non-empty, used by
// the "change minimality" invariant of spec.md §8.
func (c Changes) HasChanges() bool {
	return c.NearChanged || len(c.TokensChanged) > 0 || len(c.IntentsChanged) > 0 || len(c.StakingChanged) > 0
}

// Verification is the connectivity witness of spec.md §3/§6.
type Verification struct {
	Valid             bool     `json:"valid"`
	MismatchedAssets  []string `json:"mismatchedAssets,omitempty"`
}

// TransferDetail is the wire form of spec.md §3's Transfer Detail.
type TransferDetail struct {
	Type         string `json:"type"`
	Direction    string `json:"direction"`
	Amount       BigInt `json:"amount"`
	Counterparty string `json:"counterparty,omitempty"`
	TokenID      string `json:"tokenId,omitempty"`
	Memo         string `json:"memo,omitempty"`
	TxHash       string `json:"txHash,omitempty"`
	ReceiptID    string `json:"receiptId,omitempty"`
}

// TransactionEntry is the wire form of spec.md §3/§6's history record.
//
// Transfers uses a pointer-to-slice so the JSON encoding can distinguish
// "not yet attempted" (absent key, nil pointer, omitempty drops it) from
// "attempted, found none" (present key, empty array) — the sentinel
// distinction spec.md §4.8 Phase C requires.
type TransactionEntry struct {
	Block             uint64            `json:"block"`
	TransactionBlock  *uint64           `json:"transactionBlock"`
	Timestamp         *int64            `json:"timestamp"`
	TransactionHashes []string          `json:"transactionHashes"`
	Transfers         *[]TransferDetail `json:"transfers,omitempty"`
	BalanceBefore     Snapshot          `json:"balanceBefore"`
	BalanceAfter      Snapshot          `json:"balanceAfter"`
	Changes           Changes           `json:"changes"`

	VerificationWithNext     *Verification `json:"verificationWithNext,omitempty"`
	VerificationWithPrevious *Verification `json:"verificationWithPrevious,omitempty"`
}

// EnrichmentAttempted reports whether Phase C has already run against
// this entry (spec.md §4.8 Phase C sentinel semantics).
func (e *TransactionEntry) EnrichmentAttempted() bool { return e.Transfers != nil }

// SetTransfers records the result of an enrichment attempt, even when it
// found nothing — callers must always call this after running the
// extractor so "not yet attempted" never gets confused with "attempted,
// found none".
func (e *TransactionEntry) SetTransfers(details []TransferDetail) {
	if details == nil {
		details = []TransferDetail{}
	}
	e.Transfers = &details
}

// HistoryMetadata is spec.md §3/§6's summary block.
type HistoryMetadata struct {
	FirstBlock        *uint64 `json:"firstBlock"`
	LastBlock         *uint64 `json:"lastBlock"`
	TotalTransactions uint64  `json:"totalTransactions"`
	HistoryComplete   *bool   `json:"historyComplete,omitempty"`
}

// History is the top-level on-disk document, spec.md §6.
type History struct {
	AccountID    string             `json:"accountId"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	Transactions []TransactionEntry `json:"transactions"`
	StakingPools []string           `json:"stakingPools"`
	Metadata     HistoryMetadata    `json:"metadata"`
}

// New constructs an empty History ready for the Reconciler's Phase A.
func New(accountID string, now time.Time) *History {
	return &History{
		AccountID: accountID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TokenChangeRecord is the secondary, flattened output form of spec.md
// §4.8 "Per-token change records" / §6.
type TokenChangeRecord struct {
	BlockHeight     uint64  `json:"block_height"`
	BlockTimestamp  *string `json:"block_timestamp,omitempty"`
	TxHash          string  `json:"tx_hash,omitempty"`
	TxBlock         *uint64 `json:"tx_block,omitempty"`
	TokenID         string  `json:"token_id"`
	ReceiptID       string  `json:"receipt_id,omitempty"`
	Counterparty    string  `json:"counterparty,omitempty"`
	Amount          BigInt  `json:"amount"`
	BalanceBefore   BigInt  `json:"balance_before"`
	BalanceAfter    BigInt  `json:"balance_after"`
}

// GapReport is spec.md §4.8's "Token-gap detection" output.
type GapReport struct {
	TokenID         string `json:"token_id"`
	FromBlock       uint64 `json:"from_block"`
	ToBlock         uint64 `json:"to_block"`
	ExpectedBalance BigInt `json:"expected_balance"`
	ActualBalance   BigInt `json:"actual_balance"`
	Diff            BigInt `json:"diff"`
}
