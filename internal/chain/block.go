// Package chain defines the wire-agnostic view of NEAR chain data this
// module needs: point-in-time balance view calls (backing C1) and full
// block-with-shards retrieval (C4, spec.md §4.4). The RPC transport
// itself — endpoint selection, rate limiting, retry/backoff — is the
// out-of-scope external collaborator spec.md §1 names; this package only
// defines the shape of what that collaborator returns and the interface
// this module calls, the way the teacher's server.go depends on a
// rawledger.RawLedgerServiceClient interface without owning its
// connection-retry policy.
package chain

import "math/big"

// Block is the full block-with-shards of spec.md §4.4: receipts,
// execution outcomes, logs and state-change records for every shard at
// a height.
type Block struct {
	Height    uint64
	Timestamp *int64 // nanoseconds since Unix epoch, nullable
	Shards    []Shard
}

// Shard holds one shard's execution outcomes for a block.
type Shard struct {
	ShardID  uint64
	Outcomes []ExecutionOutcome
}

// ExecutionOutcome is one receipt's execution result: the actions that
// produced it, the logs it emitted, and the state changes it caused.
type ExecutionOutcome struct {
	ReceiptID    string
	TxHash       string // originating transaction hash, if known locally
	Predecessor  string
	Receiver     string
	Signer       string // original transaction signer
	Actions      []Action
	Logs         []string
	StateChanges []StateChange
	TokensBurnt  *big.Int
	SpawnedIDs   []string // receipt ids spawned by this outcome
}

// ActionKind distinguishes the action variants relevant to transfer
// extraction, spec.md §4.5.
type ActionKind int

const (
	ActionTransfer ActionKind = iota
	ActionFunctionCall
)

// Action is one action within a receipt.
type Action struct {
	Kind       ActionKind
	Deposit    *big.Int // yoctoNEAR attached, for Transfer and FunctionCall
	MethodName string    // FunctionCall only
}

// StateChangeCause enumerates the causes spec.md §4.5 attributes
// transfers to without an accompanying action.
type StateChangeCause int

const (
	CauseTransaction StateChangeCause = iota
	CauseActionReceiptGasReward
	CauseOther
)

// StateChange is a single state-change record: which account it affects,
// its cause, and the balance delta it represents (when the cause is a
// balance-affecting one).
type StateChange struct {
	Account           string
	Cause             StateChangeCause
	Delta             *big.Int
	RewardedReceiptID string // for CauseActionReceiptGasReward: the id of the receipt being rewarded
}

// ReceiptLogs is one receipt's logs and burnt-gas tokens, backfilled onto
// a Block's outcomes once a transaction hash covering that receipt is
// known — a plain block/chunk fetch never carries logs, spec.md §4.4.
type ReceiptLogs struct {
	Logs        []string
	TokensBurnt *big.Int
}

// RPC is the collaborator this module depends on for all chain reads.
// Its concrete implementation (internal/rpcclient) owns the actual
// JSON-RPC wire format; retry/backoff/rate-limit policy belongs to that
// transport, not to any caller of this interface.
type RPC interface {
	// ViewNativeBalance returns the account's native balance at block, or
	// an *AccountAbsentError / *MissingBlockError.
	ViewNativeBalance(account string, block uint64) (*big.Int, error)

	// ViewFTBalance returns the account's balance of the given FT
	// contract at block. A contract that doesn't exist or doesn't
	// implement the balance-view method is coerced to zero by the
	// implementation, per spec.md §4.1.
	ViewFTBalance(account, contract string, block uint64) (*big.Int, error)

	// ViewIntentsBalances performs the intents contract's multi-read for
	// the given explicit asset ids (spec.md §4.1 "single multi-read").
	ViewIntentsBalances(account string, assetIDs []string, block uint64) (map[string]*big.Int, error)

	// DiscoverIntentsPositions enumerates the account's intents positions
	// at block via the intents contract's enumeration view.
	DiscoverIntentsPositions(account string, block uint64) (map[string]*big.Int, error)

	// ViewStakedBalance queries delegated stake at a pool contract.
	ViewStakedBalance(account, pool string, block uint64) (*big.Int, error)

	// AccountExists reports whether account exists at block (used to
	// classify AccountAbsentError vs. a genuine zero balance).
	AccountExists(account string, block uint64) (bool, error)

	// FetchBlock retrieves the full block-with-shards at height.
	FetchBlock(height uint64) (*Block, error)

	// LookupTransactionBlock resolves the submission block of a
	// transaction hash out-of-band, used by the Attributor (C6) when
	// receipt predecessor hints are insufficient.
	LookupTransactionBlock(txHash string) (uint64, error)
}
