// Package transfer implements the Receipt Parser & Transfer Extractor
// (C5) and Transaction Attributor (C6) of spec.md §4.5-4.6.
package transfer

import "math/big"

// Type is the transfer variant tag of spec.md §3.
type Type string

const (
	TypeNative       Type = "native"
	TypeFT           Type = "ft"
	TypeMT           Type = "mt"
	TypeStakingReward Type = "staking_reward"
	TypeGasReward    Type = "action_receipt_gas_reward"
)

// Direction is credit/debit relative to the account being reconciled.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// Detail is one atomic credit/debit attributed to the account, spec.md §3.
type Detail struct {
	Type         Type
	Direction    Direction
	Amount       *big.Int
	Counterparty string
	TokenID      string // set for ft/mt; staking transfers leave it empty and name the pool in Counterparty
	Memo         string // optional free-text, e.g. staking method name
	TxHash       string
	ReceiptID    string
}

// Staking method names recognised by the extractor, spec.md §4.5.
const (
	MethodDepositAndStake = "deposit_and_stake"
	MethodStake           = "stake"
	MethodUnstake         = "unstake"
	MethodUnstakeAll      = "unstake_all"
	MethodWithdraw        = "withdraw"
	MethodWithdrawAll     = "withdraw_all"
)

var stakingMethods = map[string]bool{
	MethodDepositAndStake: true,
	MethodStake:           true,
	MethodUnstake:         true,
	MethodUnstakeAll:      true,
	MethodWithdraw:        true,
	MethodWithdrawAll:     true,
}

// IsStakingMethod reports whether name is one of the recognised staking
// delegation method names.
func IsStakingMethod(name string) bool { return stakingMethods[name] }

// Pool-name suffix patterns, spec.md §4.7.
var poolSuffixes = []string{".poolv1.near", ".pool.near", ".poolv2.near"}

// LooksLikePool reports whether accountID matches a known staking pool
// contract naming convention.
func LooksLikePool(accountID string) bool {
	for _, suf := range poolSuffixes {
		if len(accountID) > len(suf) && accountID[len(accountID)-len(suf):] == suf {
			return true
		}
	}
	return false
}
