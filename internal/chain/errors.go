package chain

import "fmt"

// MissingBlockError is returned when the archival node has garbage
// collected the requested height, spec.md §4.1/§7. It must propagate
// without being cached (see internal/snapshot's reader).
type MissingBlockError struct {
	Block uint64
}

func (e *MissingBlockError) Error() string {
	return fmt.Sprintf("chain: block %d unavailable at archival node", e.Block)
}

// AccountAbsentError signals the account did not exist at the requested
// height, spec.md §4.1/§4.3/§7 — the bounded-retreat termination signal
// for backward search and discovery.
type AccountAbsentError struct {
	Account string
	Block   uint64
}

func (e *AccountAbsentError) Error() string {
	return fmt.Sprintf("chain: account %s does not exist at block %d", e.Account, e.Block)
}
