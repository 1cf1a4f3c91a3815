package ledger

import (
	"errors"
	"fmt"
)

// Error taxonomy for reconciliation. Anything that leaves the ledger
// ambiguous is returned as an error; well-defined business outcomes
// (reverted chain tx, unmatched settle event, lost dispute) are recorded
// as terminal states and are not errors.
var (
	// ErrNotFound covers a missing transaction, blockchain transaction,
	// target entity, parent payment, dispute or payout. Hard failure,
	// no partial writes.
	ErrNotFound = errors.New("ledger: not found")

	// ErrNotMined means the receipt fetcher returned nothing yet.
	// Retryable; the caller decides the retry cadence.
	ErrNotMined = errors.New("ledger: transaction not mined yet")

	// ErrInvariant marks a broken linked-transaction invariant
	// (reversal count, partial reversal, purpose/provider mismatch).
	ErrInvariant = errors.New("ledger: invariant violation")
)

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}
