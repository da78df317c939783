package audit

import (
	"context"
	"fmt"

	"example.com/emissions/internal/domain"
)

// VerificationResult summarises a ledger check. BrokenAtSequence is zero when
// the chain is intact.
type VerificationResult struct {
	Valid            bool   `json:"valid"`
	EntriesChecked   int    `json:"entries_checked"`
	BrokenAtSequence int64  `json:"broken_at_sequence,omitempty"`
	HeadHash         string `json:"head_hash"`
	Reason           string `json:"reason,omitempty"`
}

// Verify walks entries in sequence order and recomputes every hash.
func Verify(entries []domain.CalculationLog) VerificationResult {
	var head Head
	for i, entry := range entries {
		broken := func(reason string) VerificationResult {
			return VerificationResult{
				EntriesChecked:   i,
				BrokenAtSequence: entry.Sequence,
				HeadHash:         head.Hash,
				Reason:           reason,
			}
		}
		if entry.Sequence != head.Sequence+1 {
			res := broken(fmt.Sprintf("expected sequence %d, found %d", head.Sequence+1, entry.Sequence))
			if entry.Sequence == 0 {
				res.BrokenAtSequence = head.Sequence + 1
			}
			return res
		}
		if entry.PrevHash != head.Hash {
			return broken("prev_hash does not match preceding entry")
		}
		hash, err := ComputeHash(entry)
		if err != nil {
			return broken(err.Error())
		}
		if hash != entry.Hash {
			return broken("content hash mismatch")
		}
		head = HeadOf(entry)
	}
	return VerificationResult{Valid: true, EntriesChecked: len(entries), HeadHash: head.Hash}
}

// LogLister loads an organization's ledger in sequence order.
type LogLister interface {
	ListLogs(ctx context.Context, organizationID string) ([]domain.CalculationLog, error)
}

// Verifier checks stored ledgers.
type Verifier struct {
	logs LogLister
}

// NewVerifier constructs a Verifier.
func NewVerifier(logs LogLister) *Verifier {
	return &Verifier{logs: logs}
}

// VerifyOrganization loads and verifies one organization's ledger.
func (v *Verifier) VerifyOrganization(ctx context.Context, organizationID string) (VerificationResult, error) {
	entries, err := v.logs.ListLogs(ctx, organizationID)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("list calculation logs: %w", err)
	}
	return Verify(entries), nil
}
