// Package provenance checks evidentiary records before a calculation runs.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"example.com/emissions/internal/domain"
)

// ErrInvalidProvenance is wrapped by every rejection. It matches
// domain.ErrNotFound.
var ErrInvalidProvenance = fmt.Errorf("invalid provenance_id: %w", domain.ErrNotFound)

// Validator confirms that a provenance record exists for an organization.
type Validator struct {
	repo domain.ProvenanceRepository
}

// NewValidator constructs a Validator.
func NewValidator(repo domain.ProvenanceRepository) *Validator {
	return &Validator{repo: repo}
}

// Validate returns the record or an error wrapping domain.ErrNotFound. A
// malformed id, an unknown id and a record owned by another organization are
// all reported the same way.
func (v *Validator) Validate(ctx context.Context, provenanceID, organizationID string) (*domain.DataProvenanceRecord, error) {
	id, err := uuid.Parse(strings.TrimSpace(provenanceID))
	if err != nil {
		return nil, fmt.Errorf("provenance %q: %w", provenanceID, ErrInvalidProvenance)
	}
	record, err := v.repo.GetProvenance(ctx, organizationID, id.String())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("provenance %s: %w", id, ErrInvalidProvenance)
		}
		return nil, fmt.Errorf("load provenance: %w", err)
	}
	if record == nil || record.OrganizationID != organizationID {
		return nil, fmt.Errorf("provenance %s: %w", id, ErrInvalidProvenance)
	}
	return record, nil
}
