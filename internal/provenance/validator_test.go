package provenance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/emissions/internal/domain"
)

const (
	orgA     = "org-a"
	orgB     = "org-b"
	recordID = "6f1c2b8e-3c8a-4f4e-9a51-2f0d7b1f4a10"
)

type stubRepo struct {
	records map[string]domain.DataProvenanceRecord
	err     error
}

// GetProvenance deliberately ignores the organization so the validator's own
// tenant check is exercised.
func (s stubRepo) GetProvenance(_ context.Context, _ string, id string) (*domain.DataProvenanceRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func newValidator() *Validator {
	return NewValidator(stubRepo{records: map[string]domain.DataProvenanceRecord{
		recordID: {ID: recordID, OrganizationID: orgA, SourceType: "invoice"},
	}})
}

func TestValidateOwnRecord(t *testing.T) {
	rec, err := newValidator().Validate(context.Background(), recordID, orgA)
	require.NoError(t, err)
	require.Equal(t, "invoice", rec.SourceType)
}

func TestValidateCrossTenantLooksMissing(t *testing.T) {
	_, crossErr := newValidator().Validate(context.Background(), recordID, orgB)
	require.ErrorIs(t, crossErr, domain.ErrNotFound)

	_, missingErr := newValidator().Validate(context.Background(), "0b7e1f43-7d55-4a53-8a0c-6c7f7b0e5d21", orgB)
	require.ErrorIs(t, missingErr, domain.ErrNotFound)
}

func TestValidateMalformedID(t *testing.T) {
	_, err := newValidator().Validate(context.Background(), "not-a-uuid", orgA)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestValidatePropagatesStorageErrors(t *testing.T) {
	v := NewValidator(stubRepo{err: errors.New("connection reset")})
	_, err := v.Validate(context.Background(), recordID, orgA)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrNotFound)
}
