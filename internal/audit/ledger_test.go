package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/emissions/internal/domain"
)

var sealTime = time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)

func buildChain(t *testing.T, n int) []domain.CalculationLog {
	t.Helper()
	var (
		head    Head
		entries []domain.CalculationLog
	)
	for i := 0; i < n; i++ {
		entry := NewEntry(Record{
			OrganizationID:     "org-1",
			UserID:             "user-1",
			CalculationType:    domain.CalculationTypeScope12,
			Input:              map[string]any{"quantity": 1000 + i, "unit": "kWh"},
			Factor:             &domain.EmissionFactor{ID: "f-1", FuelType: "natural_gas_kwh", FactorYear: 2024, CO2eFactor: 0.182},
			OutputValue:        182,
			OutputUnit:         "kgCO2e",
			MethodologyVersion: "v1",
		})
		sealed, err := Seal(head, entry, sealTime.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		entries = append(entries, sealed)
		head = HeadOf(sealed)
	}
	return entries
}

func TestSealLinksEntries(t *testing.T) {
	entries := buildChain(t, 3)

	require.Equal(t, int64(1), entries[0].Sequence)
	require.Empty(t, entries[0].PrevHash)
	require.Equal(t, entries[0].Hash, entries[1].PrevHash)
	require.Equal(t, entries[1].Hash, entries[2].PrevHash)
	require.Len(t, entries[2].Hash, 64)
	require.Equal(t, sealTime.Truncate(time.Microsecond), entries[0].CreatedAt)
	require.Equal(t, []string{"f-1"}, entries[0].FactorIDsUsed)
}

func TestSealNormalizesNumbers(t *testing.T) {
	entries := buildChain(t, 1)
	// ints become float64 the same way they do after a JSON column reload
	require.Equal(t, float64(1000), entries[0].InputData["quantity"])
	factor, ok := entries[0].InputData["factor"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(2024), factor["factor_year"])
}

func TestHashIsDeterministic(t *testing.T) {
	entries := buildChain(t, 1)
	again, err := ComputeHash(entries[0])
	require.NoError(t, err)
	require.Equal(t, entries[0].Hash, again)
}

func TestVerifyIntactChain(t *testing.T) {
	entries := buildChain(t, 4)
	res := Verify(entries)
	require.True(t, res.Valid)
	require.Equal(t, 4, res.EntriesChecked)
	require.Equal(t, entries[3].Hash, res.HeadHash)
	require.Zero(t, res.BrokenAtSequence)
}

func TestVerifyEmptyLedger(t *testing.T) {
	res := Verify(nil)
	require.True(t, res.Valid)
	require.Zero(t, res.EntriesChecked)
	require.Empty(t, res.HeadHash)
}

func TestVerifyDetectsTampering(t *testing.T) {
	entries := buildChain(t, 4)
	entries[2].OutputValue = 1

	res := Verify(entries)
	require.False(t, res.Valid)
	require.Equal(t, int64(3), res.BrokenAtSequence)
	require.Equal(t, 2, res.EntriesChecked)
	require.Equal(t, "content hash mismatch", res.Reason)
}

func TestVerifyDetectsRemovedEntry(t *testing.T) {
	entries := buildChain(t, 4)
	entries = append(entries[:1], entries[2:]...)

	res := Verify(entries)
	require.False(t, res.Valid)
	require.Equal(t, int64(3), res.BrokenAtSequence)
}

func TestVerifyDetectsRelinkedEntry(t *testing.T) {
	entries := buildChain(t, 3)
	entries[1].PrevHash = entries[2].Hash

	res := Verify(entries)
	require.False(t, res.Valid)
	require.Equal(t, int64(2), res.BrokenAtSequence)
}

type stubLister struct {
	entries []domain.CalculationLog
	err     error
}

func (s stubLister) ListLogs(context.Context, string) ([]domain.CalculationLog, error) {
	return s.entries, s.err
}

func TestVerifierOrganization(t *testing.T) {
	entries := buildChain(t, 2)
	res, err := NewVerifier(stubLister{entries: entries}).VerifyOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	require.True(t, res.Valid)

	_, err = NewVerifier(stubLister{err: errors.New("boom")}).VerifyOrganization(context.Background(), "org-1")
	require.ErrorContains(t, err, "boom")
}

func TestNewEntryWithoutFactor(t *testing.T) {
	entry := NewEntry(Record{OrganizationID: "org-1", Input: map[string]any{"a": "b"}})
	require.NotEmpty(t, entry.ID)
	require.Empty(t, entry.FactorIDsUsed)
	require.NotContains(t, entry.InputData, "factor")
}
