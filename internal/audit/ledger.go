// Package audit builds and seals the per-organization calculation ledger.
//
// Each CalculationLog is chained to its predecessor: the entry hash is a
// BLAKE3 keyed hash over the previous hash followed by the Core Deterministic
// CBOR encoding of the entry content. Rewriting any historical entry breaks
// every hash after it, which Verify detects.
package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"example.com/emissions/internal/domain"
)

type domainKey [32]byte

// ledgerKey separates ledger hashes from any other BLAKE3 use. Changing it
// invalidates every stored chain.
var ledgerKey = domainKey{
	'e', 'm', 'i', 's', 's', 'i', 'o', 'n', 's', '.', 'c', 'a', 'l', 'c', 'u', 'l',
	'a', 't', 'i', 'o', 'n', '-', 'l', 'o', 'g', 0, 0, 0, 0, 0, 0, 0,
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("audit: CBOR encoder initialization failed: " + err.Error())
	}
}

// Head is the tip of an organization's ledger. The zero Head precedes the
// first entry.
type Head struct {
	Sequence int64
	Hash     string
}

// HeadOf returns the head after entry.
func HeadOf(entry domain.CalculationLog) Head {
	return Head{Sequence: entry.Sequence, Hash: entry.Hash}
}

type sealedContent struct {
	ID                   string         `cbor:"id"`
	OrganizationID       string         `cbor:"organization_id"`
	UserID               string         `cbor:"user_id"`
	CalculatedEmissionID string         `cbor:"calculated_emission_id"`
	ProvenanceID         string         `cbor:"provenance_id"`
	CalculationType      string         `cbor:"calculation_type"`
	InputData            map[string]any `cbor:"input_data"`
	OutputValue          float64        `cbor:"output_value"`
	OutputUnit           string         `cbor:"output_unit"`
	MethodologyVersion   string         `cbor:"methodology_version"`
	FactorIDsUsed        []string       `cbor:"factor_ids_used"`
	Sequence             int64          `cbor:"sequence"`
	CreatedAtMicros      int64          `cbor:"created_at_us"`
}

// NormalizeInput round-trips an input snapshot through JSON so that the map
// holds the same value types it will have after being reloaded from a JSON
// column. Hashes computed before and after storage then agree.
func NormalizeInput(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input snapshot: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode input snapshot: %w", err)
	}
	return out, nil
}

// Seal links entry to head and computes its hash. The returned entry is what
// must be stored.
func Seal(head Head, entry domain.CalculationLog, now time.Time) (domain.CalculationLog, error) {
	input, err := NormalizeInput(entry.InputData)
	if err != nil {
		return domain.CalculationLog{}, err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.CreatedAt = entry.CreatedAt.UTC().Truncate(time.Microsecond)
	entry.InputData = input
	if entry.FactorIDsUsed == nil {
		entry.FactorIDsUsed = []string{}
	}
	entry.Sequence = head.Sequence + 1
	entry.PrevHash = head.Hash

	hash, err := ComputeHash(entry)
	if err != nil {
		return domain.CalculationLog{}, err
	}
	entry.Hash = hash
	return entry, nil
}

// ComputeHash returns the hex encoded chain hash of entry over entry.PrevHash.
func ComputeHash(entry domain.CalculationLog) (string, error) {
	factorIDs := entry.FactorIDsUsed
	if factorIDs == nil {
		factorIDs = []string{}
	}
	input := entry.InputData
	if input == nil {
		input = map[string]any{}
	}
	payload, err := encMode.Marshal(sealedContent{
		ID:                   entry.ID,
		OrganizationID:       entry.OrganizationID,
		UserID:               entry.UserID,
		CalculatedEmissionID: entry.CalculatedEmissionID,
		ProvenanceID:         entry.ProvenanceID,
		CalculationType:      entry.CalculationType,
		InputData:            input,
		OutputValue:          entry.OutputValue,
		OutputUnit:           entry.OutputUnit,
		MethodologyVersion:   entry.MethodologyVersion,
		FactorIDsUsed:        factorIDs,
		Sequence:             entry.Sequence,
		CreatedAtMicros:      entry.CreatedAt.UTC().UnixMicro(),
	})
	if err != nil {
		return "", fmt.Errorf("encode log entry: %w", err)
	}

	hasher, err := blake3.NewKeyed(ledgerKey[:])
	if err != nil {
		return "", fmt.Errorf("init ledger hasher: %w", err)
	}
	prev, err := hex.DecodeString(entry.PrevHash)
	if err != nil {
		return "", fmt.Errorf("decode prev hash: %w", err)
	}
	_, _ = hasher.Write(prev)
	_, _ = hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
