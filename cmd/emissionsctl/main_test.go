package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRefdataValidateBuiltIn(t *testing.T) {
	out, err := run(t, "refdata", "validate", "--file", "")
	require.NoError(t, err)

	var summary refdataSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Equal(t, "built-in", summary.Source)
	require.Contains(t, summary.Currencies, "GBP")
	require.Positive(t, summary.FuelMappings)
}

func TestRefdataValidateFile(t *testing.T) {
	out, err := run(t, "refdata", "validate", "--file", "../../internal/refdata/testdata/tables.yaml")
	require.NoError(t, err)
	require.Contains(t, out, "tables.yaml")

	_, err = run(t, "refdata", "validate", "--file", "does-not-exist.yaml")
	require.Error(t, err)
}

func TestCalculateRequiresOrg(t *testing.T) {
	_, err := run(t, "calculate", "--refdata", "")
	require.EqualError(t, err, "--org is required")

	_, err = run(t, "verify-ledger")
	require.EqualError(t, err, "--org is required")
}

func TestMigrateDownRejectsZeroSteps(t *testing.T) {
	_, err := run(t, "migrate", "down", "--steps", "0", "--database-url", "postgres://unused")
	require.ErrorContains(t, err, "steps must be positive")
}
