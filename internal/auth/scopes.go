package auth

const (
	// ScopeEmissionsCalculate allows running the Scope 1/2 batch and the
	// travel spend calculation. It also grants ledger verification.
	ScopeEmissionsCalculate = "emissions:calculate"
	// ScopeLedgerRead allows verifying an organization's calculation ledger.
	ScopeLedgerRead = "ledger:read"
)

// HasAnyScope reports whether c grants at least one of scopes.
func (c *Claims) HasAnyScope(scopes ...string) bool {
	for _, scope := range scopes {
		if c.HasScope(scope) {
			return true
		}
	}
	return false
}
