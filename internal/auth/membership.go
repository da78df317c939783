package auth

import (
	"context"
	"fmt"
	"strings"

	"example.com/emissions/internal/domain"
)

// Authorizer resolves the caller and checks organization membership.
type Authorizer struct {
	members domain.MembershipRepository
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(members domain.MembershipRepository) Authorizer {
	return Authorizer{members: members}
}

// RequireMember returns the caller's claims when they belong to organizationID.
func (a Authorizer) RequireMember(ctx context.Context, organizationID string) (*Claims, error) {
	claims, ok := FromContext(ctx)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, &domain.ValidationError{Field: "organization_id", Message: "is required"}
	}
	member, err := a.members.IsMember(ctx, organizationID, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return nil, domain.ErrForbidden
	}
	return claims, nil
}
