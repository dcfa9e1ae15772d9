package cmd

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/supplymind/copilot/internal/tenant"
)

// buildScope turns --tenant and --user flag values into a tenant scope.
// The user ID may be empty: machine callers act for the whole tenant.
func buildScope(tenantID, userID string) (tenant.Scope, error) {
	if tenantID == "" {
		return tenant.Scope{}, errors.New("--tenant is required")
	}
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return tenant.Scope{}, fmt.Errorf("invalid --tenant %q: %w", tenantID, err)
	}
	scope := tenant.Scope{TenantID: tid}
	if userID != "" {
		uid, err := uuid.Parse(userID)
		if err != nil {
			return tenant.Scope{}, fmt.Errorf("invalid --user %q: %w", userID, err)
		}
		scope.UserID = uid
	}
	return scope, nil
}
