package testutil

import (
	"testing"

	"github.com/google/uuid"

	"github.com/supplymind/copilot/internal/tenant"
)

// NewScope mints a tenant scope with fresh random IDs. Each call produces a
// distinct tenant, which is what isolation tests want.
func NewScope(t *testing.T) tenant.Scope {
	t.Helper()
	scope, err := tenant.NewScope(uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("creating scope: %v", err)
	}
	return scope
}

// SiblingScope mints a scope for a different user in the same tenant.
func SiblingScope(t *testing.T, scope tenant.Scope) tenant.Scope {
	t.Helper()
	sibling, err := tenant.NewScope(scope.TenantID, uuid.New())
	if err != nil {
		t.Fatalf("creating sibling scope: %v", err)
	}
	return sibling
}
