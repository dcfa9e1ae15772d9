// Package tenant defines the ownership scope threaded through every store call.
//
// The platform's managed database enforced tenant isolation with row-level
// security policies. This service has no such policy engine, so the boundary
// is re-implemented in application code: every query filters by tenant id,
// and every record fetched by primary key is re-verified against the caller's
// scope before it is returned. A mismatch is a ScopeViolation, which is fatal
// for the request and logged as a security event.
//
// Scope is always an explicit argument, never ambient context, so a missing
// scope is a compile error rather than a silent cross-tenant read.
package tenant

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrScopeViolation reports that a record exists but belongs to a different
// tenant than the caller's scope. Callers must not retry and must not reveal
// record contents; the API layer maps this to 403.
var ErrScopeViolation = errors.New("scope violation")

// ErrInvalidScope reports a scope with a missing tenant id.
var ErrInvalidScope = errors.New("invalid scope: tenant id required")

// Scope identifies the tenant boundary (and acting user) for a request.
// TenantID is mandatory; UserID may be zero for machine callers such as the
// ingest CLI or the MCP server.
type Scope struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

// NewScope builds a validated scope.
func NewScope(tenantID, userID uuid.UUID) (Scope, error) {
	s := Scope{TenantID: tenantID, UserID: userID}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// Validate reports whether the scope carries a tenant id.
func (s Scope) Validate() error {
	if s.TenantID == uuid.Nil {
		return ErrInvalidScope
	}
	return nil
}

// Check verifies that a record's tenant matches the scope. The wrapped error
// carries both ids so the security log line can identify the crossing without
// exposing record contents to the caller.
func (s Scope) Check(recordTenant uuid.UUID) error {
	if recordTenant != s.TenantID {
		return fmt.Errorf("%w: record tenant %s, caller tenant %s",
			ErrScopeViolation, recordTenant, s.TenantID)
	}
	return nil
}

func (s Scope) String() string {
	if s.UserID == uuid.Nil {
		return "tenant=" + s.TenantID.String()
	}
	return "tenant=" + s.TenantID.String() + " user=" + s.UserID.String()
}
