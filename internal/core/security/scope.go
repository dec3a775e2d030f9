// Package security provides authorization and center isolation.
package security

import (
	"context"

	"clinicstock/internal/core/apperror"
	appctx "clinicstock/internal/core/context"
	"clinicstock/internal/core/id"
)

// Permission defines available permissions in the system.
type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionDeliver   Permission = "deliver"
	PermissionPurchase  Permission = "purchase"
	PermissionAdjust    Permission = "adjust"
	PermissionAdmin     Permission = "admin"
	PermissionRunRollup Permission = "run_rollup"
)

var rolePermissions = map[string][]Permission{
	appctx.RoleManager: {PermissionRead, PermissionDeliver, PermissionPurchase, PermissionAdjust},
	appctx.RoleAdmin:   {PermissionRead, PermissionAdmin, PermissionRunRollup},
}

// AccessScope defines the boundaries of data visibility for current request.
// Ledger data is partitioned by center: managers only ever see the center
// carried in their token, admins must name the center explicitly.
type AccessScope struct {
	UserID   string
	Role     string
	CenterID string
}

// NewAccessScope creates AccessScope from context.
func NewAccessScope(ctx context.Context) *AccessScope {
	user := appctx.GetUser(ctx)
	if user == nil {
		return &AccessScope{}
	}
	return &AccessScope{
		UserID:   user.UserID,
		Role:     user.Role,
		CenterID: user.CenterID,
	}
}

// IsAdmin reports whether the scope belongs to an admin.
func (s *AccessScope) IsAdmin() bool {
	return s.Role == appctx.RoleAdmin
}

// HasPermission checks the role's permission set.
func (s *AccessScope) HasPermission(perm Permission) bool {
	for _, p := range rolePermissions[s.Role] {
		if p == perm {
			return true
		}
	}
	return false
}

// RequirePermission returns error if permission is missing.
func (s *AccessScope) RequirePermission(perm Permission) error {
	if s.UserID == "" {
		return apperror.NewUnauthorized("authentication required")
	}
	if !s.HasPermission(perm) {
		return apperror.NewForbidden("permission " + string(perm) + " required").
			WithDetail("permission", perm).
			WithDetail("role", s.Role)
	}
	return nil
}

// ResolveCenter returns the center a request operates on.
// For managers the token's center wins and any other requested center is
// forbidden. Admins must pass one explicitly.
func (s *AccessScope) ResolveCenter(requested string) (id.ID, error) {
	if s.IsAdmin() {
		if requested == "" {
			return id.ID{}, apperror.NewValidation("center_id is required").WithDetail("field", "center_id")
		}
		centerID, err := id.Parse(requested)
		if err != nil {
			return id.ID{}, apperror.NewValidation("invalid center_id").WithDetail("field", "center_id")
		}
		return centerID, nil
	}

	if s.CenterID == "" {
		return id.ID{}, apperror.NewForbidden("center is missing from token")
	}
	if requested != "" && requested != s.CenterID {
		return id.ID{}, apperror.NewForbidden("access to another center is not allowed").
			WithDetail("center_id", requested)
	}
	centerID, err := id.Parse(s.CenterID)
	if err != nil {
		return id.ID{}, apperror.NewForbidden("center in token is malformed")
	}
	return centerID, nil
}

// --- Context-based scope access ---

type scopeKey struct{}

// WithScope adds AccessScope to context.
func WithScope(ctx context.Context, scope *AccessScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// GetScope returns AccessScope from context.
func GetScope(ctx context.Context) *AccessScope {
	if v, ok := ctx.Value(scopeKey{}).(*AccessScope); ok {
		return v
	}
	return NewAccessScope(ctx)
}
