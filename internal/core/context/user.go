// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// Staff roles carried in access tokens.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

// UserContext contains authenticated staff information.
type UserContext struct {
	UserID    string
	Username  string
	Role      string
	CenterID  string // empty for admins, who are not pinned to a center
	SessionID string
}

// IsAdmin reports whether the user has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// GetCenterID returns the center the caller is pinned to, or empty string.
func GetCenterID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.CenterID
	}
	return ""
}

// HasRole checks if user has specific role.
func HasRole(ctx context.Context, role string) bool {
	u := GetUser(ctx)
	if u == nil {
		return false
	}
	return u.Role == role
}
