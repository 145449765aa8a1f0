package auth

import (
	"context"
	"strings"

	"github.com/rpattn/opscrm/internal/domain"

	"github.com/google/uuid"
)

type contextKey string

const scopeKey contextKey = "scope"

// Request headers carrying the caller identity, set by the upstream auth proxy.
const (
	HeaderWorkspaceID = "X-Workspace-ID"
	HeaderUserID      = "X-User-ID"
)

// Scope is the authenticated workspace and user of a request.
type Scope struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
}

// ParseScope reads a scope from raw header values.
func ParseScope(workspaceID, userID string) (Scope, error) {
	ws, err := uuid.Parse(strings.TrimSpace(workspaceID))
	if err != nil || ws == uuid.Nil {
		return Scope{}, domain.Validationf("%s header must be a uuid", HeaderWorkspaceID)
	}
	user, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil || user == uuid.Nil {
		return Scope{}, domain.Validationf("%s header must be a uuid", HeaderUserID)
	}
	return Scope{WorkspaceID: ws, UserID: user}, nil
}

// ContextWithScope returns a new context that carries the authenticated scope.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey, scope)
}

// ScopeFromContext retrieves the authenticated scope from the context, if any.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	scope, ok := ctx.Value(scopeKey).(Scope)
	if !ok || scope.WorkspaceID == uuid.Nil {
		return Scope{}, false
	}
	return scope, true
}

// RequireScope returns the scope or a validation error when the request carries none.
func RequireScope(ctx context.Context) (Scope, error) {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		return Scope{}, domain.Validationf("workspace scope is required")
	}
	return scope, nil
}
