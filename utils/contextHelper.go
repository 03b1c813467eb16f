package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/kanban_backend/appctx"
	"github.com/google/uuid"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyTenantId      = appctx.ContextKeyTenantId
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserRole      = appctx.ContextKeyUserRole
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetTenantIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTenantId)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserRole)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetTenantIdInContext(ctx context.Context, tenantId string) context.Context {
	return appctx.Set(ctx, ContextKeyTenantId, tenantId)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserRoleInContext(ctx context.Context, role string) context.Context {
	return appctx.Set(ctx, ContextKeyUserRole, role)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// CorrelationIdFromContextOrNew returns the request correlation id, minting
// one when the caller did not supply it.
func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
