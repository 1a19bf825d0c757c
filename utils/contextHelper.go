package utils

import (
	"context"

	"bitbucket.org/gigvora/support_backend/appctx"
)

var (
	ContextKeyUserId         = appctx.ContextKeyUserId
	ContextKeyUserRole       = appctx.ContextKeyUserRole
	ContextKeyCorrelationId  = appctx.ContextKeyCorrelationId
	ContextKeyEventName      = appctx.ContextKeyEventName
	ContextKeyConversationId = appctx.ContextKeyConversationId
)

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserRole)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetEventNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyEventName)
}

func GetConversationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyConversationId)
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

func SetEventNameInContext(ctx context.Context, eventName string) context.Context {
	return appctx.Set(ctx, ContextKeyEventName, eventName)
}

func SetConversationIdInContext(ctx context.Context, conversationId string) context.Context {
	return appctx.Set(ctx, ContextKeyConversationId, conversationId)
}
