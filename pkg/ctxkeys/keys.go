// Package ctxkeys defines typed context keys to avoid SA1029 lint warnings
// and prevent key collisions across packages.
package ctxkeys

import (
	"context"
)

// Key is a typed context key to prevent collisions.
type Key string

// Auth context keys
const (
	KeyUserID   Key = "user_id"
	KeyOrgID    Key = "org_id"
	KeyEmail    Key = "email"
	KeyRole     Key = "role"
	KeyJWTToken Key = "jwt_token"
	KeyAuthType Key = "auth_type"
)

// Request context keys
const (
	KeyServiceToken Key = "service_token"
	KeyTraceID      Key = "trace_id"
	KeyClientIP     Key = "client_ip"
	KeyRequestPath  Key = "request_path"
)

// GetUserID extracts user_id from context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(KeyUserID).(string); ok {
		return v
	}
	return ""
}

// GetOrgID extracts org_id from context.
func GetOrgID(ctx context.Context) string {
	if v, ok := ctx.Value(KeyOrgID).(string); ok {
		return v
	}
	return ""
}

// GetEmail extracts email from context.
func GetEmail(ctx context.Context) string {
	if v, ok := ctx.Value(KeyEmail).(string); ok {
		return v
	}
	return ""
}

// GetRole extracts role from context.
func GetRole(ctx context.Context) string {
	if v, ok := ctx.Value(KeyRole).(string); ok {
		return v
	}
	return ""
}

// GetAuthType extracts auth_type from context.
func GetAuthType(ctx context.Context) string {
	if v, ok := ctx.Value(KeyAuthType).(string); ok {
		return v
	}
	return ""
}

// GetTraceID extracts trace_id from context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(KeyTraceID).(string); ok {
		return v
	}
	return ""
}
