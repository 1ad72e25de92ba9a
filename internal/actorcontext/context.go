package actorcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type userKey struct{}
type ipKey struct{}
type userAgentKey struct{}

// WithUserID stores the acting user ID in the context.
func WithUserID(ctx context.Context, userID snowflake.ID) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIDFromContext returns the acting user ID from context, if set.
func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(userKey{}).(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil && parsed != 0 {
			return parsed, true
		}
	}
	return 0, false
}

func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	if ip != "" {
		ctx = context.WithValue(ctx, ipKey{}, ip)
	}
	if userAgent != "" {
		ctx = context.WithValue(ctx, userAgentKey{}, userAgent)
	}
	return ctx
}

func IPAddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ipKey{}).(string)
	return v
}

func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(userAgentKey{}).(string)
	return v
}
