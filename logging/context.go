package logging

import (
	"context"

	"github.com/google/uuid"
)

type debugLogKeyType int

const debugLogKeyID = debugLogKeyType(iota)

// EnableDebugMode returns a context under which the C* methods of every logger emit entries
// regardless of the logger's level. key names the debug session; an empty key gets a random
// one.
func EnableDebugMode(ctx context.Context, key string) context.Context {
	if key == "" {
		key = uuid.NewString()[:8]
	}
	return context.WithValue(ctx, debugLogKeyID, key)
}

// IsDebugMode reports whether ctx was returned by EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the debug session key of ctx, or "" when it has none.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(debugLogKeyID).(string)
	return key
}
