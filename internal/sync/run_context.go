package sync

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type runContextKey int

const runContextKeyID runContextKey = iota

// NewRunID returns a fresh identifier for one polling pass.
func NewRunID() string {
	return uuid.NewString()
}

func WithRunID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runContextKeyID, id)
}

func RunIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(runContextKeyID).(string)
	return id, ok && id != ""
}
