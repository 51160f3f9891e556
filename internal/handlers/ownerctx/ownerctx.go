package ownerctx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const ownerKey ctxKey = "owner"

// Create a new context with the authenticated owner id
func New(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerKey, ownerID)
}

// Extract the owner id from the context
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ownerKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
