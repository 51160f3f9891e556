// Package soldout keeps a shared "pool exhausted" flag in Redis so issuers across
// instances stop queueing on a pool row once the pool has run out.
// The flag is an optimisation only: the store stays the source of truth.
package soldout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	radix "github.com/mediocregopher/radix/v3"
)

const defaultTTL = 24 * time.Hour

type Gate struct {
	client radix.Client
	ttl    time.Duration
}

type Option func(*Gate)

// WithTTL sets how long an exhausted flag lives; pools are not refilled, so it only bounds memory.
// Redis expires in whole milliseconds, shorter values are rounded up to one.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		g.ttl = max(ttl, time.Millisecond)
	}
}

func New(client radix.Client, opts ...Option) *Gate {
	g := &Gate{client: client, ttl: defaultTTL}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect creates a radix pool of the given size
func Connect(addr string, size int) (radix.Client, error) {
	pool, err := radix.NewPool("tcp", addr, size)
	if err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return pool, nil
}

func key(poolID uuid.UUID) string {
	return fmt.Sprintf("coupon:pool:%s:exhausted", poolID)
}

func (g *Gate) IsExhausted(ctx context.Context, poolID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var exists int
	if err := g.client.Do(radix.Cmd(&exists, "EXISTS", key(poolID))); err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return exists == 1, nil
}

func (g *Gate) MarkExhausted(ctx context.Context, poolID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := g.client.Do(radix.FlatCmd(nil, "PSETEX", key(poolID), g.ttl.Milliseconds(), 1)); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}
