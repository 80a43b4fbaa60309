package auth

import (
	"context"
	"time"
)

// Revoker records token ids that may no longer be used. Entries
// expire together with the token they revoke.
type Revoker interface {
	Set(ctx context.Context, key string, ttl time.Duration) error
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type Blacklist struct {
	store Revoker
	now   func() time.Time
}

func NewBlacklist(store Revoker) *Blacklist {
	return &Blacklist{store: store, now: time.Now}
}

func blacklistKey(jti string) string {
	return "blacklist:" + jti
}

func (b *Blacklist) remaining(c *Claims) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(b.now())
}

func (b *Blacklist) Revoke(ctx context.Context, c *Claims) error {
	return b.store.Set(ctx, blacklistKey(c.ID), b.remaining(c))
}

// Consume revokes c and reports whether this call was the one to do so. Two
// concurrent refreshes with the same token get exactly one true.
func (b *Blacklist) Consume(ctx context.Context, c *Claims) (bool, error) {
	return b.store.SetNX(ctx, blacklistKey(c.ID), b.remaining(c))
}

// IsRevoked reports whether c was revoked or already consumed.
func (b *Blacklist) IsRevoked(ctx context.Context, c *Claims) (bool, error) {
	return b.store.Exists(ctx, blacklistKey(c.ID))
}
