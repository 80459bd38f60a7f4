// Package identity keeps a read-only projection of account identities,
// refreshed from verified access-token claims, for composing messages.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Identity is the display information known for one account.
type Identity struct {
	AccountID   string
	Email       string
	DisplayName string
	UpdatedAt   time.Time
}

// Name returns the display name, falling back to the email local part.
func (i Identity) Name() string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(i.Email, "@")
	if local != "" {
		return local
	}
	return i.AccountID
}

// Store persists the identity projection.
type Store interface {
	PutIdentity(ctx context.Context, identity Identity) error
	GetIdentity(ctx context.Context, accountID string) (Identity, error)
}

// Resolver resolves account ids through the projection.
type Resolver struct {
	store Store
	clock func() time.Time
}

// NewResolver builds a resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, clock: time.Now}
}

// ResolveIdentity returns the projected identity for accountID.
func (r *Resolver) ResolveIdentity(ctx context.Context, accountID string) (Identity, error) {
	if r == nil || r.store == nil {
		return Identity{}, fmt.Errorf("identity store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Identity{}, fmt.Errorf("account id is required")
	}
	return r.store.GetIdentity(ctx, accountID)
}

// Observe records the latest claims seen for an account.
func (r *Resolver) Observe(ctx context.Context, identity Identity) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("identity store is not configured")
	}
	identity.AccountID = strings.TrimSpace(identity.AccountID)
	if identity.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	identity.Email = strings.ToLower(strings.TrimSpace(identity.Email))
	identity.DisplayName = strings.TrimSpace(identity.DisplayName)
	identity.UpdatedAt = r.clock().UTC()
	if err := r.store.PutIdentity(ctx, identity); err != nil {
		return fmt.Errorf("observe identity: %w", err)
	}
	return nil
}
