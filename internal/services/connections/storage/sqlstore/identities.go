package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// PutIdentity upserts one account identity projection row.
func (s *Store) PutIdentity(ctx context.Context, ident identity.Identity) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if ident.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, s.q(`INSERT INTO identities (account_id, email, display_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
		  email = excluded.email,
		  display_name = excluded.display_name,
		  updated_at = excluded.updated_at`),
		ident.AccountID, ident.Email, ident.DisplayName, toMillis(ident.UpdatedAt),
	); err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	return nil
}

// GetIdentity returns the projected identity for accountID.
func (s *Store) GetIdentity(ctx context.Context, accountID string) (identity.Identity, error) {
	if err := s.ready(ctx); err != nil {
		return identity.Identity{}, err
	}
	var (
		ident     identity.Identity
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, s.q(`SELECT account_id, email, display_name, updated_at
		FROM identities WHERE account_id = ?`), accountID,
	).Scan(&ident.AccountID, &ident.Email, &ident.DisplayName, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Identity{}, storage.ErrNotFound
		}
		return identity.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	ident.UpdatedAt = fromMillis(updatedAt)
	return ident, nil
}
