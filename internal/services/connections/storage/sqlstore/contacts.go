package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// PutContact upserts one directed owner-scoped contact relationship.
func (s *Store) PutContact(ctx context.Context, contact storage.Contact) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	ownerUserID := strings.TrimSpace(contact.OwnerUserID)
	contactUserID := strings.TrimSpace(contact.ContactUserID)
	if ownerUserID == "" {
		return fmt.Errorf("owner user id is required")
	}
	if contactUserID == "" {
		return fmt.Errorf("contact user id is required")
	}
	if ownerUserID == contactUserID {
		return fmt.Errorf("contact user id must differ from owner user id")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		s.q(`INSERT INTO contacts (owner_user_id, contact_user_id, relationship, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (owner_user_id, contact_user_id) DO UPDATE SET
		   relationship = excluded.relationship,
		   updated_at = excluded.updated_at`),
		ownerUserID,
		contactUserID,
		strings.TrimSpace(contact.Relationship),
		toMillis(contact.CreatedAt),
		toMillis(contact.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put contact: %w", err)
	}
	return nil
}

// GetContact returns one directed owner-scoped contact relationship.
func (s *Store) GetContact(ctx context.Context, ownerUserID string, contactUserID string) (storage.Contact, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Contact{}, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	contactUserID = strings.TrimSpace(contactUserID)
	if ownerUserID == "" {
		return storage.Contact{}, fmt.Errorf("owner user id is required")
	}
	if contactUserID == "" {
		return storage.Contact{}, fmt.Errorf("contact user id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		s.q(`SELECT owner_user_id, contact_user_id, relationship, created_at, updated_at
		 FROM contacts
		 WHERE owner_user_id = ? AND contact_user_id = ?`),
		ownerUserID,
		contactUserID,
	)
	var (
		contact   storage.Contact
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&contact.OwnerUserID,
		&contact.ContactUserID,
		&contact.Relationship,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Contact{}, storage.ErrNotFound
		}
		return storage.Contact{}, fmt.Errorf("get contact: %w", err)
	}
	contact.CreatedAt = fromMillis(createdAt)
	contact.UpdatedAt = fromMillis(updatedAt)
	return contact, nil
}
