package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/liaizen/coparent/internal/services/connections/request"
)

func (s *Store) appendAudit(ctx context.Context, db execer, entry request.AuditEntry) error {
	if strings.TrimSpace(entry.RequestID) == "" {
		return fmt.Errorf("audit request id is required")
	}
	if entry.Action == "" {
		return fmt.Errorf("audit action is required")
	}
	if entry.ID == "" {
		generated, err := s.newID()
		if err != nil {
			return fmt.Errorf("generate audit id: %w", err)
		}
		entry.ID = generated
	}
	if entry.ActorID == "" {
		entry.ActorID = request.ActorSystem
	}
	metadata, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, s.q(`INSERT INTO audit_entries (id, request_id, action, actor_id, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`),
		entry.ID,
		entry.RequestID,
		string(entry.Action),
		entry.ActorID,
		toMillis(entry.CreatedAt),
		metadata,
	); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AppendAudit records one audit entry outside a status transition.
func (s *Store) AppendAudit(ctx context.Context, entry request.AuditEntry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.appendAudit(ctx, s.sqlDB, entry)
}

// ListAudit returns the audit trail of a request in insertion order.
func (s *Store) ListAudit(ctx context.Context, requestID string) ([]request.AuditEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, s.q(`SELECT id, request_id, action, actor_id, created_at, metadata
		FROM audit_entries WHERE request_id = ?
		ORDER BY created_at ASC, id ASC`), requestID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []request.AuditEntry
	for rows.Next() {
		var (
			entry     request.AuditEntry
			action    string
			createdAt int64
			metadata  string
		)
		if err := rows.Scan(&entry.ID, &entry.RequestID, &action, &entry.ActorID, &createdAt, &metadata); err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		entry.Action = request.Action(action)
		entry.CreatedAt = fromMillis(createdAt)
		if entry.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return entries, nil
}
