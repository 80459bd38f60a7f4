package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

func (s *Store) claimPair(ctx context.Context, tx *sql.Tx, req request.ConnectionRequest, at time.Time) error {
	if req.InitiatorID == req.CounterpartyID {
		return fmt.Errorf("pair members must differ")
	}
	low, high := storage.PairKey(req.InitiatorID, req.CounterpartyID)
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO connection_pairs (user_low, user_high, request_id, room_id, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		low, high, req.ID, nullString(req.RoomID), toMillis(at),
	); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return storage.ErrPairExists
		}
		return fmt.Errorf("insert pair: %w", err)
	}
	for _, accountID := range []string{low, high} {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO paired_accounts (account_id, request_id) VALUES (?, ?)`),
			accountID, req.ID,
		); err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return storage.ErrPairExists
			}
			return fmt.Errorf("claim account: %w", err)
		}
	}
	return nil
}

const pairColumns = `user_low, user_high, request_id, room_id, created_at`

func scanPair(row rowScanner) (storage.Pair, error) {
	var (
		pair      storage.Pair
		roomID    sql.NullString
		createdAt int64
	)
	if err := row.Scan(&pair.UserLow, &pair.UserHigh, &pair.RequestID, &roomID, &createdAt); err != nil {
		return storage.Pair{}, err
	}
	pair.RoomID = roomID.String
	pair.CreatedAt = fromMillis(createdAt)
	return pair, nil
}

// GetPairForAccount returns the pairing accountID belongs to.
func (s *Store) GetPairForAccount(ctx context.Context, accountID string) (storage.Pair, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Pair{}, err
	}
	pair, err := scanPair(s.sqlDB.QueryRowContext(ctx, s.q(`SELECT `+pairColumns+` FROM connection_pairs
		WHERE user_low = ? OR user_high = ?
		ORDER BY created_at ASC LIMIT 1`), accountID, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Pair{}, storage.ErrNotFound
		}
		return storage.Pair{}, fmt.Errorf("get pair for account: %w", err)
	}
	return pair, nil
}

// GetPair returns the pairing between two accounts in either order.
func (s *Store) GetPair(ctx context.Context, accountA, accountB string) (storage.Pair, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Pair{}, err
	}
	low, high := storage.PairKey(accountA, accountB)
	pair, err := scanPair(s.sqlDB.QueryRowContext(ctx, s.q(`SELECT `+pairColumns+` FROM connection_pairs
		WHERE user_low = ? AND user_high = ?`), low, high))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Pair{}, storage.ErrNotFound
		}
		return storage.Pair{}, fmt.Errorf("get pair: %w", err)
	}
	return pair, nil
}
