package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

const requestColumns = `id, initiator_id, initiator_email, initiator_name, channel, target_email,
	token_hash, short_code, status, created_at, expires_at, counterparty_id, room_id, resolved_at`

func scanRequest(row rowScanner) (request.ConnectionRequest, error) {
	var (
		req            request.ConnectionRequest
		channel        string
		status         string
		targetEmail    sql.NullString
		tokenHash      sql.NullString
		shortCode      sql.NullString
		createdAt      int64
		expiresAt      int64
		counterpartyID sql.NullString
		roomID         sql.NullString
		resolvedAt     sql.NullInt64
	)
	if err := row.Scan(
		&req.ID,
		&req.InitiatorID,
		&req.InitiatorEmail,
		&req.InitiatorName,
		&channel,
		&targetEmail,
		&tokenHash,
		&shortCode,
		&status,
		&createdAt,
		&expiresAt,
		&counterpartyID,
		&roomID,
		&resolvedAt,
	); err != nil {
		return request.ConnectionRequest{}, err
	}
	req.Channel = request.Channel(channel)
	req.Status = request.Status(status)
	req.TargetEmail = targetEmail.String
	req.TokenHash = tokenHash.String
	req.ShortCode = shortCode.String
	req.CreatedAt = fromMillis(createdAt)
	req.ExpiresAt = fromMillis(expiresAt)
	req.CounterpartyID = counterpartyID.String
	req.RoomID = roomID.String
	if resolvedAt.Valid {
		req.ResolvedAt = fromMillis(resolvedAt.Int64)
	}
	return req, nil
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]request.ConnectionRequest, error) {
	rows, err := s.sqlDB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []request.ConnectionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) queryRequest(ctx context.Context, query string, args ...any) (request.ConnectionRequest, error) {
	req, err := scanRequest(s.sqlDB.QueryRowContext(ctx, s.q(query), args...))
	if err != nil {
		return request.ConnectionRequest{}, notFound(err)
	}
	return req, nil
}

// errPendingSlotTaken marks a unique violation on a single-pending channel
// whose cause is resolved after the transaction rolls back.
var errPendingSlotTaken = errors.New("pending insert hit a unique index")

// InsertRequest stores a pending request, superseding the initiator's other
// pending requests on SupersedeChannel in the same transaction. Email and
// link requests are limited to one live pending row per initiator, backed by
// idx_connection_requests_pending_channel_initiator.
func (s *Store) InsertRequest(ctx context.Context, params storage.InsertParams) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	req := params.Request
	if strings.TrimSpace(req.ID) == "" {
		return nil, fmt.Errorf("request id is required")
	}
	if strings.TrimSpace(req.InitiatorID) == "" {
		return nil, fmt.Errorf("initiator id is required")
	}
	if req.TokenHash == "" && req.ShortCode == "" {
		return nil, fmt.Errorf("token hash or short code is required")
	}
	single := req.Channel.SinglePending()

	var superseded []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if params.SupersedeChannel != "" {
			ids, err := s.retirePending(ctx, tx, req.InitiatorID, params.SupersedeChannel, req.CreatedAt, false)
			if err != nil {
				return err
			}
			superseded = ids
		}
		if single {
			if _, err := s.retirePending(ctx, tx, req.InitiatorID, req.Channel, req.CreatedAt, true); err != nil {
				return err
			}
			liveID, err := s.livePendingID(ctx, tx, req.InitiatorID, req.Channel)
			if err != nil {
				return err
			}
			if liveID != "" {
				return &storage.PendingExistsError{RequestID: liveID}
			}
		}

		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO connection_requests (`+requestColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			req.ID,
			req.InitiatorID,
			req.InitiatorEmail,
			req.InitiatorName,
			string(req.Channel),
			nullString(req.TargetEmail),
			nullString(req.TokenHash),
			nullString(req.ShortCode),
			string(request.StatusPending),
			toMillis(req.CreatedAt),
			toMillis(req.ExpiresAt),
			nil,
			nil,
			nil,
		)
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				if single {
					return errPendingSlotTaken
				}
				return storage.ErrDuplicate
			}
			return fmt.Errorf("insert request: %w", err)
		}

		audit := params.Audit
		audit.RequestID = req.ID
		return s.appendAudit(ctx, tx, audit)
	})
	if errors.Is(err, errPendingSlotTaken) {
		return nil, s.classifyPendingViolation(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

// classifyPendingViolation tells a concurrently committed live request on the
// same channel apart from a token or code collision. It runs after rollback
// because a failed statement aborts the transaction on PostgreSQL.
func (s *Store) classifyPendingViolation(ctx context.Context, req request.ConnectionRequest) error {
	liveID, err := s.livePendingID(ctx, s.sqlDB, req.InitiatorID, req.Channel)
	if err != nil {
		return err
	}
	if liveID != "" {
		return &storage.PendingExistsError{RequestID: liveID}
	}
	return storage.ErrDuplicate
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) livePendingID(ctx context.Context, db rowQueryer, initiatorID string, channel request.Channel) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, s.q(`SELECT id FROM connection_requests
		WHERE initiator_id = ? AND channel = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`),
		initiatorID,
		string(channel),
		string(request.StatusPending),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find live pending: %w", err)
	}
	return id, nil
}

// retirePending expires the initiator's pending requests on channel. With
// staleOnly it touches only rows whose window closed by at and records a
// system expiry; otherwise it supersedes every pending row.
func (s *Store) retirePending(ctx context.Context, tx *sql.Tx, initiatorID string, channel request.Channel, at time.Time, staleOnly bool) ([]string, error) {
	query := `UPDATE connection_requests
		SET status = ?, resolved_at = ?
		WHERE initiator_id = ? AND channel = ? AND status = ?`
	args := []any{
		string(request.StatusExpired),
		toMillis(at),
		initiatorID,
		string(channel),
		string(request.StatusPending),
	}
	if staleOnly {
		query += ` AND expires_at <= ?`
		args = append(args, toMillis(at))
	}
	rows, err := tx.QueryContext(ctx, s.q(query+` RETURNING id`), args...)
	if err != nil {
		return nil, fmt.Errorf("retire pending: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("retire pending: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("retire pending: %w", err)
	}
	rows.Close()

	for _, id := range ids {
		entry := request.AuditEntry{
			RequestID: id,
			Action:    request.ActionSuperseded,
			ActorID:   initiatorID,
			CreatedAt: at,
			Metadata:  map[string]string{request.MetaReason: "replaced by a newer " + string(channel) + " request"},
		}
		if staleOnly {
			entry.Action = request.ActionExpired
			entry.ActorID = request.ActorSystem
			entry.Metadata = map[string]string{request.MetaReason: "expired before a new " + string(channel) + " request"}
		}
		if err := s.appendAudit(ctx, tx, entry); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// GetRequest returns one request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return request.ConnectionRequest{}, err
	}
	req, err := s.queryRequest(ctx, `SELECT `+requestColumns+` FROM connection_requests WHERE id = ?`, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return request.ConnectionRequest{}, fmt.Errorf("get request: %w", err)
	}
	return req, err
}

// FindPendingByTokenHash returns the pending request holding tokenHash.
func (s *Store) FindPendingByTokenHash(ctx context.Context, tokenHash string) (request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return request.ConnectionRequest{}, err
	}
	req, err := s.queryRequest(ctx, `SELECT `+requestColumns+` FROM connection_requests
		WHERE token_hash = ? AND status = ?`, tokenHash, string(request.StatusPending))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return request.ConnectionRequest{}, fmt.Errorf("find pending by token: %w", err)
	}
	return req, err
}

// FindPendingByCode returns the pending request holding code.
func (s *Store) FindPendingByCode(ctx context.Context, code string) (request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return request.ConnectionRequest{}, err
	}
	req, err := s.queryRequest(ctx, `SELECT `+requestColumns+` FROM connection_requests
		WHERE short_code = ? AND status = ?`, code, string(request.StatusPending))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return request.ConnectionRequest{}, fmt.Errorf("find pending by code: %w", err)
	}
	return req, err
}

// FindByTokenHash returns the newest request of any status holding tokenHash.
func (s *Store) FindByTokenHash(ctx context.Context, tokenHash string) (request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return request.ConnectionRequest{}, err
	}
	req, err := s.queryRequest(ctx, `SELECT `+requestColumns+` FROM connection_requests
		WHERE token_hash = ? ORDER BY created_at DESC, id DESC LIMIT 1`, tokenHash)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return request.ConnectionRequest{}, fmt.Errorf("find by token: %w", err)
	}
	return req, err
}

// FindByCode returns up to limit requests of any status holding code.
func (s *Store) FindByCode(ctx context.Context, code string, limit int) ([]request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	reqs, err := s.queryRequests(ctx, `SELECT `+requestColumns+` FROM connection_requests
		WHERE short_code = ? ORDER BY created_at DESC, id DESC LIMIT ?`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("find by code: %w", err)
	}
	return reqs, nil
}

// FindPendingByInitiatorAndTargetEmail returns a live pending email request
// sent by initiatorEmail to targetEmail.
func (s *Store) FindPendingByInitiatorAndTargetEmail(ctx context.Context, initiatorEmail, targetEmail string, now time.Time) (request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return request.ConnectionRequest{}, err
	}
	req, err := s.queryRequest(ctx, `SELECT `+requestColumns+` FROM connection_requests
		WHERE initiator_email = ? AND target_email = ? AND channel = ? AND status = ? AND expires_at > ?
		ORDER BY created_at ASC, id ASC LIMIT 1`,
		initiatorEmail,
		targetEmail,
		string(request.ChannelEmail),
		string(request.StatusPending),
		toMillis(now),
	)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return request.ConnectionRequest{}, fmt.Errorf("find reciprocal request: %w", err)
	}
	return req, err
}

// ListPendingByInitiator returns live pending requests created by initiatorID.
func (s *Store) ListPendingByInitiator(ctx context.Context, initiatorID string, now time.Time) ([]request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	reqs, err := s.queryRequests(ctx, `SELECT `+requestColumns+` FROM connection_requests
		WHERE initiator_id = ? AND status = ? AND expires_at > ?
		ORDER BY created_at ASC, id ASC`,
		initiatorID, string(request.StatusPending), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list pending by initiator: %w", err)
	}
	return reqs, nil
}

// ListPendingByTargetEmail returns live pending email requests addressed to targetEmail.
func (s *Store) ListPendingByTargetEmail(ctx context.Context, targetEmail string, now time.Time) ([]request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	reqs, err := s.queryRequests(ctx, `SELECT `+requestColumns+` FROM connection_requests
		WHERE target_email = ? AND channel = ? AND status = ? AND expires_at > ?
		ORDER BY created_at ASC, id ASC`,
		targetEmail, string(request.ChannelEmail), string(request.StatusPending), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list pending by target: %w", err)
	}
	return reqs, nil
}

// CASUpdateStatus moves a pending request to a terminal status. Acceptance
// also claims the pair and both accounts; if either is taken the whole
// transition rolls back with storage.ErrPairExists.
func (s *Store) CASUpdateStatus(ctx context.Context, t storage.Transition) (request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return request.ConnectionRequest{}, err
	}
	if strings.TrimSpace(t.RequestID) == "" {
		return request.ConnectionRequest{}, fmt.Errorf("request id is required")
	}
	if !t.To.Terminal() {
		return request.ConnectionRequest{}, fmt.Errorf("transition target %q is not terminal", t.To)
	}
	accepting := t.To == request.StatusAccepted
	if accepting && strings.TrimSpace(t.CounterpartyID) == "" {
		return request.ConnectionRequest{}, fmt.Errorf("counterparty id is required for acceptance")
	}

	query := `UPDATE connection_requests
		SET status = ?, resolved_at = ?, counterparty_id = ?
		WHERE id = ? AND status = ?`
	args := []any{
		string(t.To),
		toMillis(t.At),
		nil,
		t.RequestID,
		string(request.StatusPending),
	}
	if accepting {
		args[2] = t.CounterpartyID
	}
	if t.RequireLive {
		query += ` AND expires_at > ?`
		args = append(args, toMillis(t.At))
	}
	if t.InitiatorID != "" {
		query += ` AND initiator_id = ?`
		args = append(args, t.InitiatorID)
	}
	query += ` RETURNING ` + requestColumns

	var updated request.ConnectionRequest
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		req, err := scanRequest(tx.QueryRowContext(ctx, s.q(query), args...))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrConflict
			}
			return fmt.Errorf("update status: %w", err)
		}
		if accepting {
			if err := s.claimPair(ctx, tx, req, t.At); err != nil {
				return err
			}
		}
		audit := t.Audit
		audit.RequestID = req.ID
		if err := s.appendAudit(ctx, tx, audit); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return request.ConnectionRequest{}, err
	}
	return updated, nil
}

// Reissue replaces the secrets and expiry of a pending request.
func (s *Store) Reissue(ctx context.Context, params storage.ReissueParams) (request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return request.ConnectionRequest{}, err
	}
	if params.TokenHash == "" && params.ShortCode == "" {
		return request.ConnectionRequest{}, fmt.Errorf("token hash or short code is required")
	}

	set := []string{"expires_at = ?"}
	args := []any{toMillis(params.ExpiresAt)}
	if params.TokenHash != "" {
		set = append(set, "token_hash = ?")
		args = append(args, params.TokenHash)
	}
	if params.ShortCode != "" {
		set = append(set, "short_code = ?")
		args = append(args, params.ShortCode)
	}
	args = append(args, params.RequestID, params.InitiatorID, string(request.StatusPending))
	query := `UPDATE connection_requests SET ` + strings.Join(set, ", ") + `
		WHERE id = ? AND initiator_id = ? AND status = ?
		RETURNING ` + requestColumns

	var updated request.ConnectionRequest
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		req, err := scanRequest(tx.QueryRowContext(ctx, s.q(query), args...))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrConflict
			}
			if s.dialect.IsUniqueViolation(err) {
				return storage.ErrDuplicate
			}
			return fmt.Errorf("reissue request: %w", err)
		}
		audit := params.Audit
		audit.RequestID = req.ID
		if err := s.appendAudit(ctx, tx, audit); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return request.ConnectionRequest{}, err
	}
	return updated, nil
}

// AttachRoom records roomID on an accepted request that has no room yet.
func (s *Store) AttachRoom(ctx context.Context, requestID, roomID string, audit request.AuditEntry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("room id is required")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.q(`UPDATE connection_requests SET room_id = ?
			WHERE id = ? AND status = ? AND room_id IS NULL`),
			roomID, requestID, string(request.StatusAccepted))
		if err != nil {
			return fmt.Errorf("attach room: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("attach room: %w", err)
		}
		if affected == 0 {
			return storage.ErrConflict
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE connection_pairs SET room_id = ?
			WHERE request_id = ? AND room_id IS NULL`), roomID, requestID); err != nil {
			return fmt.Errorf("attach pair room: %w", err)
		}
		audit.RequestID = requestID
		return s.appendAudit(ctx, tx, audit)
	})
}

// ExpireStalePending expires every pending request whose window closed at
// or before now and records one audit entry per request.
func (s *Store) ExpireStalePending(ctx context.Context, now time.Time, actorID string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var expired []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.q(`UPDATE connection_requests
			SET status = ?, resolved_at = ?
			WHERE status = ? AND expires_at <= ?
			RETURNING id`),
			string(request.StatusExpired),
			toMillis(now),
			string(request.StatusPending),
			toMillis(now),
		)
		if err != nil {
			return fmt.Errorf("expire stale: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("expire stale: %w", err)
			}
			expired = append(expired, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("expire stale: %w", err)
		}
		rows.Close()

		for _, id := range expired {
			if err := s.appendAudit(ctx, tx, request.AuditEntry{
				RequestID: id,
				Action:    request.ActionExpired,
				ActorID:   actorID,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// ListAcceptedWithoutRoom returns accepted requests still missing a room,
// oldest resolution first.
func (s *Store) ListAcceptedWithoutRoom(ctx context.Context, limit int) ([]request.ConnectionRequest, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	reqs, err := s.queryRequests(ctx, `SELECT `+requestColumns+` FROM connection_requests
		WHERE status = ? AND room_id IS NULL
		ORDER BY resolved_at ASC, id ASC LIMIT ?`,
		string(request.StatusAccepted), limit)
	if err != nil {
		return nil, fmt.Errorf("list roomless: %w", err)
	}
	return reqs, nil
}
