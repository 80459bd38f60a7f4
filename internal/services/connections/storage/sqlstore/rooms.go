package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/liaizen/coparent/internal/services/connections/rooms"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// EnsureRoom inserts room unless its pair already has one, then returns the
// stored room.
func (s *Store) EnsureRoom(ctx context.Context, room rooms.Room) (rooms.Room, error) {
	if err := s.ready(ctx); err != nil {
		return rooms.Room{}, err
	}
	if room.ID == "" || room.UserLow == "" || room.UserHigh == "" {
		return rooms.Room{}, fmt.Errorf("room id and members are required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, s.q(`INSERT INTO rooms (id, user_low, user_high, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		room.ID, room.UserLow, room.UserHigh, room.Name, toMillis(room.CreatedAt),
	); err != nil {
		return rooms.Room{}, fmt.Errorf("insert room: %w", err)
	}
	return s.GetRoomByPair(ctx, room.UserLow, room.UserHigh)
}

// GetRoomByPair returns the room of an ordered pair.
func (s *Store) GetRoomByPair(ctx context.Context, userLow, userHigh string) (rooms.Room, error) {
	if err := s.ready(ctx); err != nil {
		return rooms.Room{}, err
	}
	var (
		room      rooms.Room
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, s.q(`SELECT id, user_low, user_high, name, created_at
		FROM rooms WHERE user_low = ? AND user_high = ?`), userLow, userHigh,
	).Scan(&room.ID, &room.UserLow, &room.UserHigh, &room.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rooms.Room{}, storage.ErrNotFound
		}
		return rooms.Room{}, fmt.Errorf("get room: %w", err)
	}
	room.CreatedAt = fromMillis(createdAt)
	return room, nil
}

// PutMessageOnce stores msg unless the room already holds a message of the
// same singleton kind.
func (s *Store) PutMessageOnce(ctx context.Context, msg rooms.Message) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx, s.q(`INSERT INTO room_messages (id, room_id, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		msg.ID, msg.RoomID, msg.Kind, msg.Body, toMillis(msg.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("put message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put message: %w", err)
	}
	return affected > 0, nil
}
