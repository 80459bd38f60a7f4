// Package rooms is the local shared-room collaborator: one room per
// unordered account pair, with at most one welcome message per room.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liaizen/coparent/internal/platform/id"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// Room is a shared room for one account pair.
type Room struct {
	ID        string
	UserLow   string
	UserHigh  string
	Name      string
	CreatedAt time.Time
}

// Message is a system message posted into a room.
type Message struct {
	ID        string
	RoomID    string
	Kind      string
	Body      string
	CreatedAt time.Time
}

// KindWelcome marks the bootstrap welcome message.
const KindWelcome = "welcome"

// Store persists rooms and system messages.
type Store interface {
	// EnsureRoom inserts room unless its pair already has one and returns
	// the stored room either way.
	EnsureRoom(ctx context.Context, room Room) (Room, error)
	GetRoomByPair(ctx context.Context, userLow, userHigh string) (Room, error)
	// PutMessageOnce inserts msg unless the room already has one of its
	// kind; it reports whether a row was written.
	PutMessageOnce(ctx context.Context, msg Message) (bool, error)
}

// Service creates shared rooms idempotently.
type Service struct {
	store Store
	clock func() time.Time
	newID func() (string, error)
}

// NewService builds a room service over store.
func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now, newID: id.NewID}
}

// CreateSharedRoom returns the room for the unordered pair, creating it on
// first use.
func (s *Service) CreateSharedRoom(ctx context.Context, accountA, accountB, nameA, nameB string) (string, error) {
	if s == nil || s.store == nil {
		return "", fmt.Errorf("room store is not configured")
	}
	accountA = strings.TrimSpace(accountA)
	accountB = strings.TrimSpace(accountB)
	if accountA == "" || accountB == "" {
		return "", fmt.Errorf("both account ids are required")
	}
	if accountA == accountB {
		return "", fmt.Errorf("room members must differ")
	}
	low, high := storage.PairKey(accountA, accountB)
	existing, err := s.store.GetRoomByPair(ctx, low, high)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("lookup room: %w", err)
	}

	roomID, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	room, err := s.store.EnsureRoom(ctx, Room{
		ID:        roomID,
		UserLow:   low,
		UserHigh:  high,
		Name:      RoomName(nameA, nameB),
		CreatedAt: s.clock().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	return room.ID, nil
}

// PostWelcome posts the welcome message once per room.
func (s *Service) PostWelcome(ctx context.Context, roomID, body string) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("room store is not configured")
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	msgID, err := s.newID()
	if err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}
	if _, err := s.store.PutMessageOnce(ctx, Message{
		ID:        msgID,
		RoomID:    roomID,
		Kind:      KindWelcome,
		Body:      body,
		CreatedAt: s.clock().UTC(),
	}); err != nil {
		return fmt.Errorf("post welcome: %w", err)
	}
	return nil
}

// RoomName labels a room after both members.
func RoomName(nameA, nameB string) string {
	nameA = strings.TrimSpace(nameA)
	nameB = strings.TrimSpace(nameB)
	switch {
	case nameA == "" && nameB == "":
		return "Co-parenting"
	case nameA == "":
		return nameB
	case nameB == "":
		return nameA
	}
	return nameA + " & " + nameB
}
