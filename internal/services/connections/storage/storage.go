// Package storage defines persistence contracts for connection requests,
// their audit trail, established pairs and the contacts they bootstrap.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liaizen/coparent/internal/services/connections/request"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a conditional write matched no row.
	ErrConflict = errors.New("conditional write matched no rows")
	// ErrDuplicate indicates a unique token, code or pending-code slot is taken.
	ErrDuplicate = errors.New("duplicate pending secret")
	// ErrPairExists indicates one of the accounts is already paired.
	ErrPairExists = errors.New("pair already exists")
	// ErrPendingExists indicates the initiator already holds a live pending
	// request on a single-pending channel.
	ErrPendingExists = errors.New("pending request exists on channel")
)

// PendingExistsError names the live request that blocked an insert.
type PendingExistsError struct {
	RequestID string
}

func (e *PendingExistsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPendingExists, e.RequestID)
}

// Is matches ErrPendingExists.
func (e *PendingExistsError) Is(target error) bool {
	return target == ErrPendingExists
}

// Pair is one established co-parent pairing.
type Pair struct {
	UserLow   string
	UserHigh  string
	RequestID string
	RoomID    string
	CreatedAt time.Time
}

// Other returns the pair member that is not accountID.
func (p Pair) Other(accountID string) string {
	if p.UserLow == accountID {
		return p.UserHigh
	}
	return p.UserLow
}

// PairKey orders two account ids into (low, high).
func PairKey(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// InsertParams creates one pending request.
type InsertParams struct {
	Request request.ConnectionRequest
	Audit   request.AuditEntry
	// SupersedeChannel, when set, expires the initiator's other pending
	// requests on that channel in the same transaction.
	SupersedeChannel request.Channel
}

// Transition moves a pending request to a terminal status.
type Transition struct {
	RequestID string
	To        request.Status
	// CounterpartyID is required when To is accepted.
	CounterpartyID string
	At             time.Time
	// RequireLive adds expires_at > At to the guard.
	RequireLive bool
	// InitiatorID, when set, restricts the write to that initiator.
	InitiatorID string
	Audit       request.AuditEntry
}

// ReissueParams replaces the secrets of a pending request.
type ReissueParams struct {
	RequestID   string
	InitiatorID string
	TokenHash   string
	ShortCode   string
	ExpiresAt   time.Time
	Audit       request.AuditEntry
}

// RequestStore persists connection requests and their audit trail. Every
// status change is a conditional write guarded by status = pending.
type RequestStore interface {
	// InsertRequest stores a pending request and returns the ids it superseded.
	// On single-pending channels it first expires the initiator's stale rows
	// on that channel and fails with *PendingExistsError when a live one
	// remains, including one committed concurrently.
	InsertRequest(ctx context.Context, params InsertParams) ([]string, error)
	GetRequest(ctx context.Context, id string) (request.ConnectionRequest, error)
	FindPendingByTokenHash(ctx context.Context, tokenHash string) (request.ConnectionRequest, error)
	FindPendingByCode(ctx context.Context, code string) (request.ConnectionRequest, error)
	// FindByTokenHash returns the most recent request of any status.
	FindByTokenHash(ctx context.Context, tokenHash string) (request.ConnectionRequest, error)
	// FindByCode returns up to limit requests of any status, newest first.
	FindByCode(ctx context.Context, code string, limit int) ([]request.ConnectionRequest, error)
	// FindPendingByInitiatorAndTargetEmail returns a live pending email
	// request from initiatorEmail addressed to targetEmail.
	FindPendingByInitiatorAndTargetEmail(ctx context.Context, initiatorEmail, targetEmail string, now time.Time) (request.ConnectionRequest, error)
	ListPendingByInitiator(ctx context.Context, initiatorID string, now time.Time) ([]request.ConnectionRequest, error)
	ListPendingByTargetEmail(ctx context.Context, targetEmail string, now time.Time) ([]request.ConnectionRequest, error)
	// CASUpdateStatus applies the transition, records its audit entry and,
	// for acceptance, claims the pair in one transaction.
	CASUpdateStatus(ctx context.Context, transition Transition) (request.ConnectionRequest, error)
	Reissue(ctx context.Context, params ReissueParams) (request.ConnectionRequest, error)
	// AttachRoom sets room_id on an accepted, roomless request and its pair.
	AttachRoom(ctx context.Context, requestID, roomID string, audit request.AuditEntry) error
	// ExpireStalePending expires every pending request with expires_at <= now.
	ExpireStalePending(ctx context.Context, now time.Time, actorID string) ([]string, error)
	ListAcceptedWithoutRoom(ctx context.Context, limit int) ([]request.ConnectionRequest, error)
	AppendAudit(ctx context.Context, entry request.AuditEntry) error
	ListAudit(ctx context.Context, requestID string) ([]request.AuditEntry, error)
}

// PairStore reads established pairings.
type PairStore interface {
	GetPairForAccount(ctx context.Context, accountID string) (Pair, error)
	GetPair(ctx context.Context, accountA, accountB string) (Pair, error)
}

// RelationshipCoParent labels contacts created by a pairing.
const RelationshipCoParent = "co-parent"

// Contact stores one owner-scoped directed contact relationship.
type Contact struct {
	OwnerUserID   string
	ContactUserID string
	Relationship  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ContactStore persists owner-scoped directed contact relationships.
type ContactStore interface {
	PutContact(ctx context.Context, contact Contact) error
	GetContact(ctx context.Context, ownerUserID string, contactUserID string) (Contact, error)
}
