package request

import "time"

// Action names a recorded transition or side effect.
type Action string

const (
	ActionCreated      Action = "created"
	ActionAccepted     Action = "accepted"
	ActionDeclined     Action = "declined"
	ActionCanceled     Action = "canceled"
	ActionExpired      Action = "expired"
	ActionSuperseded   Action = "superseded"
	ActionResent       Action = "resent"
	ActionRoomAttached Action = "room_attached"
	ActionRoomPending  Action = "room_pending"
)

// ActorSystem is recorded for transitions made by background jobs.
const ActorSystem = "system"

// Metadata keys written on audit entries.
const (
	MetaChannel        = "invite_type"
	MetaMutual         = "mutual_detection"
	MetaRoomID         = "room_id"
	MetaCounterpartyID = "counterparty_id"
	MetaReason         = "reason"
	MetaAttempts       = "attempts"
)

// AuditEntry is an append-only record of one action on a request.
type AuditEntry struct {
	ID        string
	RequestID string
	Action    Action
	ActorID   string
	CreatedAt time.Time
	Metadata  map[string]string
}
