// Package errors provides structured protocol errors with localized user messages.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

// Kind groups codes into the outcome classes callers branch on.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindExpired         Kind = "expired"
	KindConflict        Kind = "conflict"
	KindDownstream      Kind = "downstream"
	KindUnauthenticated Kind = "unauthenticated"
	KindInternal        Kind = "internal"
)

const (
	// CodeUnknown represents an unclassified failure.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInitiatorRequired   Code = "REQUEST_INITIATOR_REQUIRED"
	CodeActorRequired       Code = "REQUEST_ACTOR_REQUIRED"
	CodeChannelInvalid      Code = "REQUEST_CHANNEL_INVALID"
	CodeTargetEmailRequired Code = "REQUEST_TARGET_EMAIL_REQUIRED"
	CodeTargetEmailInvalid  Code = "REQUEST_TARGET_EMAIL_INVALID"
	CodeIdentifierRequired  Code = "REQUEST_IDENTIFIER_REQUIRED"
	CodeIdentifierKind      Code = "REQUEST_IDENTIFIER_KIND_INVALID"
	CodeRequestIDRequired   Code = "REQUEST_ID_REQUIRED"
	CodeBodyInvalid         Code = "REQUEST_BODY_INVALID"

	// Lookup errors
	CodeRequestNotFound Code = "REQUEST_NOT_FOUND"
	CodeRequestExpired  Code = "REQUEST_EXPIRED"

	// State conflicts
	CodeAlreadyResolved   Code = "REQUEST_ALREADY_RESOLVED"
	CodeSelfAccept        Code = "REQUEST_SELF_ACCEPT"
	CodeSelfInvite        Code = "REQUEST_SELF_INVITE"
	CodeSelfDecline       Code = "REQUEST_SELF_DECLINE"
	CodeDuplicatePending  Code = "REQUEST_DUPLICATE_PENDING"
	CodeRecipientMismatch Code = "REQUEST_RECIPIENT_MISMATCH"
	CodeAlreadyConnected  Code = "ALREADY_CONNECTED"

	// Collaborator and infrastructure faults
	CodeRoomUnavailable    Code = "ROOM_UNAVAILABLE"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// Transport
	CodeUnauthenticated Code = "UNAUTHENTICATED"
)

// Kind classifies the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeInitiatorRequired,
		CodeActorRequired,
		CodeChannelInvalid,
		CodeTargetEmailRequired,
		CodeTargetEmailInvalid,
		CodeIdentifierRequired,
		CodeIdentifierKind,
		CodeRequestIDRequired,
		CodeBodyInvalid:
		return KindValidation
	case CodeRequestNotFound:
		return KindNotFound
	case CodeRequestExpired:
		return KindExpired
	case CodeAlreadyResolved,
		CodeSelfAccept,
		CodeSelfInvite,
		CodeSelfDecline,
		CodeDuplicatePending,
		CodeRecipientMismatch,
		CodeAlreadyConnected:
		return KindConflict
	case CodeRoomUnavailable, CodeStorageUnavailable:
		return KindDownstream
	case CodeUnauthenticated:
		return KindUnauthenticated
	default:
		return KindInternal
	}
}

// HTTPStatus maps the code onto the status the API answers with. Expected
// protocol outcomes are 4xx; only infrastructure faults are 5xx.
func (c Code) HTTPStatus() int {
	switch c.Kind() {
	case KindValidation, KindNotFound, KindConflict:
		return http.StatusBadRequest
	case KindExpired:
		return http.StatusGone
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindDownstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
