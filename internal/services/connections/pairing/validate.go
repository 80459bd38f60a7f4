package pairing

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/secret"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// IdentifierKind names what a caller presents: a token or a short code.
type IdentifierKind string

const (
	KindToken IdentifierKind = "token"
	KindCode  IdentifierKind = "code"
)

// Outcome is the result class of a validation.
type Outcome string

const (
	OutcomeValid           Outcome = "VALID"
	OutcomeNotFound        Outcome = "NOT_FOUND"
	OutcomeExpired         Outcome = "EXPIRED"
	OutcomeAlreadyResolved Outcome = "ALREADY_RESOLVED"
)

// Details is the caller-safe view of a request. It never carries hashes.
type Details struct {
	ID            string
	Channel       request.Channel
	Status        request.Status
	InitiatorID   string
	InitiatorName string
	TargetEmail   string
	ShortCode     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

func detailsOf(req request.ConnectionRequest) *Details {
	return &Details{
		ID:            req.ID,
		Channel:       req.Channel,
		Status:        req.Status,
		InitiatorID:   req.InitiatorID,
		InitiatorName: req.InitiatorName,
		TargetEmail:   req.TargetEmail,
		ShortCode:     req.ShortCode,
		CreatedAt:     req.CreatedAt,
		ExpiresAt:     req.ExpiresAt,
	}
}

// ValidationResult reports whether an identifier is usable.
type ValidationResult struct {
	Outcome Outcome
	// Status is the resolved status for ALREADY_RESOLVED and EXPIRED.
	Status  request.Status
	Details *Details
	// NeedsExpiry is set when the request is still stored as pending but
	// its window has passed; Accept performs the transition.
	NeedsExpiry bool

	req request.ConnectionRequest
}

// Err returns the protocol error for a non-VALID result.
func (r ValidationResult) Err() error {
	switch r.Outcome {
	case OutcomeValid:
		return nil
	case OutcomeExpired:
		return apperrors.New(apperrors.CodeRequestExpired, "request expired")
	case OutcomeAlreadyResolved:
		return resolvedError(r.Status)
	default:
		return apperrors.New(apperrors.CodeRequestNotFound, "request not found")
	}
}

// Validate reports whether identifier can be accepted. It never mutates.
func (s *Service) Validate(ctx context.Context, identifier string, kind IdentifierKind) (ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "pairing.Validate", trace.WithAttributes(attribute.String("pairing.kind", string(kind))))
	defer span.End()

	result, err := s.lookup(ctx, identifier, kind)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ValidationResult{}, err
	}
	span.SetAttributes(attribute.String("pairing.outcome", string(result.Outcome)))
	return result, nil
}

func (s *Service) lookup(ctx context.Context, identifier string, kind IdentifierKind) (ValidationResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ValidationResult{}, apperrors.New(apperrors.CodeIdentifierRequired, "token or code is required")
	}
	switch kind {
	case KindToken:
		return s.lookupToken(ctx, identifier)
	case KindCode:
		return s.lookupCode(ctx, identifier)
	default:
		return ValidationResult{}, apperrors.New(apperrors.CodeIdentifierKind, "identifier kind must be token or code")
	}
}

func (s *Service) lookupToken(ctx context.Context, token string) (ValidationResult, error) {
	hash := s.secrets.HashToken(token)
	pending, err := s.store.FindPendingByTokenHash(ctx, hash)
	if err == nil {
		return s.classifyPending(pending), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return ValidationResult{}, storageFault("find pending by token", err)
	}

	historical, err := s.store.FindByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ValidationResult{Outcome: OutcomeNotFound}, nil
		}
		return ValidationResult{}, storageFault("find token history", err)
	}
	return classifyResolved(historical), nil
}

func (s *Service) lookupCode(ctx context.Context, raw string) (ValidationResult, error) {
	code := normalizeCode(raw)
	if !secret.ValidCode(code) {
		return ValidationResult{Outcome: OutcomeNotFound}, nil
	}
	pending, err := s.store.FindPendingByCode(ctx, code)
	if err == nil {
		return s.classifyPending(pending), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return ValidationResult{}, storageFault("find pending by code", err)
	}

	// Codes are reused after resolution; history is only meaningful when
	// exactly one request ever held the code.
	history, err := s.store.FindByCode(ctx, code, 2)
	if err != nil {
		return ValidationResult{}, storageFault("find code history", err)
	}
	if len(history) != 1 {
		return ValidationResult{Outcome: OutcomeNotFound}, nil
	}
	return classifyResolved(history[0]), nil
}

func (s *Service) classifyPending(req request.ConnectionRequest) ValidationResult {
	if req.ExpiredAt(s.now()) {
		return ValidationResult{
			Outcome:     OutcomeExpired,
			Status:      request.StatusExpired,
			Details:     detailsOf(req),
			NeedsExpiry: true,
			req:         req,
		}
	}
	return ValidationResult{Outcome: OutcomeValid, Status: req.Status, Details: detailsOf(req), req: req}
}

func classifyResolved(req request.ConnectionRequest) ValidationResult {
	outcome := OutcomeAlreadyResolved
	if req.Status == request.StatusExpired {
		outcome = OutcomeExpired
	}
	return ValidationResult{Outcome: outcome, Status: req.Status, Details: detailsOf(req), req: req}
}

// normalizeCode upper-cases a code and restores the prefix if it was omitted.
func normalizeCode(raw string) string {
	code := request.NormalizeCode(raw)
	if !strings.HasPrefix(code, secret.CodePrefix) && len(code) == secret.CodeLength {
		code = secret.CodePrefix + code
	}
	return code
}
