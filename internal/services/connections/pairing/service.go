// Package pairing implements the connection establishment protocol: issuing
// invitations, validating them, detecting mutual invitations and turning one
// pending request into exactly one accepted pairing with one shared room.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/platform/id"
	"github.com/liaizen/coparent/internal/platform/logging"
	platformotel "github.com/liaizen/coparent/internal/platform/otel"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/secret"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// maxSecretAttempts bounds code/token regeneration on collision.
const maxSecretAttempts = 10

// Store is the persistence the protocol needs.
type Store interface {
	storage.RequestStore
	storage.PairStore
}

// RoomCreator creates the shared room for a pair. CreateSharedRoom must be
// idempotent per unordered pair and PostWelcome per room.
type RoomCreator interface {
	CreateSharedRoom(ctx context.Context, accountA, accountB, nameA, nameB string) (string, error)
	PostWelcome(ctx context.Context, roomID, body string) error
}

// Notifier delivers best-effort notices.
type Notifier interface {
	SendInvite(ctx context.Context, targetEmail, inviterName, link string) error
	NotifyAccepted(ctx context.Context, initiatorID, accepterName string) error
	NotifyDeclined(ctx context.Context, initiatorID string) error
}

// IdentityResolver resolves account display data.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, accountID string) (identity.Identity, error)
}

// Windows are the validity periods per channel.
type Windows struct {
	Email time.Duration
	Link  time.Duration
	Code  time.Duration
}

// DefaultWindows returns 7 days for email and link and 15 minutes for codes.
func DefaultWindows() Windows {
	return Windows{
		Email: 7 * 24 * time.Hour,
		Link:  7 * 24 * time.Hour,
		Code:  15 * time.Minute,
	}
}

func (w Windows) forChannel(channel request.Channel) time.Duration {
	switch channel {
	case request.ChannelEmail:
		return w.Email
	case request.ChannelLink:
		return w.Link
	default:
		return w.Code
	}
}

// RetryPolicy bounds room creation retries after a committed acceptance.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy tries four times starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 4, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

// Config wires the service collaborators.
type Config struct {
	Store      Store
	Contacts   storage.ContactStore
	Rooms      RoomCreator
	Notifier   Notifier
	Identities IdentityResolver
	Secrets    *secret.Generator
	Windows    Windows
	RoomRetry  RetryPolicy
	// InviteBaseURL is the accept page; tokens are appended as ?token=.
	InviteBaseURL string
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service runs the protocol.
type Service struct {
	store         Store
	contacts      storage.ContactStore
	rooms         RoomCreator
	notifier      Notifier
	identities    IdentityResolver
	secrets       *secret.Generator
	windows       Windows
	retry         RetryPolicy
	inviteBaseURL string
	clock         func() time.Time
	newID         func() (string, error)
	logger        *zap.Logger
	tracer        trace.Tracer
}

// New validates cfg and builds a service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("request store is required")
	}
	if cfg.Rooms == nil {
		return nil, errors.New("room creator is required")
	}
	if cfg.Contacts == nil {
		return nil, errors.New("contact store is required")
	}
	if cfg.Secrets == nil {
		cfg.Secrets = secret.NewGenerator(nil)
	}
	defaults := DefaultWindows()
	if cfg.Windows.Email <= 0 {
		cfg.Windows.Email = defaults.Email
	}
	if cfg.Windows.Link <= 0 {
		cfg.Windows.Link = defaults.Link
	}
	if cfg.Windows.Code <= 0 {
		cfg.Windows.Code = defaults.Code
	}
	if cfg.RoomRetry.MaxTries == 0 {
		cfg.RoomRetry = DefaultRetryPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.InviteBaseURL != "" {
		if _, err := url.Parse(cfg.InviteBaseURL); err != nil {
			return nil, fmt.Errorf("parse invite base url: %w", err)
		}
	}
	logger := logging.OrNop(cfg.Logger).Named("pairing")
	return &Service{
		store:         cfg.Store,
		contacts:      cfg.Contacts,
		rooms:         cfg.Rooms,
		notifier:      cfg.Notifier,
		identities:    cfg.Identities,
		secrets:       cfg.Secrets,
		windows:       cfg.Windows,
		retry:         cfg.RoomRetry,
		inviteBaseURL: strings.TrimSpace(cfg.InviteBaseURL),
		clock:         cfg.Clock,
		newID:         id.NewID,
		logger:        logger,
		tracer:        platformotel.Tracer(),
	}, nil
}

// now is truncated to the storage resolution so read-time expiry checks
// agree with what was persisted.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func (s *Service) inviteLink(token string) string {
	if token == "" {
		return ""
	}
	if s.inviteBaseURL == "" {
		return token
	}
	base, err := url.Parse(s.inviteBaseURL)
	if err != nil {
		return token
	}
	query := base.Query()
	query.Set("token", token)
	base.RawQuery = query.Encode()
	return base.String()
}

func (s *Service) resolveName(ctx context.Context, accountID string) string {
	if s.identities == nil || accountID == "" {
		return accountID
	}
	ident, err := s.identities.ResolveIdentity(ctx, accountID)
	if err != nil {
		s.logger.Debug("resolve identity", zap.String("account_id", accountID), zap.Error(err))
		return accountID
	}
	return ident.Name()
}

func storageFault(message string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorageUnavailable, message, err)
}

func resolvedError(status request.Status) error {
	if status == request.StatusExpired {
		return apperrors.New(apperrors.CodeRequestExpired, "request expired")
	}
	return apperrors.WithMetadata(
		apperrors.CodeAlreadyResolved,
		"request already resolved",
		map[string]string{"Status": string(status)},
	)
}
