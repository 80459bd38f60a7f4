// Package httpapi exposes the connection protocol as a JSON API.
package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liaizen/coparent/internal/platform/logging"
	"github.com/liaizen/coparent/internal/platform/timeouts"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/pairing"
	"github.com/liaizen/coparent/internal/services/connections/request"
)

// Pairing is the protocol surface the handlers call.
type Pairing interface {
	Create(ctx context.Context, in pairing.CreateInput) (pairing.CreateResult, error)
	Validate(ctx context.Context, identifier string, kind pairing.IdentifierKind) (pairing.ValidationResult, error)
	Accept(ctx context.Context, identifier string, kind pairing.IdentifierKind, accepter identity.Identity) (pairing.AcceptResult, error)
	Decline(ctx context.Context, requestID string, proof pairing.Proof, decliner identity.Identity) (request.ConnectionRequest, error)
	Cancel(ctx context.Context, requestID string, actorID string) (request.ConnectionRequest, error)
	Resend(ctx context.Context, requestID string, actorID string) (pairing.ResendResult, error)
	Status(ctx context.Context, caller identity.Identity) (pairing.StatusView, error)
	History(ctx context.Context, requestID string, actorID string) ([]request.AuditEntry, error)
}

// Verifier turns a bearer token into the caller identity.
type Verifier interface {
	Verify(raw string) (identity.Identity, error)
}

// IdentityObserver records the claims of authenticated callers.
type IdentityObserver interface {
	Observe(ctx context.Context, identity identity.Identity) error
}

// Config wires the router.
type Config struct {
	Pairing    Pairing
	Verifier   Verifier
	Identities IdentityObserver
	// Health reports storage readiness for /healthz.
	Health         func(ctx context.Context) error
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

type handler struct {
	pairing    Pairing
	verifier   Verifier
	identities IdentityObserver
	health     func(ctx context.Context) error
	logger     *zap.Logger
}

// NewRouter builds the gin engine serving the connections API.
func NewRouter(cfg Config) (*gin.Engine, error) {
	if cfg.Pairing == nil {
		return nil, errors.New("pairing service is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("access token verifier is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = timeouts.Request
	}
	logger := logging.OrNop(cfg.Logger).Named("http")
	h := &handler{
		pairing:    cfg.Pairing,
		verifier:   cfg.Verifier,
		identities: cfg.Identities,
		health:     cfg.Health,
		logger:     logger,
	}

	router := gin.New()
	router.Use(requestID(), accessLog(logger), gin.CustomRecovery(h.recovered), requestTimeout(cfg.RequestTimeout))
	router.GET("/healthz", h.healthz)

	v1 := router.Group("/v1")
	v1.GET("/requests/validate", h.validate)

	authed := v1.Group("")
	authed.Use(h.authenticate())
	authed.POST("/requests", h.create)
	authed.POST("/requests/accept", h.accept)
	authed.POST("/requests/:id/decline", h.decline)
	authed.POST("/requests/:id/cancel", h.cancel)
	authed.POST("/requests/:id/resend", h.resend)
	authed.GET("/requests/:id/audit", h.audit)
	authed.GET("/status", h.status)
	return router, nil
}
