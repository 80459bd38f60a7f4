package httpapi

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/platform/requestctx"
	"github.com/liaizen/coparent/internal/services/connections/identity"
)

const (
	headerRequestID   = "X-Request-ID"
	requestIDMaxLen   = 64
	callerIdentityKey = "caller_identity"
	bearerPrefix      = "Bearer "
)

// requestID reuses a caller-supplied X-Request-ID of sane length or mints one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(headerRequestID))
		if rid == "" || len(rid) > requestIDMaxLen {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)
		c.Request = c.Request.WithContext(requestctx.WithRequestID(c.Request.Context(), rid))
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := append(requestctx.Fields(c.Request.Context()),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Duration("latency", time.Since(start)),
		)
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()))
		}
		switch {
		case status >= 500:
			logger.Error("request failed", fields...)
		case status >= 400:
			logger.Warn("request rejected", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// authenticate verifies the bearer token and refreshes the identity
// projection with its claims.
func (h *handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			h.abort(c, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required"))
			return
		}
		caller, err := h.verifier.Verify(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeUnknown {
				err = apperrors.Wrap(apperrors.CodeUnauthenticated, "verify access token", err)
			}
			h.abort(c, err)
			return
		}
		ctx := requestctx.WithAccountID(c.Request.Context(), caller.AccountID)
		c.Request = c.Request.WithContext(ctx)
		if h.identities != nil {
			if err := h.identities.Observe(ctx, caller); err != nil {
				h.logger.Warn("observe identity", append(requestctx.Fields(ctx), zap.Error(err))...)
			}
		}
		c.Set(callerIdentityKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) identity.Identity {
	value, _ := c.Get(callerIdentityKey)
	caller, _ := value.(identity.Identity)
	return caller
}

func (h *handler) recovered(c *gin.Context, recovered any) {
	h.logger.Error("handler panic", append(requestctx.Fields(c.Request.Context()), zap.Any("panic", recovered))...)
	h.abort(c, apperrors.New(apperrors.CodeUnknown, "internal error"))
}
