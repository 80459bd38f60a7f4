// Package server wires the connections runtime: the HTTP API, the gRPC
// health endpoint and the sweeper share one store and one lifecycle.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"

	platformgrpc "github.com/liaizen/coparent/internal/platform/grpc"
	"github.com/liaizen/coparent/internal/platform/lock"
	"github.com/liaizen/coparent/internal/platform/logging"
	"github.com/liaizen/coparent/internal/platform/timeouts"
	httpapi "github.com/liaizen/coparent/internal/services/connections/api/http"
	"github.com/liaizen/coparent/internal/services/connections/auth"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/notify"
	"github.com/liaizen/coparent/internal/services/connections/pairing"
	"github.com/liaizen/coparent/internal/services/connections/rooms"
	"github.com/liaizen/coparent/internal/services/connections/secret"
	"github.com/liaizen/coparent/internal/services/connections/storage/sqlstore"
	"github.com/liaizen/coparent/internal/services/connections/sweeper"
)

// HealthService is the gRPC health entry for this runtime.
const HealthService = "coparent.connections"

// Config is the full runtime configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	DB       DBConfig

	// TokenPepper is the base64 HMAC key for token hashes.
	TokenPepper       string
	AccessTokenSecret string
	AccessIssuer      string
	AccessAudience    string
	InviteBaseURL     string

	Windows        pairing.Windows
	RoomRetry      pairing.RetryPolicy
	SweepInterval  time.Duration
	RepairInterval time.Duration
	// DisableSweeper leaves expiry to read time and external maintenance.
	DisableSweeper bool

	Redis lock.RedisConfig
	SMTP  notify.SMTPConfig

	Logger *zap.Logger
}

// Server hosts the connections runtime.
type Server struct {
	httpListener net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	health       *platformgrpc.HealthServer
	store        *sqlstore.Store
	sweeper      *sweeper.Sweeper
	redis        *goredis.Client
	logger       *zap.Logger
}

// New opens storage and builds every component.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.OrNop(cfg.Logger)
	pepper, err := decodePepper(cfg.TokenPepper)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   []byte(cfg.AccessTokenSecret),
		Issuer:   cfg.AccessIssuer,
		Audience: cfg.AccessAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	srv := &Server{store: store, logger: logger}
	fail := func(err error) (*Server, error) {
		srv.Close()
		return nil, err
	}

	identities := identity.NewResolver(store)
	var notifier pairing.Notifier = notify.NewLogNotifier(logger)
	if cfg.SMTP.Enabled() {
		mailer, err := notify.NewSMTPNotifier(cfg.SMTP, identities)
		if err != nil {
			return fail(err)
		}
		notifier = notify.Multi{notifier, mailer}
	}

	pairingService, err := pairing.New(pairing.Config{
		Store:         store,
		Contacts:      store,
		Rooms:         rooms.NewService(store),
		Notifier:      notifier,
		Identities:    identities,
		Secrets:       secret.NewGenerator(pepper),
		Windows:       cfg.Windows,
		RoomRetry:     cfg.RoomRetry,
		InviteBaseURL: cfg.InviteBaseURL,
		Logger:        logger,
	})
	if err != nil {
		return fail(err)
	}

	if !cfg.DisableSweeper {
		var locker lock.Locker = lock.NewLocal()
		if strings.TrimSpace(cfg.Redis.Addr) != "" {
			srv.redis, err = lock.DialRedis(ctx, cfg.Redis)
			if err != nil {
				return fail(err)
			}
			locker = lock.NewRedis(srv.redis, "")
		}
		srv.sweeper, err = sweeper.New(sweeper.Config{
			Store:          store,
			Repairer:       pairingService,
			Locker:         locker,
			SweepInterval:  cfg.SweepInterval,
			RepairInterval: cfg.RepairInterval,
			Logger:         logger,
		})
		if err != nil {
			return fail(err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := httpapi.NewRouter(httpapi.Config{
		Pairing:    pairingService,
		Verifier:   verifier,
		Identities: identities,
		Health:     store.Ping,
		Logger:     logger,
	})
	if err != nil {
		return fail(err)
	}

	if srv.httpListener, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		return fail(fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err))
	}
	if srv.grpcListener, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		return fail(fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err))
	}
	srv.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	srv.health = platformgrpc.NewHealthServer(HealthService)
	return srv, nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC health address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run builds a server and serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the HTTP API, the health endpoint and the sweeper until ctx is
// canceled or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("http listening", zap.String("addr", s.HTTPAddr()))
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		s.logger.Info("grpc health listening", zap.String("addr", s.GRPCAddr()))
		if err := s.health.Server.Serve(s.grpcListener); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	if s.sweeper != nil {
		group.Go(func() error {
			return s.sweeper.Run(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		s.health.Health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.health.Server.GracefulStop()
		if err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})

	s.health.MarkServing(HealthService)
	return group.Wait()
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Health.Shutdown()
		s.health.Server.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("close redis", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close connections store", zap.Error(err))
		}
	}
}

func decodePepper(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	pepper, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode token pepper: %w", err)
	}
	return pepper, nil
}
