// Package connections parses connections service flags and launches the service.
package connections

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/liaizen/coparent/internal/platform/cmd"
	"github.com/liaizen/coparent/internal/platform/lock"
	"github.com/liaizen/coparent/internal/platform/logging"
	server "github.com/liaizen/coparent/internal/services/connections/app"
	"github.com/liaizen/coparent/internal/services/connections/notify"
	"github.com/liaizen/coparent/internal/services/connections/pairing"
)

// Config holds connections command configuration.
type Config struct {
	HTTPPort int `env:"COPARENT_CONNECTIONS_HTTP_PORT" envDefault:"8095"`
	GRPCPort int `env:"COPARENT_CONNECTIONS_GRPC_PORT" envDefault:"8096"`

	DB server.DBConfig

	TokenPepper       string `env:"COPARENT_TOKEN_PEPPER"`
	AccessTokenSecret string `env:"COPARENT_ACCESS_TOKEN_SECRET"`
	AccessIssuer      string `env:"COPARENT_ACCESS_TOKEN_ISSUER"`
	AccessAudience    string `env:"COPARENT_ACCESS_TOKEN_AUDIENCE"`
	InviteBaseURL     string `env:"COPARENT_INVITE_BASE_URL" envDefault:"http://localhost:8080/accept"`

	EmailTTL time.Duration `env:"COPARENT_EMAIL_TTL" envDefault:"168h"`
	LinkTTL  time.Duration `env:"COPARENT_LINK_TTL" envDefault:"168h"`
	CodeTTL  time.Duration `env:"COPARENT_CODE_TTL" envDefault:"15m"`

	SweepInterval  time.Duration `env:"COPARENT_SWEEP_INTERVAL" envDefault:"1m"`
	RepairInterval time.Duration `env:"COPARENT_REPAIR_INTERVAL" envDefault:"5m"`
	DisableSweeper bool          `env:"COPARENT_DISABLE_SWEEPER"`

	Redis   lock.RedisConfig
	SMTP    notify.SMTPConfig
	Logging logging.Config
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The connections HTTP API port")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The connections gRPC health port")
	fs.StringVar(&cfg.DB.Driver, "db-driver", cfg.DB.Driver, "Database driver (sqlite or postgres)")
	fs.StringVar(&cfg.DB.Path, "db-path", cfg.DB.Path, "SQLite database path")
	fs.StringVar(&cfg.InviteBaseURL, "invite-base-url", cfg.InviteBaseURL, "Accept page that invite tokens are appended to")
	fs.BoolVar(&cfg.DisableSweeper, "disable-sweeper", cfg.DisableSweeper, "Skip the in-process expiry and repair loop")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the connections HTTP API, health endpoint and sweeper.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", entrypoint.ServiceConnections))

	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceConnections, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		return server.Run(ctx, cfg.serverConfig(logger))
	})
}

func (c Config) serverConfig(logger *zap.Logger) server.Config {
	return server.Config{
		HTTPAddr:          fmt.Sprintf(":%d", c.HTTPPort),
		GRPCAddr:          fmt.Sprintf(":%d", c.GRPCPort),
		DB:                c.DB,
		TokenPepper:       c.TokenPepper,
		AccessTokenSecret: c.AccessTokenSecret,
		AccessIssuer:      c.AccessIssuer,
		AccessAudience:    c.AccessAudience,
		InviteBaseURL:     c.InviteBaseURL,
		Windows:           pairing.Windows{Email: c.EmailTTL, Link: c.LinkTTL, Code: c.CodeTTL},
		SweepInterval:     c.SweepInterval,
		RepairInterval:    c.RepairInterval,
		DisableSweeper:    c.DisableSweeper,
		Redis:             c.Redis,
		SMTP:              c.SMTP,
		Logger:            logger,
	}
}
