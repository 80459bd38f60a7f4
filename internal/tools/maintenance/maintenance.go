// Package maintenance runs one-shot expiry and room repair passes against
// the connections store, for deployments that disable the in-process
// sweeper.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/liaizen/coparent/internal/platform/cmd"
	"github.com/liaizen/coparent/internal/platform/logging"
	server "github.com/liaizen/coparent/internal/services/connections/app"
	"github.com/liaizen/coparent/internal/services/connections/pairing"
)

// Config holds maintenance command configuration.
type Config struct {
	DB      server.DBConfig
	Timeout time.Duration `env:"COPARENT_MAINTENANCE_TIMEOUT" envDefault:"5m"`
	Logging logging.Config

	Sweep       bool
	Repair      bool
	DryRun      bool
	RepairLimit int
	JSONOutput  bool
}

// ParseConfig loads env defaults and then parses flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{RepairLimit: 100}
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.DB.Driver, "db-driver", cfg.DB.Driver, "database driver (sqlite or postgres)")
	fs.StringVar(&cfg.DB.Path, "db-path", cfg.DB.Path, "path to the sqlite database")
	fs.BoolVar(&cfg.Sweep, "sweep", false, "expire pending requests past their window")
	fs.BoolVar(&cfg.Repair, "repair", false, "attach rooms to accepted pairings that lack one")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "with -repair, list roomless pairings without creating rooms")
	fs.IntVar(&cfg.RepairLimit, "repair-limit", cfg.RepairLimit, "max pairings to repair or list")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output a JSON report")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Report is the outcome of one maintenance run.
type Report struct {
	Expired  []string              `json:"expired,omitempty"`
	Repair   *pairing.RepairReport `json:"repair,omitempty"`
	Roomless []string              `json:"roomless,omitempty"`
	DryRun   bool                  `json:"dry_run"`
}

func (c Config) validate() error {
	if !c.Sweep && !c.Repair {
		return errors.New("nothing to do: pass -sweep and/or -repair")
	}
	if c.DryRun && c.Sweep {
		return errors.New("-dry-run cannot be combined with -sweep")
	}
	if c.Repair && c.RepairLimit <= 0 {
		return errors.New("-repair-limit must be > 0")
	}
	return nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := d.close(); closeErr != nil && errOut != nil {
			fmt.Fprintf(errOut, "Error: %v\n", closeErr)
		}
	}()
	return runWithDeps(ctx, cfg, d, out, logger)
}

func runWithDeps(ctx context.Context, cfg Config, d deps, out io.Writer, logger *zap.Logger) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if out == nil {
		out = io.Discard
	}
	logger = logging.OrNop(logger)

	report := Report{DryRun: cfg.DryRun}
	if cfg.Sweep {
		expired, err := d.passes.SweepOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		report.Expired = expired
	}
	if cfg.Repair && cfg.DryRun {
		roomless, err := d.roomless.ListAcceptedWithoutRoom(ctx, cfg.RepairLimit)
		if err != nil {
			return fmt.Errorf("list roomless pairings: %w", err)
		}
		for _, req := range roomless {
			report.Roomless = append(report.Roomless, req.ID)
		}
	} else if cfg.Repair {
		repaired, err := d.passes.RepairOnce(ctx)
		if err != nil {
			return fmt.Errorf("repair: %w", err)
		}
		report.Repair = &repaired
	}
	logger.Info("maintenance finished",
		zap.Int("expired", len(report.Expired)),
		zap.Int("roomless", len(report.Roomless)),
		zap.Bool("dry_run", report.DryRun),
	)
	return writeReport(out, report, cfg)
}

func writeReport(out io.Writer, report Report, cfg Config) error {
	if cfg.JSONOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	if cfg.Sweep {
		fmt.Fprintf(out, "Expired %d stale request(s)\n", len(report.Expired))
		for _, id := range report.Expired {
			fmt.Fprintf(out, "  %s\n", id)
		}
	}
	if report.Repair != nil {
		fmt.Fprintf(out, "Repair: checked=%d attached=%d failed=%d\n",
			report.Repair.Checked, report.Repair.Attached, report.Repair.Failed)
	}
	if cfg.Repair && cfg.DryRun {
		fmt.Fprintf(out, "Dry run: %d pairing(s) without a room\n", len(report.Roomless))
		for _, id := range report.Roomless {
			fmt.Fprintf(out, "  %s\n", id)
		}
	}
	return nil
}
