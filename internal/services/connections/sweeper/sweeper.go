// Package sweeper expires stale pending requests and repairs pairings whose
// room creation was exhausted. Each pass has its own lease, held by one
// process at a time for at most the pass interval.
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/liaizen/coparent/internal/platform/lock"
	"github.com/liaizen/coparent/internal/platform/logging"
	"github.com/liaizen/coparent/internal/platform/timeouts"
	"github.com/liaizen/coparent/internal/services/connections/pairing"
	"github.com/liaizen/coparent/internal/services/connections/request"
)

const (
	defaultSweepInterval  = time.Minute
	defaultRepairInterval = 5 * time.Minute
	defaultRepairBatch    = 100
	sweepLease            = "connections-sweeper"
	repairLease           = "connections-repair"
)

// Expirer bulk-expires pending requests past their window.
type Expirer interface {
	ExpireStalePending(ctx context.Context, now time.Time, actorID string) ([]string, error)
}

// Repairer attaches rooms to accepted pairings that lack one.
type Repairer interface {
	RepairRooms(ctx context.Context, limit int) (pairing.RepairReport, error)
}

// Config controls the sweep and repair loops.
type Config struct {
	Store          Expirer
	Repairer       Repairer
	Locker         lock.Locker
	SweepInterval  time.Duration
	RepairInterval time.Duration
	RepairBatch    int
	Clock          func() time.Time
	Logger         *zap.Logger
}

func (c Config) normalized() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.RepairInterval <= 0 {
		c.RepairInterval = defaultRepairInterval
	}
	if c.RepairBatch <= 0 {
		c.RepairBatch = defaultRepairBatch
	}
	if c.Locker == nil {
		c.Locker = lock.NewLocal()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Sweeper runs the periodic maintenance passes.
type Sweeper struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a sweeper.
func New(cfg Config) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, errors.New("sweeper store is required")
	}
	cfg = cfg.normalized()
	return &Sweeper{cfg: cfg, logger: logging.OrNop(cfg.Logger).Named("sweeper")}, nil
}

// SweepOnce expires every pending request whose window has closed.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]string, error) {
	now := s.cfg.Clock().UTC().Truncate(time.Millisecond)
	expired, err := s.cfg.Store.ExpireStalePending(ctx, now, request.ActorSystem)
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		s.logger.Info("expired stale requests", zap.Int("count", len(expired)))
	}
	return expired, nil
}

// RepairOnce runs one room repair pass. It is a no-op without a repairer.
func (s *Sweeper) RepairOnce(ctx context.Context) (pairing.RepairReport, error) {
	if s.cfg.Repairer == nil {
		return pairing.RepairReport{}, nil
	}
	report, err := s.cfg.Repairer.RepairRooms(ctx, s.cfg.RepairBatch)
	if err != nil {
		return report, err
	}
	if report.Checked > 0 {
		s.logger.Info("repaired rooms",
			zap.Int("checked", report.Checked),
			zap.Int("attached", report.Attached),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// Run sweeps and repairs on their intervals until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	repair := time.NewTicker(s.cfg.RepairInterval)
	defer repair.Stop()

	s.runSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			s.runSweep(ctx)
		case <-repair.C:
			s.runRepair(ctx)
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	s.guarded(ctx, "sweep", sweepLease, s.cfg.SweepInterval, s.sweep)
}

func (s *Sweeper) runRepair(ctx context.Context) {
	s.guarded(ctx, "repair", repairLease, s.cfg.RepairInterval, s.repair)
}

func (s *Sweeper) sweep(ctx context.Context) error {
	_, err := s.SweepOnce(ctx)
	return err
}

func (s *Sweeper) repair(ctx context.Context) error {
	_, err := s.RepairOnce(ctx)
	return err
}

// guarded runs pass while holding lease for ttl. Passes are skipped when
// another process holds the lease, and a pass is cut off when its lease
// would lapse.
func (s *Sweeper) guarded(ctx context.Context, pass, lease string, ttl time.Duration, run func(context.Context) error) {
	held, ok, err := s.cfg.Locker.TryAcquire(ctx, lease, ttl)
	if err != nil {
		s.logger.Warn("acquire sweeper lease", zap.String("pass", pass), zap.Error(err))
		return
	}
	if !ok {
		s.logger.Debug("sweeper lease held elsewhere", zap.String("pass", pass))
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.LockRelease)
		defer cancel()
		if err := held.Release(releaseCtx); err != nil {
			s.logger.Warn("release sweeper lease", zap.String("pass", pass), zap.Error(err))
		}
	}()
	passCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	if err := run(passCtx); err != nil && ctx.Err() == nil {
		s.logger.Error("sweeper pass failed", zap.String("pass", pass), zap.Error(err))
	}
}
