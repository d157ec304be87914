package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"github.com/stevemurr/pos-server/pos"
)

// DefaultSweepInterval is how often offers are checked.
const DefaultSweepInterval = time.Minute

// Scheduler runs the offer sweeps on a fixed tick and backups on the
// interval stored in the system settings.
type Scheduler struct {
	SweepInterval time.Duration

	svc        *pos.Service
	backuper   *Backuper
	logger     *slog.Logger
	reschedule chan struct{}
}

// NewScheduler returns a Scheduler. backuper may be nil to disable backups.
func NewScheduler(svc *pos.Service, backuper *Backuper, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		SweepInterval: DefaultSweepInterval,
		svc:           svc,
		backuper:      backuper,
		logger:        logger,
		reschedule:    make(chan struct{}, 1),
	}
}

// Reschedule makes the scheduler re-read the backup interval now, e.g. after
// settings were saved. It never blocks.
func (s *Scheduler) Reschedule() {
	select {
	case s.reschedule <- struct{}{}:
	default:
	}
}

// Sweep runs both offer sweeps once.
func (s *Scheduler) Sweep(ctx context.Context) {
	if n, err := s.svc.SweepOffers(ctx); err != nil {
		s.logger.Error("offer sweep", "err", err)
	} else if n > 0 {
		s.logger.Info("offer sweep", "cleared", n)
	}
	if n, err := s.svc.SweepComboOffers(ctx); err != nil {
		s.logger.Error("combo offer sweep", "err", err)
	} else if n > 0 {
		s.logger.Info("combo offer sweep", "deleted", n)
	}
}

func (s *Scheduler) backupInterval(ctx context.Context) time.Duration {
	settings, err := s.svc.Settings(ctx)
	if err != nil {
		s.logger.Warn("read backup interval", "err", err)
		return pos.DefaultBackupInterval
	}
	return pos.BackupInterval(settings)
}

// Run blocks until ctx is done. It sweeps once at start.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "sweep", s.SweepInterval)
	s.Sweep(ctx)

	sweep := time.NewTicker(s.SweepInterval)
	defer sweep.Stop()

	var backupC <-chan time.Time
	var timer *time.Timer
	arm := func() {
		if s.backuper == nil {
			return
		}
		d := s.backupInterval(ctx)
		if timer == nil {
			timer = time.NewTimer(d)
			backupC = timer.C
		} else {
			timer.Reset(d)
		}
		s.logger.Debug("next backup", "in", d)
	}
	arm()
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-sweep.C:
			s.Sweep(ctx)
		case <-backupC:
			if _, err := s.backuper.Run(ctx); err != nil {
				s.logger.Error("backup", "err", err)
			}
			arm()
		case <-s.reschedule:
			arm()
		}
	}
}
