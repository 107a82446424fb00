package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/qubes-preflight/internal/config"
	"github.com/oshokin/qubes-preflight/internal/logger"
	"github.com/oshokin/qubes-preflight/internal/repository/stamp"
	"github.com/oshokin/qubes-preflight/internal/service/common"
)

// ErrStampIntegrity is returned when the stamp recording the last run is
// missing or unreadable. The check cannot tell fresh from stale then, which
// is worth surfacing on its own: it usually means the updater never ran or
// something tampered with its state.
var ErrStampIntegrity = errors.New("staleness stamp unavailable")

// Service decides whether the user should be prompted to update. Host
// probes are held as fields so tests can script them.
type Service struct {
	// cfg supplies the thresholds and process names.
	cfg *config.Config
	// stamps reads the last-run stamp.
	stamps stamp.Repository
	// scan looks for conflicting update processes.
	scan func(names []string) (string, bool, error)
	// uptime reports how long the system has been up.
	uptime func() (time.Duration, error)
	// now is the clock.
	now func() time.Time
}

// NewService creates a notifier service with host-backed probes.
func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:    cfg,
		stamps: stamp.NewFileRepository(cfg.StampPath),
		scan:   common.FindConflictingProcess,
		uptime: common.Uptime,
		now:    time.Now,
	}
}

// Check runs the decision ladder: stay silent while an update is already in
// progress or another notifier is active, fail on a missing or corrupt
// stamp, stay silent while the stamp is fresh or the system just booted,
// prompt otherwise.
func (s *Service) Check(ctx context.Context) (Decision, error) {
	name, found, err := s.scan(s.cfg.ConflictingProcesses)
	if err != nil {
		logger.WarnKV(ctx, "Process scan failed, continuing", "error", err)
	} else if found {
		logger.InfoKV(ctx, "Conflicting process is running, not prompting", "process", name)

		return DecisionNoPrompt, nil
	}

	if common.NewMarker(common.UpdaterMarkerPath(s.cfg)).Live() {
		logger.Info(ctx, "Updater is running, not prompting")

		return DecisionNoPrompt, nil
	}

	marker := common.NewMarker(common.NotifierMarkerPath(s.cfg))

	if err = marker.Acquire(ctx); err != nil {
		if errors.Is(err, common.ErrAlreadyRunning) {
			logger.Info(ctx, "Another notifier is running, not prompting")

			return DecisionNoPrompt, nil
		}

		return DecisionNoPrompt, fmt.Errorf("acquire notifier marker: %w", err)
	}

	defer func() {
		if releaseErr := marker.Release(); releaseErr != nil {
			logger.WarnKV(ctx, "Failed to release notifier marker", "error", releaseErr)
		}
	}()

	lastRun, err := s.stamps.Load(ctx)
	if err != nil {
		if errors.Is(err, stamp.ErrNotFound) || errors.Is(err, stamp.ErrCorrupted) {
			return DecisionNoPrompt, fmt.Errorf("%w: %s", ErrStampIntegrity, err)
		}

		return DecisionNoPrompt, fmt.Errorf("load stamp: %w", err)
	}

	threshold := s.cfg.StalenessThreshold()

	elapsed := s.now().Sub(lastRun)
	if elapsed < threshold {
		logger.InfoKV(ctx, "Updates are fresh",
			"last_run", lastRun,
			"elapsed", elapsed,
			"threshold", threshold)

		return DecisionNoPrompt, nil
	}

	// Freshly booted machines get a grace period: the session wrapper may
	// well be about to run the updater anyway.
	if grace := s.cfg.UptimeGrace(); grace > 0 {
		uptime, uptimeErr := s.uptime()

		switch {
		case uptimeErr != nil:
			logger.WarnKV(ctx, "Could not read uptime, skipping grace period", "error", uptimeErr)
		case uptime < grace:
			logger.InfoKV(ctx, "System booted recently, not prompting yet",
				"uptime", uptime,
				"grace", grace)

			return DecisionNoPrompt, nil
		}
	}

	logger.WarnKV(ctx, "Updates are overdue",
		"last_run", lastRun,
		"elapsed", elapsed,
		"threshold", threshold)

	return DecisionPrompt, nil
}
