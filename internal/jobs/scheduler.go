package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// OwnerLister lists the owners that still have open drafts.
type OwnerLister interface {
	ListOwnersWithOpenDrafts(ctx context.Context) ([]string, error)
}

// Reclassifier re-runs classification over an owner's open drafts.
type Reclassifier interface {
	ClassifyAllOpen(ctx context.Context, ownerID string) (int, error)
}

// SweepTimeout bounds one run of the open-draft sweep.
const SweepTimeout = 10 * time.Minute

// Scheduler runs recurring maintenance on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler creates a stopped scheduler evaluating schedules in loc.
func NewScheduler(loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{cron: cron.New(cron.WithLocation(loc)), log: log}
}

// AddSweep schedules SweepOpenDrafts with a standard five-field cron spec.
func (s *Scheduler) AddSweep(spec string, owners OwnerLister, reclassifier Reclassifier) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), SweepTimeout)
		defer cancel()
		if err := SweepOpenDrafts(ctx, owners, reclassifier, s.log); err != nil {
			s.log.Error().Err(err).Msg("Open draft sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("AddSweep: unable to schedule %q: %w", spec, err)
	}
	return nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("entries", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepOpenDrafts re-classifies the open drafts of every owner so that contacts, aliases and
// savings plans added since the import are picked up. One owner's failure does not stop the sweep.
func SweepOpenDrafts(ctx context.Context, owners OwnerLister, reclassifier Reclassifier, log zerolog.Logger) error {
	ids, err := owners.ListOwnersWithOpenDrafts(ctx)
	if err != nil {
		return fmt.Errorf("SweepOpenDrafts: list owners: %w", err)
	}

	total, failed := 0, 0
	for _, owner := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := reclassifier.ClassifyAllOpen(ctx, owner)
		if err != nil {
			failed++
			log.Warn().Err(err).Str("owner_id", owner).Msg("Re-classification failed")
			continue
		}
		total += n
	}

	log.Info().
		Int("owners", len(ids)).
		Int("drafts", total).
		Int("failed_owners", failed).
		Msg("Open draft sweep finished")
	return nil
}
