package store

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/loppo-llc/muxd/internal/muxsession"
)

// Scheduler drives periodic state saves and retention cleanup off a cron
// schedule, keeping the save/cleanup cadence out of the request path.
type Scheduler struct {
	cron   *cron.Cron
	store  *Store
	mgr    *muxsession.Manager
	logger *slog.Logger
}

// NewScheduler builds a Scheduler that saves mgr's full topology to store
// on saveSpec and sweeps stale session backups on cleanupSpec, both in
// standard 5-field cron syntax.
func NewScheduler(store *Store, mgr *muxsession.Manager, logger *slog.Logger, saveSpec, cleanupSpec string) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		store:  store,
		mgr:    mgr,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(saveSpec, s.runSave); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cleanupSpec, s.runCleanup); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running the scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runSave() {
	saved, err := s.mgr.SaveState(s.store, nil)
	if err != nil {
		s.logger.Error("scheduled save failed", "err", err)
		return
	}
	s.logger.Debug("scheduled save complete", "sessions", len(saved))
}

func (s *Scheduler) runCleanup() {
	if err := s.store.CleanupOldStates(DefaultRetention); err != nil {
		s.logger.Error("scheduled cleanup failed", "err", err)
	}
}
