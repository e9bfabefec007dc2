package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically removes binaries whose decode never finished, for
// example because the process stopped mid-job.
type Janitor struct {
	store  Store
	maxAge time.Duration
	cron   *cron.Cron
}

// NewJanitor schedules Sweep on the given cron spec, e.g. "@every 10m".
func NewJanitor(store Store, spec string, maxAge time.Duration) (*Janitor, error) {
	j := &Janitor{
		store:  store,
		maxAge: maxAge,
		cron:   cron.New(),
	}
	if _, err := j.cron.AddFunc(spec, j.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}
	return j, nil
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce() {
	removed, err := j.store.Sweep(j.maxAge)
	if err != nil {
		slog.Warn("janitor sweep failed", "removed", removed, "err", err)
		return
	}
	if removed > 0 {
		slog.Info("janitor removed orphaned uploads", "removed", removed)
	}
}

// Start begins the schedule.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
