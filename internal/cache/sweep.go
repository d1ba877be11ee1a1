package cache

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper runs Store.Sweep on a cron schedule.
type Sweeper struct {
	store *Store
	cron  *cron.Cron
}

// NewSweeper creates a Sweeper for the given store. schedule accepts standard
// cron expressions and descriptors such as "@every 10m".
func NewSweeper(store *Store, schedule string) (*Sweeper, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if removed := store.Sweep(); removed > 0 {
			slog.Debug("cache sweep reclaimed entries", "removed", removed)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Sweeper{store: store, cron: c}, nil
}

// Start begins the periodic sweep.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the sweep; a sweep already in progress runs to completion.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}
