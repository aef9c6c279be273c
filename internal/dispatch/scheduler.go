// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package dispatch

import (
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler drives schedule("<cron>") rules. Each active schedule rule
// gets one cron entry. Invalidating the owning group's rule cache removes
// its entries; they are installed again only when that group's rules are
// next loaded, not at invalidation itself.
type Scheduler struct {
	cron   *cron.Cron
	fire   func(groupID, ruleID int64)
	logger *slog.Logger

	mu      sync.Mutex
	entries map[int64][]cron.EntryID
}

// NewScheduler creates a stopped scheduler; call Start before use. fire
// runs on the cron goroutine for every rule firing.
func NewScheduler(fire func(groupID, ruleID int64), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		fire:    fire,
		logger:  logger,
		entries: make(map[int64][]cron.EntryID),
	}
}

// Start begins running cron entries.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for running firings to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Install replaces a group's cron entries with those of the given rules.
// Inactive rules and rules without a schedule trigger are skipped; a cron
// spec that fails to parse is logged and excluded.
func (s *Scheduler) Install(groupID int64, rules []*CachedRule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries[groupID] {
		s.cron.Remove(id)
	}
	delete(s.entries, groupID)

	var ids []cron.EntryID
	for _, r := range rules {
		spec := r.Rule.CronSpec()
		if spec == "" || !r.Active {
			continue
		}
		ruleID := r.ID
		id, err := s.cron.AddFunc(spec, func() { s.fire(groupID, ruleID) })
		if err != nil {
			s.logger.Warn("invalid cron spec, rule skipped",
				"group_id", groupID,
				"rule_id", ruleID,
				"spec", spec,
				"error", err,
			)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		s.entries[groupID] = ids
	}
}

// EntryCount reports the number of installed entries for a group.
func (s *Scheduler) EntryCount(groupID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[groupID])
}
