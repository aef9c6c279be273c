// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

// Package dispatch receives atomic platform events, aggregates media
// groups, maintains the per-group parsed-rule cache, and drives rule
// execution in priority order.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/supmind/egbots/internal/engine"
	"github.com/supmind/egbots/internal/platform"
	"github.com/supmind/egbots/internal/script"
	"github.com/supmind/egbots/internal/store"
)

// DefaultDrainTimeout bounds how long Close waits for in-flight events.
const DefaultDrainTimeout = 5 * time.Second

// CachedRule pairs a stored rule's metadata with its parsed AST. Entries
// are immutable; the cache shares them by reference with executor tasks.
type CachedRule struct {
	ID       int64
	Name     string
	Priority int
	Active   bool
	Rule     *script.Rule
}

// Metrics holds the dispatcher's Prometheus counters.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	RuleRunsTotal    *prometheus.CounterVec
	ParseFailures    prometheus.Counter
	MediaGroupsTotal prometheus.Counter
}

// NewMetrics creates and registers the dispatcher metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egbots_events_total",
				Help: "Total number of dispatched events by tag",
			},
			[]string{"tag"},
		),
		RuleRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egbots_rule_runs_total",
				Help: "Total number of rule executions by result",
			},
			[]string{"result"},
		),
		ParseFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "egbots_rule_parse_failures_total",
				Help: "Total number of stored rules excluded for parse errors",
			},
		),
		MediaGroupsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "egbots_media_groups_aggregated_total",
				Help: "Total number of synthesized media_group events",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.EventsTotal, m.RuleRunsTotal, m.ParseFailures, m.MediaGroupsTotal)
	}
	return m
}

// Dispatcher routes platform updates to rule executions. Every accepted
// event runs as its own task; the rule cache and aggregator are the only
// shared state and are guarded by their locks.
type Dispatcher struct {
	rules    store.RuleStore
	stats    store.StatsStore
	exec     *engine.Executor
	client   platform.Client
	logger   *slog.Logger
	metrics  *Metrics
	admin    *adminCommands
	schedule *Scheduler
	agg      *Aggregator

	mu    sync.RWMutex
	cache map[int64][]*CachedRule

	wg           sync.WaitGroup
	closeMu      sync.Mutex
	closed       bool
	drainTimeout time.Duration
}

// Config carries the dispatcher's collaborators and tuning knobs.
type Config struct {
	Rules  store.RuleStore
	Stats  store.StatsStore
	Exec   *engine.Executor
	Client platform.Client
	Logger *slog.Logger
	// Metrics may be nil; counters are then created unregistered.
	Metrics *Metrics
	// AggregationDelay defaults to DefaultAggregationDelay.
	AggregationDelay time.Duration
	// DrainTimeout defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// New creates a dispatcher and starts its cron scheduler.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}

	d := &Dispatcher{
		rules:        cfg.Rules,
		stats:        cfg.Stats,
		exec:         cfg.Exec,
		client:       cfg.Client,
		logger:       logger,
		metrics:      metrics,
		cache:        make(map[int64][]*CachedRule),
		drainTimeout: drain,
	}
	d.admin = &adminCommands{d: d}
	d.agg = NewAggregator(cfg.AggregationDelay, d.emitMediaGroup)
	d.schedule = NewScheduler(d.fireScheduled, logger)
	d.schedule.Start()
	return d
}

// Dispatch canonicalizes one atomic update and runs it as a task. Media
// album parts are diverted to the aggregator instead of dispatching.
func (d *Dispatcher) Dispatch(ctx context.Context, upd *platform.Update) {
	ev := d.canonicalize(ctx, upd)
	if ev == nil {
		return
	}

	if (ev.Tag == script.TagPhoto || ev.Tag == script.TagVideo) && ev.Message.MediaGroupID != "" {
		d.agg.Add(ev.GroupID, ev.Message)
		return
	}

	d.spawn(ev)
}

// canonicalize maps an update to its logical event tag and context, and
// feeds the statistics stream.
func (d *Dispatcher) canonicalize(ctx context.Context, upd *platform.Update) *engine.EventContext {
	switch {
	case upd.Joined != nil:
		ev := engine.NewEventContext(script.TagUserJoin, upd.Chat.ID)
		ev.User = upd.Joined
		d.record(ctx, upd.Chat.ID, store.StatJoins, upd.Joined.ID)
		return ev

	case upd.Left != nil:
		ev := engine.NewEventContext(script.TagUserLeave, upd.Chat.ID)
		ev.User = upd.Left
		d.record(ctx, upd.Chat.ID, store.StatLeaves, upd.Left.ID)
		return ev

	case upd.Message != nil:
		msg := upd.Message
		tag := script.TagMessage
		switch {
		case msg.Edited:
			tag = script.TagEditedMessage
		case msg.HasPhoto:
			tag = script.TagPhoto
		case msg.HasVideo:
			tag = script.TagVideo
		case msg.HasDocument:
			tag = script.TagDocument
		case len(msg.Text) > 1 && msg.Text[0] == '/':
			tag = script.TagCommand
		}

		ev := engine.NewEventContext(tag, msg.Chat.ID)
		ev.Message = msg
		ev.User = msg.From
		if tag == script.TagCommand {
			ev.Command = engine.ParseCommand(msg.Text)
		}
		if !msg.Edited && msg.From != nil {
			d.record(ctx, msg.Chat.ID, store.StatMessages, msg.From.ID)
		}
		return ev
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, groupID int64, kind store.StatKind, userID int64) {
	if err := d.stats.Record(ctx, groupID, kind, userID, time.Now()); err != nil {
		d.logger.Warn("statistics record failed", "group_id", groupID, "error", err)
	}
}

// spawn runs one event as its own task unless the dispatcher is draining.
func (d *Dispatcher) spawn(ev *engine.EventContext) {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.wg.Add(1)
	d.closeMu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("event task panicked", "tag", ev.Tag, "group_id", ev.GroupID, "panic", r)
			}
		}()
		d.runEvent(context.Background(), ev)
	}()
}

// runEvent executes every active rule matching the event's tag, in
// priority order, until one returns stopped.
func (d *Dispatcher) runEvent(ctx context.Context, ev *engine.EventContext) {
	d.metrics.EventsTotal.WithLabelValues(ev.Tag).Inc()

	if ev.Tag == script.TagCommand && d.admin.handle(ctx, ev) {
		return
	}

	rules, err := d.rulesFor(ctx, ev.GroupID)
	if err != nil {
		// Database unreachable: skip this group for this event; the cache
		// stays empty and the next event retries.
		d.logger.Error("rule cache load failed", "group_id", ev.GroupID, "error", err)
		return
	}

	for _, cached := range rules {
		if !cached.Active || !cached.Rule.HasTrigger(ev.Tag) {
			continue
		}
		res := d.exec.Execute(ctx, cached.ID, cached.Rule, ev)
		d.metrics.RuleRunsTotal.WithLabelValues(res.String()).Inc()
		if res == engine.ResultStopped {
			return
		}
	}
}

// rulesFor returns the group's cached parsed rules, loading them lazily.
func (d *Dispatcher) rulesFor(ctx context.Context, groupID int64) ([]*CachedRule, error) {
	d.mu.RLock()
	cached, ok := d.cache[groupID]
	d.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return d.loadGroup(ctx, groupID)
}

// loadGroup fetches, parses, and caches a group's rules. Stored rules that
// no longer parse are logged once and excluded from the set. The database
// read retries briefly with backoff before giving up.
func (d *Dispatcher) loadGroup(ctx context.Context, groupID int64) ([]*CachedRule, error) {
	var records []store.Rule
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		records, err = d.rules.ListRules(ctx, groupID)
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, oops.Code("RULE_CACHE_LOAD_FAILED").
			With("group_id", groupID).
			Wrap(err)
	}

	cached := make([]*CachedRule, 0, len(records))
	for _, rec := range records {
		rule, err := script.Parse(rec.Source)
		if err != nil {
			d.metrics.ParseFailures.Inc()
			d.logger.Warn("stored rule failed to parse, excluded",
				"group_id", groupID,
				"rule_id", rec.ID,
				"error", err,
			)
			continue
		}
		cached = append(cached, &CachedRule{
			ID:       rec.ID,
			Name:     rec.Name,
			Priority: rec.Priority,
			Active:   rec.Active,
			Rule:     rule,
		})
	}

	d.mu.Lock()
	d.cache[groupID] = cached
	d.mu.Unlock()

	d.schedule.Install(groupID, cached)
	return cached, nil
}

// PreloadGroups loads the given groups' rules eagerly so their schedule
// triggers are installed before any event arrives. Failures are logged;
// the lazy path retries on the group's next event.
func (d *Dispatcher) PreloadGroups(ctx context.Context, groupIDs []int64) {
	for _, id := range groupIDs {
		if _, err := d.rulesFor(ctx, id); err != nil {
			d.logger.Warn("group preload failed", "group_id", id, "error", err)
		}
	}
}

// Invalidate drops a group's cache entry; the next event reloads it and
// reinstalls its schedule entries.
func (d *Dispatcher) Invalidate(groupID int64) {
	d.mu.Lock()
	delete(d.cache, groupID)
	d.mu.Unlock()
	d.schedule.Install(groupID, nil)
}

// emitMediaGroup dispatches the synthesized media_group event after
// aggregation completes.
func (d *Dispatcher) emitMediaGroup(groupID int64, messages []*platform.Message) {
	d.metrics.MediaGroupsTotal.Inc()

	ev := engine.NewEventContext(script.TagMediaGroup, groupID)
	ev.MediaMessages = messages
	if len(messages) > 0 && messages[0].From != nil {
		ev.User = messages[0].From
	}
	d.spawn(ev)
}

// fireScheduled runs one schedule rule with a synthetic user-less event.
func (d *Dispatcher) fireScheduled(groupID, ruleID int64) {
	d.mu.RLock()
	var target *CachedRule
	for _, cached := range d.cache[groupID] {
		if cached.ID == ruleID {
			target = cached
			break
		}
	}
	d.mu.RUnlock()
	if target == nil || !target.Active {
		return
	}

	ev := engine.NewEventContext(script.TagSchedule, groupID)
	d.metrics.EventsTotal.WithLabelValues(script.TagSchedule).Inc()

	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.wg.Add(1)
	d.closeMu.Unlock()
	defer d.wg.Done()

	res := d.exec.Execute(context.Background(), target.ID, target.Rule, ev)
	d.metrics.RuleRunsTotal.WithLabelValues(res.String()).Inc()
}

// Close stops accepting events, cancels pending aggregations, halts the
// scheduler, and waits up to the drain timeout for running tasks.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	d.closeMu.Unlock()

	d.agg.Close()
	d.schedule.Stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.drainTimeout):
		d.logger.Warn("drain timeout reached, abandoning running tasks")
	}
}
