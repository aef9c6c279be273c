// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package dispatch

import (
	"sync"
	"time"

	"github.com/supmind/egbots/internal/platform"
)

// DefaultAggregationDelay is how long the aggregator waits after the first
// message of a media group before emitting the synthesized event.
const DefaultAggregationDelay = 1500 * time.Millisecond

// Aggregator collects the atomic messages of a media group and emits them
// as one batch once a fixed delay has passed since the group's first
// message; later messages do not extend it. Emission happens at most once per
// platform-assigned group id. The lock guards only short critical
// sections; emit runs outside it.
type Aggregator struct {
	delay time.Duration
	emit  func(groupID int64, messages []*platform.Message)

	mu      sync.Mutex
	entries map[string]*aggEntry
	closed  bool
}

type aggEntry struct {
	groupID  int64
	messages []*platform.Message
	timer    *time.Timer
}

// NewAggregator creates an aggregator that calls emit on each completed
// media group. A non-positive delay falls back to the default.
func NewAggregator(delay time.Duration, emit func(groupID int64, messages []*platform.Message)) *Aggregator {
	if delay <= 0 {
		delay = DefaultAggregationDelay
	}
	return &Aggregator{
		delay:   delay,
		emit:    emit,
		entries: make(map[string]*aggEntry),
	}
}

// Add appends a message to its media group, scheduling the one-shot
// emission timer when this is the group's first message.
func (a *Aggregator) Add(groupID int64, msg *platform.Message) {
	mediaID := msg.MediaGroupID
	if mediaID == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if entry, ok := a.entries[mediaID]; ok {
		entry.messages = append(entry.messages, msg)
		return
	}

	entry := &aggEntry{groupID: groupID, messages: []*platform.Message{msg}}
	entry.timer = time.AfterFunc(a.delay, func() { a.fire(mediaID) })
	a.entries[mediaID] = entry
}

// fire removes the entry and emits it. Removing under the lock before
// emitting guarantees at-most-once emission per media group id.
func (a *Aggregator) fire(mediaID string) {
	a.mu.Lock()
	entry, ok := a.entries[mediaID]
	if ok {
		delete(a.entries, mediaID)
	}
	closed := a.closed
	a.mu.Unlock()

	if !ok || closed {
		return
	}
	a.emit(entry.groupID, entry.messages)
}

// Pending reports the number of media groups still aggregating.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Close cancels all pending timers and drops their aggregations.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, entry := range a.entries {
		entry.timer.Stop()
		delete(a.entries, id)
	}
}
