// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supmind/egbots/internal/platform"
)

func TestAggregator_EmitsOnceWithAllMessages(t *testing.T) {
	var mu sync.Mutex
	var emitted [][]*platform.Message

	agg := NewAggregator(30*time.Millisecond, func(_ int64, msgs []*platform.Message) {
		mu.Lock()
		defer mu.Unlock()
		emitted = append(emitted, msgs)
	})
	defer agg.Close()

	agg.Add(1, &platform.Message{ID: 1, MediaGroupID: "X"})
	agg.Add(1, &platform.Message{ID: 2, MediaGroupID: "X"})
	agg.Add(1, &platform.Message{ID: 3, MediaGroupID: "X"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emitted) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, emitted[0], 3)
	assert.Equal(t, int64(1), emitted[0][0].ID, "order of arrival preserved")
	assert.Equal(t, int64(3), emitted[0][2].ID)
	assert.Zero(t, agg.Pending())
}

func TestAggregator_SeparateGroupIDsEmitSeparately(t *testing.T) {
	var count atomic.Int32
	agg := NewAggregator(20*time.Millisecond, func(int64, []*platform.Message) {
		count.Add(1)
	})
	defer agg.Close()

	agg.Add(1, &platform.Message{ID: 1, MediaGroupID: "A"})
	agg.Add(1, &platform.Message{ID: 2, MediaGroupID: "B"})

	require.Eventually(t, func() bool { return count.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAggregator_IgnoresMessagesWithoutMediaGroup(t *testing.T) {
	agg := NewAggregator(10*time.Millisecond, func(int64, []*platform.Message) {
		t.Error("emit must not fire")
	})
	defer agg.Close()

	agg.Add(1, &platform.Message{ID: 1})
	assert.Zero(t, agg.Pending())
	time.Sleep(30 * time.Millisecond)
}

func TestAggregator_CloseCancelsPending(t *testing.T) {
	agg := NewAggregator(20*time.Millisecond, func(int64, []*platform.Message) {
		t.Error("emit must not fire after Close")
	})

	agg.Add(1, &platform.Message{ID: 1, MediaGroupID: "X"})
	agg.Close()
	assert.Zero(t, agg.Pending())

	// Adds after Close are dropped too.
	agg.Add(1, &platform.Message{ID: 2, MediaGroupID: "Y"})
	assert.Zero(t, agg.Pending())

	time.Sleep(50 * time.Millisecond)
}
