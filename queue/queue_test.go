// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/cosim/core"
)

func named(action core.Action, name string) core.ActionMessage {
	m := core.NewActionMessage(action)
	m.Name = name
	return m
}

func TestPopPriorityFirst(t *testing.T) {
	q := New()
	q.Push(named(core.CmdPublish, "A"))
	q.Push(named(core.CmdPublish, "B"))
	q.PushPriority(named(core.CmdRegFederate, "P"))

	assert.Equal(t, "P", q.Pop().Name)
	assert.Equal(t, "A", q.Pop().Name)
	assert.Equal(t, "B", q.Pop().Name)
	assert.Equal(t, 0, q.Len())
}

func TestPopFIFOWithinLane(t *testing.T) {
	q := New()
	for _, name := range []string{"1", "2", "3", "4"} {
		q.Push(named(core.CmdPublish, name))
	}
	for _, want := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, want, q.Pop().Name)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan core.ActionMessage, 1)
	go func() {
		done <- q.Pop()
	}()

	select {
	case <-done:
		t.Fatal("Pop returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(named(core.CmdTick, "late"))
	select {
	case m := <-done:
		assert.Equal(t, "late", m.Name)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after push")
	}
}

func TestTryPop(t *testing.T) {
	q := New()
	_, ok := q.TryPop()
	assert.False(t, ok)

	q.Push(named(core.CmdStop, "s"))
	m, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, core.CmdStop, m.Action)
}

func TestConcurrentProducersPreserveProducerOrder(t *testing.T) {
	q := New()
	const producers = 4
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m := core.NewActionMessage(core.CmdPublish)
				m.Source = core.GlobalID(p)
				m.Time = core.Time(i)
				q.Push(m)
			}
		}(p)
	}
	wg.Wait()

	last := make(map[core.GlobalID]core.Time)
	for i := 0; i < producers*perProducer; i++ {
		m, ok := q.TryPop()
		require.True(t, ok)
		if prev, seen := last[m.Source]; seen {
			assert.Greater(t, float64(m.Time), float64(prev),
				"producer %d order violated", m.Source)
		}
		last[m.Source] = m.Time
	}
}
