// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"sync"

	"github.com/absmach/cosim/core"
)

// CommandQueue is a two-lane FIFO of action messages. Producers are
// many (transports, timers, user code), the consumer is the single
// dispatch goroutine. Pop drains the priority lane to empty before
// serving the normal lane.
type CommandQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	priority []core.ActionMessage
	normal   []core.ActionMessage
}

// New creates an empty command queue.
func New() *CommandQueue {
	q := &CommandQueue{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends a message to the normal lane.
func (q *CommandQueue) Push(m core.ActionMessage) {
	q.mu.Lock()
	q.normal = append(q.normal, m)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// PushPriority appends a message to the priority lane.
func (q *CommandQueue) PushPriority(m core.ActionMessage) {
	q.mu.Lock()
	q.priority = append(q.priority, m)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// Pop removes and returns the oldest priority message, or the oldest
// normal message if the priority lane is empty. It blocks until a
// message is available.
func (q *CommandQueue) Pop() core.ActionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.priority) == 0 && len(q.normal) == 0 {
		q.notEmpty.Wait()
	}
	return q.popLocked()
}

// TryPop removes and returns a message without blocking. The second
// return value reports whether a message was available.
func (q *CommandQueue) TryPop() (core.ActionMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.priority) == 0 && len(q.normal) == 0 {
		return core.ActionMessage{}, false
	}
	return q.popLocked(), true
}

func (q *CommandQueue) popLocked() core.ActionMessage {
	if len(q.priority) > 0 {
		m := q.priority[0]
		q.priority[0] = core.ActionMessage{}
		q.priority = q.priority[1:]
		return m
	}
	m := q.normal[0]
	q.normal[0] = core.ActionMessage{}
	q.normal = q.normal[1:]
	return m
}

// Len returns the total number of queued messages across both lanes.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority) + len(q.normal)
}
