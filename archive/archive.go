// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package archive stores the stream of commands popped by a broker's
// dispatch loop when dump logging is enabled. The memory store backs
// the in-process dump emitted at shutdown; the badger store keeps the
// record on disk for inspection after the run.
package archive

import (
	"errors"
	"sync"

	"github.com/absmach/cosim/core"
)

// ErrClosed is returned when appending to a closed store.
var ErrClosed = errors.New("archive store closed")

// Store records popped commands in arrival order.
type Store interface {
	// Append adds one command to the archive.
	Append(m core.ActionMessage) error

	// Replay calls fn for every archived command in order. It stops
	// early if fn returns an error and returns that error.
	Replay(fn func(m core.ActionMessage) error) error

	// Close releases the store. Append after Close fails.
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.Mutex
	messages []core.ActionMessage
	closed   bool
}

// NewMemory creates an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{}
}

// Append adds one command to the archive.
func (s *Memory) Append(m core.ActionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.messages = append(s.messages, m)
	return nil
}

// Replay calls fn for every archived command in order.
func (s *Memory) Replay(fn func(m core.ActionMessage) error) error {
	s.mu.Lock()
	snapshot := make([]core.ActionMessage, len(s.messages))
	copy(snapshot, s.messages)
	s.mu.Unlock()

	for _, m := range snapshot {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of archived commands.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Close marks the store closed.
func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
