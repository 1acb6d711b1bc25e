// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package timecoord implements the per-node view of federation time.
// A coordinator tracks the dependencies and dependents of one
// federate, caches the minimum-time-next-event each dependency has
// reported, and decides when the federate may advance.
package timecoord

import (
	"errors"
	"fmt"
	"sort"

	"github.com/absmach/cosim/core"
)

// ErrTimeViolation is returned when a grant would move time backwards.
// It is an internal invariant failure; the broker terminates on it.
var ErrTimeViolation = errors.New("time grant below previous grant")

// SendFunc delivers an outbound command to the transport layer. The
// broker injects its own AddActionMessage here so decisions loop back
// through the command queue.
type SendFunc func(core.ActionMessage)

// Coordinator tracks federation time for a single federate. All
// methods must be called from the dispatch goroutine.
type Coordinator struct {
	id   core.GlobalID
	send SendFunc

	current   core.Time
	requested core.Time
	granted   core.Time

	requestPending bool

	// Minimum time of next event reported by each dependency. A
	// dependency that has not reported yet holds TimeZero and blocks
	// grants for any positive request.
	dependencies map[core.GlobalID]core.Time
	dependents   []core.GlobalID
}

// New creates a coordinator for the federate with the given id,
// emitting its decisions through send.
func New(id core.GlobalID, send SendFunc) *Coordinator {
	return &Coordinator{
		id:           id,
		send:         send,
		dependencies: make(map[core.GlobalID]core.Time),
	}
}

// SetID updates the federate id after the handshake assigned one.
func (c *Coordinator) SetID(id core.GlobalID) {
	c.id = id
}

// Granted returns the last granted time.
func (c *Coordinator) Granted() core.Time {
	return c.granted
}

// Requested returns the pending request time, or the last one if no
// request is outstanding.
func (c *Coordinator) Requested() core.Time {
	return c.requested
}

// Dependencies returns the ids of the current dependencies in
// ascending order.
func (c *Coordinator) Dependencies() []core.GlobalID {
	ids := make([]core.GlobalID, 0, len(c.dependencies))
	for id := range c.dependencies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddDependency starts tracking a dependency. A fresh dependency is
// assumed to still be at time zero until it reports.
func (c *Coordinator) AddDependency(id core.GlobalID) {
	if _, ok := c.dependencies[id]; !ok {
		c.dependencies[id] = core.TimeZero
	}
}

// RemoveDependency stops tracking a dependency. Removing the slowest
// dependency may unblock a pending grant.
func (c *Coordinator) RemoveDependency(id core.GlobalID) error {
	delete(c.dependencies, id)
	return c.evaluate()
}

// AddDependent registers a node that depends on this federate's time.
func (c *Coordinator) AddDependent(id core.GlobalID) {
	for _, d := range c.dependents {
		if d == id {
			return
		}
	}
	c.dependents = append(c.dependents, id)
	sort.Slice(c.dependents, func(i, j int) bool { return c.dependents[i] < c.dependents[j] })
}

// RemoveDependent unregisters a dependent node.
func (c *Coordinator) RemoveDependent(id core.GlobalID) {
	for i, d := range c.dependents {
		if d == id {
			c.dependents = append(c.dependents[:i], c.dependents[i+1:]...)
			return
		}
	}
}

// RequestTime records a request to advance to t and either grants it
// immediately or propagates a time request to the dependents and
// waits for dependency reports.
func (c *Coordinator) RequestTime(t core.Time) error {
	if t < c.granted {
		return fmt.Errorf("%w: requested %v, granted %v", ErrTimeViolation, t, c.granted)
	}
	c.requested = t
	c.requestPending = true

	if c.minDependencyTime() >= t {
		return c.grant(t)
	}

	for _, dep := range c.dependents {
		m := core.NewActionMessage(core.CmdTimeRequest)
		m.Source = c.id
		m.Dest = dep
		m.Time = t
		c.send(m)
	}
	return nil
}

// ProcessTimeMessage folds a dependency's reported minimum time of
// next event into the cache and re-evaluates a pending grant.
func (c *Coordinator) ProcessTimeMessage(m core.ActionMessage) error {
	if _, ok := c.dependencies[m.Source]; !ok {
		// Reports from unknown nodes carry no constraint.
		return nil
	}
	c.dependencies[m.Source] = m.Time
	return c.evaluate()
}

// ProcessCommand dispatches a time-related command to the matching
// handler. Unrelated commands are ignored.
func (c *Coordinator) ProcessCommand(m core.ActionMessage) error {
	switch m.Action {
	case core.CmdTimeRequest:
		return c.RequestTime(m.Time)
	case core.CmdTimeMessage:
		return c.ProcessTimeMessage(m)
	case core.CmdAddDependency:
		c.AddDependency(m.Source)
	case core.CmdRemoveDependency:
		return c.RemoveDependency(m.Source)
	case core.CmdAddDependent:
		c.AddDependent(m.Source)
	case core.CmdRemoveDependent:
		c.RemoveDependent(m.Source)
	}
	return nil
}

// evaluate grants the pending request when every dependency has
// reported a minimum next event at or past it.
func (c *Coordinator) evaluate() error {
	if !c.requestPending {
		return nil
	}
	if c.minDependencyTime() >= c.requested {
		return c.grant(c.requested)
	}
	return nil
}

// minDependencyTime returns the smallest reported time across the
// dependencies; with no dependencies there is no constraint.
// Iteration is in ascending id order so ties resolve deterministically.
func (c *Coordinator) minDependencyTime() core.Time {
	min := core.TimeMax
	for _, id := range c.Dependencies() {
		if t := c.dependencies[id]; t < min {
			min = t
		}
	}
	return min
}

func (c *Coordinator) grant(t core.Time) error {
	if t < c.granted {
		return fmt.Errorf("%w: grant %v, previous %v", ErrTimeViolation, t, c.granted)
	}
	c.granted = t
	c.current = t
	c.requestPending = false

	m := core.NewActionMessage(core.CmdTimeGrant)
	m.Source = c.id
	m.Dest = c.id
	m.Time = t
	c.send(m)
	return nil
}
