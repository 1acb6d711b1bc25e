// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package timecoord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/cosim/core"
)

type recorder struct {
	sent []core.ActionMessage
}

func (r *recorder) send(m core.ActionMessage) {
	r.sent = append(r.sent, m)
}

func (r *recorder) grants() []core.Time {
	var out []core.Time
	for _, m := range r.sent {
		if m.Action == core.CmdTimeGrant {
			out = append(out, m.Time)
		}
	}
	return out
}

func timeMessage(from core.GlobalID, t core.Time) core.ActionMessage {
	m := core.NewActionMessage(core.CmdTimeMessage)
	m.Source = from
	m.Time = t
	return m
}

func TestGrantWithoutDependencies(t *testing.T) {
	rec := &recorder{}
	c := New(1, rec.send)

	require.NoError(t, c.RequestTime(5))
	assert.Equal(t, []core.Time{5}, rec.grants())
	assert.Equal(t, core.Time(5), c.Granted())
}

func TestGrantWaitsForDependency(t *testing.T) {
	rec := &recorder{}
	c := New(1, rec.send)
	c.AddDependency(2)
	c.AddDependent(3)

	require.NoError(t, c.RequestTime(5))
	assert.Empty(t, rec.grants(), "grant before dependency reported")

	// The request is propagated to the dependents.
	require.Len(t, rec.sent, 1)
	assert.Equal(t, core.CmdTimeRequest, rec.sent[0].Action)
	assert.Equal(t, core.GlobalID(3), rec.sent[0].Dest)

	require.NoError(t, c.ProcessTimeMessage(timeMessage(2, 3)))
	assert.Empty(t, rec.grants(), "dependency still behind the request")

	require.NoError(t, c.ProcessTimeMessage(timeMessage(2, 5)))
	assert.Equal(t, []core.Time{5}, rec.grants())
}

func TestGrantNeedsAllDependencies(t *testing.T) {
	rec := &recorder{}
	c := New(1, rec.send)
	c.AddDependency(2)
	c.AddDependency(3)

	require.NoError(t, c.RequestTime(4))
	require.NoError(t, c.ProcessTimeMessage(timeMessage(2, 10)))
	assert.Empty(t, rec.grants())

	require.NoError(t, c.ProcessTimeMessage(timeMessage(3, 4)))
	assert.Equal(t, []core.Time{4}, rec.grants())
}

func TestRemoveDependencyUnblocks(t *testing.T) {
	rec := &recorder{}
	c := New(1, rec.send)
	c.AddDependency(2)
	c.AddDependency(3)

	require.NoError(t, c.ProcessTimeMessage(timeMessage(2, 10)))
	require.NoError(t, c.RequestTime(6))
	assert.Empty(t, rec.grants(), "dependency 3 has not reported")

	require.NoError(t, c.RemoveDependency(3))
	assert.Equal(t, []core.Time{6}, rec.grants())
}

func TestGrantMonotonic(t *testing.T) {
	rec := &recorder{}
	c := New(1, rec.send)

	require.NoError(t, c.RequestTime(2))
	require.NoError(t, c.RequestTime(2))
	require.NoError(t, c.RequestTime(7))

	grants := rec.grants()
	for i := 1; i < len(grants); i++ {
		assert.GreaterOrEqual(t, float64(grants[i]), float64(grants[i-1]))
	}
}

func TestRequestBelowGrantRejected(t *testing.T) {
	rec := &recorder{}
	c := New(1, rec.send)

	require.NoError(t, c.RequestTime(5))
	assert.ErrorIs(t, c.RequestTime(3), ErrTimeViolation)
}

func TestUnknownDependencyReportIgnored(t *testing.T) {
	rec := &recorder{}
	c := New(1, rec.send)
	c.AddDependency(2)

	require.NoError(t, c.RequestTime(5))
	require.NoError(t, c.ProcessTimeMessage(timeMessage(99, 50)))
	assert.Empty(t, rec.grants())
}

func TestProcessCommandDispatch(t *testing.T) {
	rec := &recorder{}
	c := New(1, rec.send)

	add := core.NewActionMessage(core.CmdAddDependency)
	add.Source = 7
	require.NoError(t, c.ProcessCommand(add))
	assert.Equal(t, []core.GlobalID{7}, c.Dependencies())

	req := core.NewActionMessage(core.CmdTimeRequest)
	req.Time = 3
	require.NoError(t, c.ProcessCommand(req))
	assert.Empty(t, rec.grants())

	require.NoError(t, c.ProcessCommand(timeMessage(7, 3)))
	assert.Equal(t, []core.Time{3}, rec.grants())

	rm := core.NewActionMessage(core.CmdRemoveDependency)
	rm.Source = 7
	require.NoError(t, c.ProcessCommand(rm))
	assert.Empty(t, c.Dependencies())
}
