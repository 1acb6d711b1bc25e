// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/cosim/core"
)

func command(action core.Action, name string, t core.Time) core.ActionMessage {
	m := core.NewActionMessage(action)
	m.Name = name
	m.Time = t
	return m
}

func TestMemoryAppendReplay(t *testing.T) {
	s := NewMemory()

	require.NoError(t, s.Append(command(core.CmdPublish, "a", 1)))
	require.NoError(t, s.Append(command(core.CmdPublish, "b", 2)))
	require.NoError(t, s.Append(command(core.CmdStop, "", 0)))
	assert.Equal(t, 3, s.Len())

	var names []string
	err := s.Replay(func(m core.ActionMessage) error {
		names = append(names, m.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", ""}, names)
}

func TestMemoryAppendAfterClose(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Append(command(core.CmdTick, "", 0)), ErrClosed)
}

func TestBadgerAppendReplay(t *testing.T) {
	s, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	first := command(core.CmdPublish, "pub1", 1.5)
	first.Source = 3
	first.Payload = []byte{1, 2, 3}
	require.NoError(t, s.Append(first))
	require.NoError(t, s.Append(command(core.CmdTimeGrant, "", 2)))

	var got []core.ActionMessage
	err = s.Replay(func(m core.ActionMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, core.CmdTimeGrant, got[1].Action)
}

func TestBadgerAppendAfterClose(t *testing.T) {
	s, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Append(command(core.CmdTick, "", 0)), ErrClosed)
}
