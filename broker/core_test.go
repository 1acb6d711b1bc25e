// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/cosim/core"
)

func TestCoreRoutesValueCommands(t *testing.T) {
	c, err := NewCore(testConfig(time.Hour), nil)
	require.NoError(t, err)
	in, err := c.Manager().RegisterGlobalInput("in1", "double", "")
	require.NoError(t, err)
	require.NoError(t, c.Start())

	payload, err := c.Manager().Codecs().Encode("double", 3.14)
	require.NoError(t, err)
	msg := core.NewActionMessage(core.CmdPublish)
	msg.Name = "in1"
	msg.Payload = payload
	msg.Time = 1.0
	c.AddActionMessage(msg)

	// The stop is queued behind the publish, so after the join the
	// manager holds the pending value.
	c.Stop()
	c.JoinAllThreads()

	c.Manager().UpdateTime(1.0, 0.0)
	assert.True(t, in.IsUpdated())
	value, err := c.Manager().GetDouble(in)
	require.NoError(t, err)
	assert.Equal(t, 3.14, value)
}

func TestCoreLocalPublishLoopback(t *testing.T) {
	c, err := NewCore(testConfig(time.Hour), nil)
	require.NoError(t, err)
	m := c.Manager()
	pub, err := m.RegisterGlobalPublication("p", "double", "")
	require.NoError(t, err)
	in, err := m.RegisterSubscription("p", "")
	require.NoError(t, err)
	require.NoError(t, c.Start())

	// Advance local time so the publish carries a positive stamp,
	// then let it travel through the core's own queue.
	m.UpdateTime(1.0, 0.0)
	require.NoError(t, m.PublishDouble(pub, 2.5))
	waitFor(t, func() bool { return c.Stats().GetCommandsProcessed() == 1 })

	c.Stop()
	c.JoinAllThreads()

	m.UpdateTime(1.0, 0.0)
	assert.True(t, in.IsUpdated())
	value, err := m.GetDouble(in)
	require.NoError(t, err)
	assert.Equal(t, 2.5, value)
}

func TestCoreRecordsAndForwardsRegistrations(t *testing.T) {
	c, err := NewCore(testConfig(time.Hour), nil)
	require.NoError(t, err)
	fw := &commandLog{}
	c.SetMessageSender(fw.add)

	_, err = c.Manager().RegisterGlobalPublication("grid.voltage", "double", "kV")
	require.NoError(t, err)
	_, err = c.Manager().RegisterSubscription("grid.load", "")
	require.NoError(t, err)
	require.NoError(t, c.Manager().StartupToInitialize())
	require.NoError(t, c.Start())

	waitFor(t, func() bool { return fw.count(core.CmdRegPublication) == 1 })
	waitFor(t, func() bool { return fw.count(core.CmdAddSubscriber) == 1 })
	assert.Equal(t, []string{"grid.load", "grid.voltage"}, c.KnownInterfaces())

	c.Terminate()
	c.JoinAllThreads()
}

func TestCoreDuplicateRegistrationKeepsFirst(t *testing.T) {
	c, err := NewCore(testConfig(time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	reg := core.NewActionMessage(core.CmdRegPublication)
	reg.Name = "dup"
	reg.Payload = []byte(`{"type":"double"}`)
	c.AddActionMessage(reg)
	reg.Payload = []byte(`{"type":"int64"}`)
	c.AddActionMessage(reg)

	waitFor(t, func() bool { return c.Stats().GetCommandsProcessed() == 2 })
	assert.Equal(t, []string{"dup"}, c.KnownInterfaces())

	c.Terminate()
	c.JoinAllThreads()
}

func TestCoreFederateHandshake(t *testing.T) {
	c, err := NewCore(testConfig(time.Hour), nil)
	require.NoError(t, err)
	fw := &commandLog{}
	c.SetMessageSender(fw.add)
	require.NoError(t, c.Start())

	reg := core.NewActionMessage(core.CmdRegFederate)
	reg.Name = "fed2"
	reg.Source = 99
	c.AddActionMessage(reg)

	waitFor(t, func() bool { return fw.count(core.CmdFederateAck) == 1 })

	fw.mu.Lock()
	ack := fw.commands[0]
	fw.mu.Unlock()
	assert.Equal(t, "fed2", ack.Name)
	assert.Equal(t, core.GlobalID(1), ack.Dest)

	c.Terminate()
	c.JoinAllThreads()
}

func TestCoreStopDisconnectsManager(t *testing.T) {
	c, err := NewCore(testConfig(time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	c.Stop()
	c.JoinAllThreads()
	assert.Equal(t, core.Finalize, c.Manager().Phase())
}
