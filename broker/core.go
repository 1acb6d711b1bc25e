// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/absmach/cosim/config"
	"github.com/absmach/cosim/core"
	"github.com/absmach/cosim/federate"
)

// MessageSender delivers outbound commands to the transport layer.
type MessageSender func(core.ActionMessage)

// Core is the in-process hub a federate talks to; toward its parent it
// behaves as a broker. The dispatch loop consults the time coordinator
// for time commands and the value manager for value commands;
// everything destined for the rest of the federation leaves through
// the message sender.
type Core struct {
	*Base

	manager *federate.Manager

	senderMu sync.RWMutex
	sender   MessageSender

	// Interfaces announced by federates, keyed by name. Written only
	// from the dispatch goroutine.
	regMu  sync.RWMutex
	remote map[string]interfaceInfo

	federates map[core.GlobalID]string
	nextID    core.GlobalID
}

// interfaceInfo is the payload carried by registration commands.
type interfaceInfo struct {
	Type   string `json:"type"`
	Units  string `json:"units"`
	Global bool   `json:"global"`
}

// NewCore creates a core node: a broker base whose processing hooks
// route value commands into an owned value manager. The manager's
// outbound commands feed back into the core's own queue, so local
// publishes travel the same path as remote ones.
func NewCore(cfg *config.Config, logger *slog.Logger) (*Core, error) {
	b, err := New(cfg, logger, Handlers{})
	if err != nil {
		return nil, err
	}

	c := &Core{
		Base:      b,
		remote:    make(map[string]interfaceInfo),
		federates: make(map[core.GlobalID]string),
		nextID:    1,
	}
	c.manager = federate.NewManager(b.Identifier(), b.AddActionMessage, b.logger)
	b.SetHandlers(Handlers{
		ProcessCommand:         c.processCommand,
		ProcessPriorityCommand: c.processPriorityCommand,
		ProcessDisconnect:      c.processDisconnect,
	})
	return c, nil
}

// Manager returns the core's value manager.
func (c *Core) Manager() *federate.Manager {
	return c.manager
}

// SetMessageSender installs the outbound transport callback.
func (c *Core) SetMessageSender(fn MessageSender) {
	c.senderMu.Lock()
	c.sender = fn
	c.senderMu.Unlock()
}

func (c *Core) forward(m core.ActionMessage) {
	c.senderMu.RLock()
	fn := c.sender
	c.senderMu.RUnlock()
	if fn != nil {
		fn(m)
	}
}

// KnownInterfaces returns the names of the announced interfaces in
// sorted order.
func (c *Core) KnownInterfaces() []string {
	c.regMu.RLock()
	defer c.regMu.RUnlock()

	names := make([]string, 0, len(c.remote))
	for name := range c.remote {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// processCommand routes value commands to the manager, registration
// commands to the interface registry, and time commands through the
// coordinator. Routed commands are also forwarded outward.
func (c *Core) processCommand(m core.ActionMessage) {
	switch m.Action {
	case core.CmdPublish:
		c.manager.AddValueCommand(m)
		c.forward(m)

	case core.CmdRegPublication, core.CmdRegInput, core.CmdAddSubscriber:
		c.registerInterface(m)
		c.forward(m)

	case core.CmdDisconnect:
		c.SendToLogger(0, 1, c.Identifier(), "federate disconnected")
		c.forward(m)

	default:
		c.defaultProcessCommand(m)
	}
}

// processPriorityCommand handles the handshake lane: joining
// federates and subbrokers get an id assigned and an ack forwarded
// back through the transport.
func (c *Core) processPriorityCommand(m core.ActionMessage) {
	switch m.Action {
	case core.CmdRegFederate:
		id := c.nextID
		c.nextID++
		c.federates[id] = m.Name

		ack := core.NewActionMessage(core.CmdFederateAck)
		ack.Name = m.Name
		ack.Dest = id
		c.forward(ack)

	case core.CmdRegBroker:
		ack := core.NewActionMessage(core.CmdBrokerAck)
		ack.Name = m.Name
		ack.Dest = m.Source
		c.forward(ack)
	}
}

func (c *Core) processDisconnect() {
	c.manager.Disconnect()
}

// registerInterface records an announced publication, input, or
// subscription. Duplicates with a different type are logged; the
// first announcement wins.
func (c *Core) registerInterface(m core.ActionMessage) {
	var info interfaceInfo
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &info); err != nil {
			c.logger.Warn("malformed interface registration", "name", m.Name, "error", err)
			return
		}
	}

	c.regMu.Lock()
	defer c.regMu.Unlock()

	if existing, ok := c.remote[m.Name]; ok {
		if existing.Type != info.Type {
			c.logger.Warn("interface re-registered with different type",
				"name", m.Name,
				"registered_type", existing.Type,
				"new_type", info.Type)
		}
		return
	}
	c.remote[m.Name] = info
}
