// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import "fmt"

// Action identifies the kind of command carried by an ActionMessage.
// Priority commands have negative codes so the routing predicate is a
// single comparison; everything below CmdIgnore goes through the
// priority lane.
type Action int32

const (
	// Control commands.
	CmdIgnore               Action = 0
	CmdTick                 Action = 1
	CmdStop                 Action = 2
	CmdTerminateImmediately Action = 3
	CmdError                Action = 10

	// Time coordination commands.
	CmdTimeRequest      Action = 20
	CmdTimeGrant        Action = 21
	CmdTimeMessage      Action = 22
	CmdAddDependency    Action = 30
	CmdRemoveDependency Action = 31
	CmdAddDependent     Action = 32
	CmdRemoveDependent  Action = 33

	// Value exchange commands.
	CmdPublish        Action = 40
	CmdAddSubscriber  Action = 41
	CmdRegPublication Action = 45
	CmdRegInput       Action = 46

	CmdDisconnect Action = 50

	// Handshake commands, served from the priority lane.
	CmdRegFederate Action = -103
	CmdRegBroker   Action = -105
	CmdFederateAck Action = -253
	CmdBrokerAck   Action = -254
)

var actionNames = map[Action]string{
	CmdIgnore:               "ignore",
	CmdTick:                 "tick",
	CmdStop:                 "stop",
	CmdTerminateImmediately: "terminate_immediately",
	CmdError:                "error",
	CmdTimeRequest:          "time_request",
	CmdTimeGrant:            "time_grant",
	CmdTimeMessage:          "time_message",
	CmdAddDependency:        "add_dependency",
	CmdRemoveDependency:     "remove_dependency",
	CmdAddDependent:         "add_dependent",
	CmdRemoveDependent:      "remove_dependent",
	CmdPublish:              "publish",
	CmdAddSubscriber:        "add_subscriber",
	CmdRegPublication:       "reg_publication",
	CmdRegInput:             "reg_input",
	CmdDisconnect:           "disconnect",
	CmdRegFederate:          "reg_federate",
	CmdRegBroker:            "reg_broker",
	CmdFederateAck:          "federate_ack",
	CmdBrokerAck:            "broker_ack",
}

// String returns a readable name for the action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int32(a))
}

// GlobalID identifies a federate or broker within the federation.
// IDs are assigned by the parent broker during the handshake.
type GlobalID int32

// UnsetID marks an identity that has not completed the handshake yet.
const UnsetID GlobalID = -1

// Flags is the bitfield carried by every ActionMessage.
type Flags uint16

const (
	// ErrorFlag marks a command produced by a failed operation, most
	// commonly a transport signalling that its service loop broke.
	ErrorFlag Flags = 1 << 0

	// PriorityFlag forces a command into the priority lane regardless
	// of its action code.
	PriorityFlag Flags = 1 << 1
)

// Has reports whether all bits of f are set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// ActionMessage is the unit of work exchanged between transports, the
// broker dispatch loop, and the managers. Once enqueued it is treated
// as immutable; ownership transfers to the dispatcher on pop.
type ActionMessage struct {
	Action  Action
	Source  GlobalID
	Dest    GlobalID
	Flags   Flags
	Name    string
	Payload []byte
	Time    Time
}

// NewActionMessage creates a message with the given action and both
// endpoints unset.
func NewActionMessage(action Action) ActionMessage {
	return ActionMessage{
		Action: action,
		Source: UnsetID,
		Dest:   UnsetID,
	}
}

// SetFlag returns a copy of the message with the given flag bits set.
func (m ActionMessage) SetFlag(flag Flags) ActionMessage {
	m.Flags |= flag
	return m
}

// IsPriority reports whether the message belongs in the priority lane.
func (m ActionMessage) IsPriority() bool {
	return m.Action < CmdIgnore || m.Flags.Has(PriorityFlag)
}

// String returns the pretty form used by the dump log.
func (m ActionMessage) String() string {
	if m.Name != "" {
		return fmt.Sprintf("%s[%s]@%v", m.Action, m.Name, m.Time)
	}
	return fmt.Sprintf("%s@%v", m.Action, m.Time)
}
