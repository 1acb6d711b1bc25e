// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package federate implements the value-exchange side of a federate:
// registration of publications, inputs, and subscriptions, routing of
// published blocks to matching inputs, update detection, and named
// lookup.
package federate

import (
	"errors"

	"github.com/absmach/cosim/core"
)

var (
	// ErrInvalidState is returned for registration outside the
	// startup phase.
	ErrInvalidState = errors.New("operation not valid in current phase")

	// ErrDuplicateKey is returned when a key is registered twice.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnknownHandle is returned for operations on endpoints the
	// manager does not own.
	ErrUnknownHandle = errors.New("unknown handle")
)

// Handle option codes. Unknown codes are stored but inert.
const (
	// OptionOnlyTransmitOnChange suppresses publishes whose payload
	// equals the previous send, byte for byte.
	OptionOnlyTransmitOnChange = 110

	// OptionOnlyUpdateOnChange suppresses the updated flag when an
	// incoming payload equals the previous stored payload.
	OptionOnlyUpdateOnChange = 111
)

// Publication is a named outbound value endpoint.
type Publication struct {
	Key    string
	Type   string
	Units  string
	Global bool

	targets []string
	options map[int]bool

	lastValue []byte
	hasLast   bool
}

// Targets returns the destination selectors added to the publication.
func (p *Publication) Targets() []string {
	return p.targets
}

// Option returns the stored value of an option code.
func (p *Publication) Option(code int) bool {
	return p.options[code]
}

// Input is a named inbound value endpoint. A subscription is an Input
// whose key doubles as the publisher-side target selector.
type Input struct {
	Key   string
	Type  string
	Units string

	// Callback fires on every accepted update for this input, from
	// the goroutine driving UpdateTime.
	Callback func(*Input, core.Time)

	sources      []string
	options      map[int]bool
	subscription bool

	defaultValue []byte
	lastValue    []byte
	hasValue     bool
	lastUpdate   core.Time
	updated      bool
}

// Sources returns the source selectors attached to the input.
func (in *Input) Sources() []string {
	return in.sources
}

// Option returns the stored value of an option code.
func (in *Input) Option(code int) bool {
	return in.options[code]
}

// IsUpdated reports whether a value arrived since the last read.
func (in *Input) IsUpdated() bool {
	return in.updated
}

// LastUpdateTime returns the timestamp of the newest accepted value,
// or TimeNever if nothing arrived yet.
func (in *Input) LastUpdateTime() core.Time {
	return in.lastUpdate
}

// IsSubscription reports whether the input was registered as a
// subscription.
func (in *Input) IsSubscription() bool {
	return in.subscription
}
