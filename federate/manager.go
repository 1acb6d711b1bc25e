// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package federate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/absmach/cosim/codec"
	"github.com/absmach/cosim/core"
)

// SendFunc delivers an outbound command to the owning core.
type SendFunc func(core.ActionMessage)

// Manager owns the value interfaces of one federate. Registration is
// valid only during startup; in steady state the tables are mutated
// exclusively by the goroutine driving UpdateTime.
type Manager struct {
	mu sync.RWMutex

	name   string
	phase  core.Phase
	send   SendFunc
	logger *slog.Logger
	codecs *codec.Registry

	publications map[string]*Publication
	pubOrder     []string
	inputs       map[string]*Input
	inputOrder   []string
	subs         map[string]*Input
	shortcuts    map[string]string

	// routes maps a selector (input key or source target) to the
	// inputs it feeds. Rebuilt on registration changes.
	routes map[string][]*Input

	pending     []core.ActionMessage
	currentTime core.Time

	// genericCallback fires for updates on inputs without their own
	// callback.
	genericCallback func(*Input, core.Time)
}

// NewManager creates a manager for the named federate. Outbound
// commands go through send; nil is allowed for local-only use.
func NewManager(name string, send SendFunc, logger *slog.Logger) *Manager {
	if send == nil {
		send = func(core.ActionMessage) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		name:         name,
		send:         send,
		logger:       logger,
		codecs:       codec.NewRegistry(),
		publications: make(map[string]*Publication),
		inputs:       make(map[string]*Input),
		subs:         make(map[string]*Input),
		shortcuts:    make(map[string]string),
		routes:       make(map[string][]*Input),
	}
}

// Name returns the federate name used for key prefixing.
func (m *Manager) Name() string {
	return m.name
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() core.Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Codecs returns the type registry used by the typed helpers.
func (m *Manager) Codecs() *codec.Registry {
	return m.codecs
}

// SetGenericCallback installs the fallback update callback.
func (m *Manager) SetGenericCallback(fn func(*Input, core.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genericCallback = fn
}

// localKey prefixes a key with the federate name.
func (m *Manager) localKey(key string) string {
	return m.name + "." + key
}

func indexedKey(key string, indices ...int) string {
	for _, i := range indices {
		key += "_" + strconv.Itoa(i)
	}
	return key
}

// RegisterPublication registers a federate-scoped publication. The
// key is prefixed with the federate name.
func (m *Manager) RegisterPublication(key, valueType, units string) (*Publication, error) {
	return m.registerPublication(m.localKey(key), valueType, units, false)
}

// RegisterGlobalPublication registers a publication under a
// federation-wide key.
func (m *Manager) RegisterGlobalPublication(key, valueType, units string) (*Publication, error) {
	return m.registerPublication(key, valueType, units, true)
}

// RegisterPublicationIndexed registers a global publication for one
// slot of an indexed structure.
func (m *Manager) RegisterPublicationIndexed(key string, index1 int, valueType, units string) (*Publication, error) {
	return m.registerPublication(indexedKey(key, index1), valueType, units, true)
}

// RegisterPublicationIndexed2 registers a global publication for one
// slot of a two dimensional indexed structure.
func (m *Manager) RegisterPublicationIndexed2(key string, index1, index2 int, valueType, units string) (*Publication, error) {
	return m.registerPublication(indexedKey(key, index1, index2), valueType, units, true)
}

func (m *Manager) registerPublication(key, valueType, units string, global bool) (*Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != core.Startup {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, m.phase)
	}
	if _, ok := m.publications[key]; ok {
		return nil, fmt.Errorf("%w: publication %q", ErrDuplicateKey, key)
	}

	pub := &Publication{
		Key:     key,
		Type:    valueType,
		Units:   units,
		Global:  global,
		options: make(map[int]bool),
	}
	m.publications[key] = pub
	m.pubOrder = append(m.pubOrder, key)
	return pub, nil
}

// RegisterInput registers a federate-scoped input.
func (m *Manager) RegisterInput(key, valueType, units string) (*Input, error) {
	return m.registerInput(m.localKey(key), valueType, units, false)
}

// RegisterGlobalInput registers an input under a federation-wide key.
func (m *Manager) RegisterGlobalInput(key, valueType, units string) (*Input, error) {
	return m.registerInput(key, valueType, units, false)
}

// RegisterInputIndexed registers a global input for one slot of an
// indexed structure.
func (m *Manager) RegisterInputIndexed(key string, index1 int, valueType, units string) (*Input, error) {
	return m.registerInput(indexedKey(key, index1), valueType, units, false)
}

// RegisterInputIndexed2 registers a global input for one slot of a
// two dimensional indexed structure.
func (m *Manager) RegisterInputIndexed2(key string, index1, index2 int, valueType, units string) (*Input, error) {
	return m.registerInput(indexedKey(key, index1, index2), valueType, units, false)
}

func (m *Manager) registerInput(key, valueType, units string, subscription bool) (*Input, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != core.Startup {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, m.phase)
	}
	if _, ok := m.inputs[key]; ok {
		return nil, fmt.Errorf("%w: input %q", ErrDuplicateKey, key)
	}

	in := &Input{
		Key:          key,
		Type:         valueType,
		Units:        units,
		options:      make(map[int]bool),
		subscription: subscription,
		lastUpdate:   core.TimeNever,
	}
	m.inputs[key] = in
	m.inputOrder = append(m.inputOrder, key)
	m.addRouteLocked(key, in)
	return in, nil
}

// RegisterSubscription registers an input whose key is the target
// publication's key.
func (m *Manager) RegisterSubscription(target, units string) (*Input, error) {
	in, err := m.registerInput(target, "", units, true)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	in.sources = append(in.sources, target)
	m.subs[target] = in
	m.checkTypeMatchLocked(target, in)
	m.mu.Unlock()
	return in, nil
}

// RegisterSubscriptionIndexed registers a subscription for one slot
// of an indexed structure.
func (m *Manager) RegisterSubscriptionIndexed(target string, index1 int, units string) (*Input, error) {
	return m.RegisterSubscription(indexedKey(target, index1), units)
}

// RegisterSubscriptionIndexed2 registers a subscription for one slot
// of a two dimensional indexed structure.
func (m *Manager) RegisterSubscriptionIndexed2(target string, index1, index2 int, units string) (*Input, error) {
	return m.RegisterSubscription(indexedKey(target, index1, index2), units)
}

// AddPublicationTarget adds a destination selector to a publication.
func (m *Manager) AddPublicationTarget(pub *Publication, target string) error {
	if pub == nil {
		return ErrUnknownHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pub.targets = append(pub.targets, target)
	if in, ok := m.inputs[target]; ok {
		m.checkPairLocked(pub, in)
	}
	return nil
}

// AddInputSource adds a source selector to an input.
func (m *Manager) AddInputSource(in *Input, source string) error {
	if in == nil {
		return ErrUnknownHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	in.sources = append(in.sources, source)
	m.addRouteLocked(source, in)
	m.checkTypeMatchLocked(source, in)
	return nil
}

func (m *Manager) addRouteLocked(selector string, in *Input) {
	for _, existing := range m.routes[selector] {
		if existing == in {
			return
		}
	}
	m.routes[selector] = append(m.routes[selector], in)
}

// checkTypeMatchLocked warns when a locally known publication feeds an
// input with a different declared type. The binding still stands; the
// user asked for it.
func (m *Manager) checkTypeMatchLocked(target string, in *Input) {
	if pub, ok := m.publications[target]; ok {
		m.checkPairLocked(pub, in)
	}
}

func (m *Manager) checkPairLocked(pub *Publication, in *Input) {
	if pub.Type != "" && in.Type != "" && pub.Type != in.Type {
		m.logger.Warn("type mismatch between publication and input",
			"publication", pub.Key,
			"publication_type", pub.Type,
			"input", in.Key,
			"input_type", in.Type)
	}
}

// AddShortcut registers an alias for locating an input.
func (m *Manager) AddShortcut(in *Input, name string) error {
	if in == nil {
		return ErrUnknownHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortcuts[name] = in.Key
	return nil
}

// SetDefaultValue sets the value an input reports before any
// publication reaches it. The updated flag is not touched.
func (m *Manager) SetDefaultValue(in *Input, data []byte) error {
	if in == nil {
		return ErrUnknownHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	in.defaultValue = data
	if !in.hasValue {
		in.lastValue = data
	}
	return nil
}

// SetPublicationOption toggles an option flag on a publication.
func (m *Manager) SetPublicationOption(pub *Publication, code int, value bool) error {
	if pub == nil {
		return ErrUnknownHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pub.options[code] = value
	return nil
}

// SetInputOption toggles an option flag on an input.
func (m *Manager) SetInputOption(in *Input, code int, value bool) error {
	if in == nil {
		return ErrUnknownHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	in.options[code] = value
	return nil
}

// Publish sends a raw payload on a publication. With the only-transmit
// on-change option set, a payload byte-equal to the previous send is
// suppressed.
func (m *Manager) Publish(pub *Publication, data []byte) error {
	if pub == nil {
		return ErrUnknownHandle
	}
	m.mu.Lock()

	if pub.options[OptionOnlyTransmitOnChange] && pub.hasLast && bytes.Equal(pub.lastValue, data) {
		m.mu.Unlock()
		return nil
	}
	pub.lastValue = append([]byte(nil), data...)
	pub.hasLast = true

	msg := core.NewActionMessage(core.CmdPublish)
	msg.Name = pub.Key
	msg.Payload = pub.lastValue
	msg.Time = m.currentTime
	m.mu.Unlock()

	m.send(msg)
	return nil
}

// PublishValue encodes a native value with the publication's type
// codec and publishes it.
func (m *Manager) PublishValue(pub *Publication, value any) error {
	if pub == nil {
		return ErrUnknownHandle
	}
	data, err := m.codecs.Encode(pub.Type, value)
	if err != nil {
		return err
	}
	return m.Publish(pub, data)
}

// AddValueCommand queues an incoming value command for the next
// UpdateTime pass. Commands with future timestamps stay queued.
func (m *Manager) AddValueCommand(msg core.ActionMessage) {
	if msg.Action != core.CmdPublish {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, msg)
}

// UpdateTime drains the incoming value commands with timestamps in
// (oldTime, newTime], applies them to the matching inputs in
// non-decreasing timestamp order (ties by source id), and fires
// callbacks.
func (m *Manager) UpdateTime(newTime, oldTime core.Time) {
	m.mu.Lock()

	var due, rest []core.ActionMessage
	for _, msg := range m.pending {
		if msg.Time > oldTime && msg.Time <= newTime {
			due = append(due, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	m.pending = rest
	m.currentTime = newTime

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Time != due[j].Time {
			return due[i].Time < due[j].Time
		}
		return due[i].Source < due[j].Source
	})

	type firing struct {
		fn func(*Input, core.Time)
		in *Input
		t  core.Time
	}
	var callbacks []firing
	for _, msg := range due {
		for _, in := range m.routes[msg.Name] {
			if !m.applyUpdateLocked(in, msg) {
				continue
			}
			switch {
			case in.Callback != nil:
				callbacks = append(callbacks, firing{in.Callback, in, msg.Time})
			case m.genericCallback != nil:
				callbacks = append(callbacks, firing{m.genericCallback, in, msg.Time})
			}
		}
	}
	m.mu.Unlock()

	for _, c := range callbacks {
		c.fn(c.in, c.t)
	}
}

// applyUpdateLocked stores an arriving payload on an input. It
// reports whether the input counts as updated.
func (m *Manager) applyUpdateLocked(in *Input, msg core.ActionMessage) bool {
	if in.options[OptionOnlyUpdateOnChange] && in.hasValue && bytes.Equal(in.lastValue, msg.Payload) {
		return false
	}
	in.lastValue = msg.Payload
	in.hasValue = true
	in.lastUpdate = msg.Time
	in.updated = true
	return true
}

// QueryUpdates returns the keys of the inputs updated since their
// last read, in registration order.
func (m *Manager) QueryUpdates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var updated []string
	for _, key := range m.inputOrder {
		if m.inputs[key].updated {
			updated = append(updated, key)
		}
	}
	return updated
}

// GetValueRaw returns the input's current payload, falling back to
// the default value. Reading clears the updated flag.
func (m *Manager) GetValueRaw(in *Input) ([]byte, error) {
	if in == nil {
		return nil, ErrUnknownHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	in.updated = false
	if in.hasValue || in.lastValue != nil {
		return in.lastValue, nil
	}
	return in.defaultValue, nil
}

// GetValue decodes the input's current payload with its type codec.
func (m *Manager) GetValue(in *Input) (any, error) {
	data, err := m.GetValueRaw(in)
	if err != nil {
		return nil, err
	}
	return m.codecs.Decode(in.Type, data)
}

// StartupToInitialize freezes the registration tables and announces
// the interfaces to the broker.
func (m *Manager) StartupToInitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != core.Startup {
		return fmt.Errorf("%w: %s", ErrInvalidState, m.phase)
	}
	m.phase = core.Initialize

	for _, key := range m.pubOrder {
		pub := m.publications[key]
		m.send(registrationMessage(core.CmdRegPublication, key, pub.Type, pub.Units, pub.Global))
	}
	for _, key := range m.inputOrder {
		in := m.inputs[key]
		action := core.CmdRegInput
		if in.subscription {
			action = core.CmdAddSubscriber
		}
		m.send(registrationMessage(action, key, in.Type, in.Units, !in.subscription))
	}
	return nil
}

// InitializeToExecute applies the pending default values and clears
// the flags on inputs that saw nothing but a default, so the first
// QueryUpdates after entering execution is empty.
func (m *Manager) InitializeToExecute() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != core.Initialize {
		return fmt.Errorf("%w: %s", ErrInvalidState, m.phase)
	}
	m.phase = core.Execute

	for _, key := range m.inputOrder {
		in := m.inputs[key]
		if !in.hasValue && in.defaultValue != nil {
			in.lastValue = in.defaultValue
		}
		if in.lastUpdate == core.TimeNever {
			in.updated = false
		}
	}
	return nil
}

// Disconnect leaves the federation.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.phase == core.Finalize {
		m.mu.Unlock()
		return
	}
	m.phase = core.Finalize
	m.mu.Unlock()

	m.send(core.NewActionMessage(core.CmdDisconnect))
}

func registrationMessage(action core.Action, key, valueType, units string, global bool) core.ActionMessage {
	msg := core.NewActionMessage(action)
	msg.Name = key
	payload, _ := json.Marshal(map[string]any{
		"type":   valueType,
		"units":  units,
		"global": global,
	})
	msg.Payload = payload
	return msg
}
