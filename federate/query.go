// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package federate

import "encoding/json"

// GetInput looks up an input by name. Precedence: exact local key,
// then global key, then shortcut.
func (m *Manager) GetInput(name string) (*Input, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if in, ok := m.inputs[m.localKey(name)]; ok {
		return in, nil
	}
	if in, ok := m.inputs[name]; ok {
		return in, nil
	}
	if key, ok := m.shortcuts[name]; ok {
		if in, ok := m.inputs[key]; ok {
			return in, nil
		}
	}
	return nil, ErrUnknownHandle
}

// GetInputByIndex returns the i-th registered input.
func (m *Manager) GetInputByIndex(index int) (*Input, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.inputOrder) {
		return nil, ErrUnknownHandle
	}
	return m.inputs[m.inputOrder[index]], nil
}

// GetInputIndexed looks up an input registered with one index.
func (m *Manager) GetInputIndexed(name string, index1 int) (*Input, error) {
	return m.GetInput(indexedKey(name, index1))
}

// GetInputIndexed2 looks up an input registered with two indices.
func (m *Manager) GetInputIndexed2(name string, index1, index2 int) (*Input, error) {
	return m.GetInput(indexedKey(name, index1, index2))
}

// GetSubscription looks up an input by the target it subscribes to.
func (m *Manager) GetSubscription(target string) (*Input, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if in, ok := m.subs[target]; ok {
		return in, nil
	}
	return nil, ErrUnknownHandle
}

// GetPublication looks up a publication by local or global key.
func (m *Manager) GetPublication(key string) (*Publication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if pub, ok := m.publications[m.localKey(key)]; ok {
		return pub, nil
	}
	if pub, ok := m.publications[key]; ok {
		return pub, nil
	}
	return nil, ErrUnknownHandle
}

// GetTarget returns the first source selector of an input, which for
// subscriptions is the publication key it tracks.
func (m *Manager) GetTarget(in *Input) string {
	if in == nil || len(in.sources) == 0 {
		return ""
	}
	return in.sources[0]
}

// LocalQuery answers the federate-scoped queries about registered
// interfaces. Unknown queries yield an empty string.
func (m *Manager) LocalQuery(query string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch query {
	case "publications":
		return marshalKeys(m.pubOrder)
	case "inputs":
		return marshalKeys(m.inputOrder)
	case "subscriptions":
		targets := make([]string, 0, len(m.subs))
		for _, key := range m.inputOrder {
			if in := m.inputs[key]; in.subscription {
				targets = append(targets, in.Key)
			}
		}
		return marshalKeys(targets)
	}
	return ""
}

func marshalKeys(keys []string) string {
	if keys == nil {
		keys = []string{}
	}
	data, _ := json.Marshal(keys)
	return string(data)
}
