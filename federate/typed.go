// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package federate

// Typed publish and get helpers. Each is a thin adapter over the
// codec registry for one built-in type string.

func (m *Manager) publishTyped(pub *Publication, typeName string, value any) error {
	if pub == nil {
		return ErrUnknownHandle
	}
	data, err := m.codecs.Encode(typeName, value)
	if err != nil {
		return err
	}
	return m.Publish(pub, data)
}

func (m *Manager) getTyped(in *Input, typeName string) (any, error) {
	data, err := m.GetValueRaw(in)
	if err != nil {
		return nil, err
	}
	return m.codecs.Decode(typeName, data)
}

// PublishDouble publishes a float64 value.
func (m *Manager) PublishDouble(pub *Publication, value float64) error {
	return m.publishTyped(pub, "double", value)
}

// PublishInt64 publishes an int64 value.
func (m *Manager) PublishInt64(pub *Publication, value int64) error {
	return m.publishTyped(pub, "int64", value)
}

// PublishString publishes a string value.
func (m *Manager) PublishString(pub *Publication, value string) error {
	return m.publishTyped(pub, "string", value)
}

// PublishBool publishes a bool value.
func (m *Manager) PublishBool(pub *Publication, value bool) error {
	return m.publishTyped(pub, "bool", value)
}

// PublishDoubleVector publishes a []float64 value.
func (m *Manager) PublishDoubleVector(pub *Publication, value []float64) error {
	return m.publishTyped(pub, "double_vector", value)
}

// GetDouble reads the input's current value as a float64.
func (m *Manager) GetDouble(in *Input) (float64, error) {
	v, err := m.getTyped(in, "double")
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// GetInt64 reads the input's current value as an int64.
func (m *Manager) GetInt64(in *Input) (int64, error) {
	v, err := m.getTyped(in, "int64")
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// GetString reads the input's current value as a string.
func (m *Manager) GetString(in *Input) (string, error) {
	v, err := m.getTyped(in, "string")
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetBool reads the input's current value as a bool.
func (m *Manager) GetBool(in *Input) (bool, error) {
	v, err := m.getTyped(in, "bool")
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// GetDoubleVector reads the input's current value as a []float64.
func (m *Manager) GetDoubleVector(in *Input) ([]float64, error) {
	v, err := m.getTyped(in, "double_vector")
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}
