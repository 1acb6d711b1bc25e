// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package federate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// interfaceDef is one entry of an interface document.
type interfaceDef struct {
	Key     string       `yaml:"key" json:"key"`
	Type    string       `yaml:"type" json:"type"`
	Units   string       `yaml:"units" json:"units"`
	Global  bool         `yaml:"global" json:"global"`
	Targets []string     `yaml:"targets" json:"targets"`
	Options map[int]bool `yaml:"options" json:"options"`
}

// interfaceFile is the recognised schema for interface registration
// documents.
type interfaceFile struct {
	Publications  []interfaceDef `yaml:"publications" json:"publications"`
	Subscriptions []interfaceDef `yaml:"subscriptions" json:"subscriptions"`
	Inputs        []interfaceDef `yaml:"inputs" json:"inputs"`
}

// RegisterInterfaces registers the publications, inputs, and
// subscriptions described by source, which is either a path to a
// document or the document itself, in JSON or YAML form. Valid only
// during startup.
func (m *Manager) RegisterInterfaces(source string) error {
	data := []byte(source)
	if !looksLikeDocument(source) {
		fileData, err := os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read interface file: %w", err)
		}
		data = fileData
	}

	var doc interfaceFile
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse interface document: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse interface document: %w", err)
		}
	}

	for _, def := range doc.Publications {
		var pub *Publication
		var err error
		if def.Global {
			pub, err = m.RegisterGlobalPublication(def.Key, def.Type, def.Units)
		} else {
			pub, err = m.RegisterPublication(def.Key, def.Type, def.Units)
		}
		if err != nil {
			return err
		}
		for _, target := range def.Targets {
			if err := m.AddPublicationTarget(pub, target); err != nil {
				return err
			}
		}
		for code, value := range def.Options {
			if err := m.SetPublicationOption(pub, code, value); err != nil {
				return err
			}
		}
	}

	for _, def := range doc.Inputs {
		var in *Input
		var err error
		if def.Global {
			in, err = m.RegisterGlobalInput(def.Key, def.Type, def.Units)
		} else {
			in, err = m.RegisterInput(def.Key, def.Type, def.Units)
		}
		if err != nil {
			return err
		}
		if err := m.applyInputDef(in, def); err != nil {
			return err
		}
	}

	for _, def := range doc.Subscriptions {
		in, err := m.RegisterSubscription(def.Key, def.Units)
		if err != nil {
			return err
		}
		if err := m.applyInputDef(in, def); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) applyInputDef(in *Input, def interfaceDef) error {
	for _, source := range def.Targets {
		if err := m.AddInputSource(in, source); err != nil {
			return err
		}
	}
	for code, value := range def.Options {
		if err := m.SetInputOption(in, code, value); err != nil {
			return err
		}
	}
	return nil
}

// looksLikeDocument distinguishes inline documents from file paths.
func looksLikeDocument(source string) bool {
	trimmed := strings.TrimSpace(source)
	return strings.HasPrefix(trimmed, "{") ||
		strings.Contains(trimmed, "\n") ||
		strings.Contains(trimmed, ":")
}
