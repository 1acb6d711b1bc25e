// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/absmach/cosim/network"
)

// Config holds all configuration for a broker or core node.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Log     LogConfig     `yaml:"log"`
	Network NetworkConfig `yaml:"network"`
}

// BrokerConfig holds the dispatch-loop settings.
type BrokerConfig struct {
	// Identifier names the node; generated as <pid>-<uuid> when empty.
	Identifier string `yaml:"identifier"`

	// MinFederates is the number of federates that must connect
	// before the federation can initialize.
	MinFederates int `yaml:"federates"`

	// MinBrokers is the number of subbrokers that must connect
	// (ignored in cores).
	MinBrokers int `yaml:"minbroker"`

	// MaxIterations bounds iterative time negotiation.
	MaxIterations int `yaml:"maxiter"`

	// Tick is the watchdog period. Two ticks with no intervening
	// traffic trigger secondary liveness actions.
	Tick time.Duration `yaml:"tick"`

	// Timeout bounds the wait for a parent broker connection.
	Timeout time.Duration `yaml:"timeout"`

	// DumpLog records every processed command and emits the record on
	// termination.
	DumpLog bool `yaml:"dumplog"`

	// DumpLogDir persists the dump record to an on-disk archive when
	// set.
	DumpLogDir string `yaml:"dumplog_dir"`
}

// LogConfig holds logging configuration. Levels follow the federation
// convention: higher values log more, messages above the maximum of
// the two levels are dropped at source.
type LogConfig struct {
	ConsoleLevel int    `yaml:"consoleloglevel"`
	FileLevel    int    `yaml:"fileloglevel"`
	File         string `yaml:"logfile"`
	Format       string `yaml:"format"` // text, json
}

// NetworkConfig holds the node's interface description in file form.
type NetworkConfig struct {
	BrokerAddress  string `yaml:"broker_address"`
	LocalInterface string `yaml:"local_interface"`

	Port       int `yaml:"port"`
	BrokerPort int `yaml:"broker_port"`
	PortStart  int `yaml:"port_start"`

	InterfaceNetwork string `yaml:"interface_network"` // local, ipv4, ipv6, all
	InterfaceType    string `yaml:"interface_type"`    // tcp, udp, ip, ipc, inproc
	ServerMode       string `yaml:"server_mode"`

	MaxMessageSize  int `yaml:"max_message_size"`
	MaxMessageCount int `yaml:"max_message_count"`
	MaxRetries      int `yaml:"max_retries"`

	ReuseAddress      bool `yaml:"reuse_address"`
	UseOSPort         bool `yaml:"use_os_port"`
	Autobroker        bool `yaml:"autobroker"`
	AppendName        bool `yaml:"append_name"`
	NoAck             bool `yaml:"no_ack"`
	JSONSerialization bool `yaml:"json_serialization"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			MinFederates: 1,
			MinBrokers:   0,
			Tick:         500 * time.Millisecond,
			Timeout:      30 * time.Second,
		},
		Log: LogConfig{
			ConsoleLevel: 1,
			FileLevel:    1,
			Format:       "text",
		},
		Network: NetworkConfig{
			Port:            network.PortUnassigned,
			BrokerPort:      network.PortUnassigned,
			PortStart:       network.PortUnassigned,
			MaxMessageSize:  network.DefaultMaxMessageSize,
			MaxMessageCount: network.DefaultMaxMessageCount,
			MaxRetries:      network.DefaultMaxRetries,
			Autobroker:      true,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.MinFederates < 0 {
		return fmt.Errorf("broker.federates cannot be negative")
	}
	if c.Broker.MinBrokers < 0 {
		return fmt.Errorf("broker.minbroker cannot be negative")
	}
	if c.Broker.Tick < 10*time.Millisecond {
		return fmt.Errorf("broker.tick must be at least 10ms")
	}
	if c.Broker.Timeout < 0 {
		return fmt.Errorf("broker.timeout cannot be negative")
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if _, err := network.InterfaceNetworkFromString(c.Network.InterfaceNetwork); err != nil {
		return fmt.Errorf("network.interface_network: %w", err)
	}
	if _, err := network.InterfaceTypeFromString(c.Network.InterfaceType); err != nil {
		return fmt.Errorf("network.interface_type: %w", err)
	}
	if _, err := network.ServerModeFromString(c.Network.ServerMode); err != nil {
		return fmt.Errorf("network.server_mode: %w", err)
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("network.max_retries cannot be negative")
	}

	return nil
}

// BrokerData converts the file form into the normalised record
// consumed by transports. The record still needs
// CheckAndUpdateBrokerAddress before use.
func (c *Config) BrokerData() network.BrokerData {
	// Validate already rejected unknown enum names.
	net, _ := network.InterfaceNetworkFromString(c.Network.InterfaceNetwork)
	typ, _ := network.InterfaceTypeFromString(c.Network.InterfaceType)
	mode, _ := network.ServerModeFromString(c.Network.ServerMode)

	d := network.NewBrokerData(typ)
	d.BrokerName = c.Broker.Identifier
	d.BrokerAddress = c.Network.BrokerAddress
	d.LocalInterface = c.Network.LocalInterface
	d.Port = c.Network.Port
	d.BrokerPort = c.Network.BrokerPort
	d.PortStart = c.Network.PortStart
	d.MaxMessageSize = c.Network.MaxMessageSize
	d.MaxMessageCount = c.Network.MaxMessageCount
	d.MaxRetries = c.Network.MaxRetries
	d.InterfaceNetwork = net
	d.ServerMode = mode
	d.ReuseAddress = c.Network.ReuseAddress
	d.UseOSPort = c.Network.UseOSPort
	d.Autobroker = c.Network.Autobroker
	d.AppendNameToAddress = c.Network.AppendName
	d.NoAckConnection = c.Network.NoAck
	d.JSONSerialization = c.Network.JSONSerialization
	return d
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
