// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingBroker is returned when no broker address was supplied
	// and automatic broker generation is disabled.
	ErrMissingBroker = errors.New("broker address not specified")

	// ErrInvalidPort is returned when a configured port is outside the
	// allowed range.
	ErrInvalidPort = errors.New("invalid port")
)

// ServerMode describes whether a node accepts incoming connections.
type ServerMode int

const (
	ServerModeUnspecified ServerMode = iota
	ServerDefaultActive
	ServerDefaultDeactivated
	ServerActive
	ServerDeactivated
)

func (m ServerMode) String() string {
	switch m {
	case ServerModeUnspecified:
		return "unspecified"
	case ServerDefaultActive:
		return "default_active"
	case ServerDefaultDeactivated:
		return "default_deactivated"
	case ServerActive:
		return "active"
	case ServerDeactivated:
		return "deactivated"
	}
	return "invalid"
}

// Default message limits for network brokers.
const (
	DefaultMaxMessageSize  = 16 * 256
	DefaultMaxMessageCount = 256
	DefaultMaxRetries      = 5
)

// BrokerData holds the common networking elements between brokers and
// cores: the node's listening interfaces, negotiated ports, and the
// address of the parent broker. Transports consume the record after
// CheckAndUpdateBrokerAddress has normalised it.
type BrokerData struct {
	BrokerName     string
	BrokerAddress  string
	LocalInterface string
	ConnectionAddress string

	Port           int
	BrokerPort     int
	ConnectionPort int
	PortStart      int

	MaxMessageSize  int
	MaxMessageCount int
	MaxRetries      int

	InterfaceNetwork InterfaceNetwork
	AllowedType      InterfaceType
	ServerMode       ServerMode

	ReuseAddress      bool
	UseOSPort         bool
	Autobroker        bool
	AppendNameToAddress bool
	NoAckConnection   bool
	JSONSerialization bool
}

// NewBrokerData creates a record with the defaults for the given
// transport family.
func NewBrokerData(allowed InterfaceType) BrokerData {
	return BrokerData{
		Port:            PortUnassigned,
		BrokerPort:      PortUnassigned,
		ConnectionPort:  PortUnassigned,
		PortStart:       PortUnassigned,
		MaxMessageSize:  DefaultMaxMessageSize,
		MaxMessageCount: DefaultMaxMessageCount,
		MaxRetries:      DefaultMaxRetries,
		AllowedType:     allowed,
	}
}

// CheckAndUpdateBrokerAddress validates the record and resolves the
// broker address against the given local address. On success the
// record is fully normalised for consumption by a transport.
func (d *BrokerData) CheckAndUpdateBrokerAddress(localAddress string) error {
	if d.BrokerAddress == "" && !d.Autobroker {
		return ErrMissingBroker
	}

	if d.BrokerAddress != "" {
		if _, port := ExtractInterfaceAndPort(d.BrokerAddress); port == PortUnassigned && d.BrokerPort > 0 {
			d.BrokerAddress = MakePortAddress(d.BrokerAddress, d.BrokerPort)
		}
	}

	if d.LocalInterface == "" {
		d.LocalInterface = localAddress
	}

	if d.InterfaceNetwork == NetworkLocal {
		d.LocalInterface = rewriteToLoopback(d.LocalInterface)
	}

	if d.AllowedType == TypeIPC || d.AllowedType == TypeInproc {
		d.Port = PortUnassigned
		d.BrokerPort = PortUnassigned
		d.ConnectionPort = PortUnassigned
		d.PortStart = PortUnassigned
	}

	if d.PortStart != PortUnassigned && d.PortStart < 1024 {
		return fmt.Errorf("%w: start port %d below 1024", ErrInvalidPort, d.PortStart)
	}
	if d.Port != PortUnassigned && d.Port < 1 {
		return fmt.Errorf("%w: port %d", ErrInvalidPort, d.Port)
	}
	if d.BrokerPort != PortUnassigned && d.BrokerPort < 1 {
		return fmt.Errorf("%w: broker port %d", ErrInvalidPort, d.BrokerPort)
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries %d", ErrInvalidPort, d.MaxRetries)
	}
	return nil
}

// rewriteToLoopback replaces an external host in a local-only
// interface specification with the loopback address, keeping the
// scheme and port intact.
func rewriteToLoopback(address string) string {
	if address == "" || isLoopback(address) {
		return address
	}
	scheme, rest := splitScheme(address)
	if strings.HasPrefix(rest, "ipc") || strings.HasPrefix(scheme, "ipc") ||
		strings.HasPrefix(scheme, "inproc") {
		return address
	}
	host, port := ExtractInterfaceAndPortString(rest)
	loop := "127.0.0.1"
	if IsIPv6(host) {
		loop = "::1"
	}
	if port == "" {
		return scheme + loop
	}
	if loop == "::1" {
		return scheme + "[::1]:" + port
	}
	return scheme + loop + ":" + port
}

// InterfaceNetworkFromString parses a network selector name.
func InterfaceNetworkFromString(s string) (InterfaceNetwork, error) {
	switch strings.ToLower(s) {
	case "", "local":
		return NetworkLocal, nil
	case "ipv4":
		return NetworkIPv4, nil
	case "ipv6":
		return NetworkIPv6, nil
	case "all", "external":
		return NetworkAll, nil
	}
	return NetworkLocal, fmt.Errorf("unknown interface network %q", s)
}

// InterfaceTypeFromString parses a transport family name.
func InterfaceTypeFromString(s string) (InterfaceType, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return TypeTCP, nil
	case "udp":
		return TypeUDP, nil
	case "", "ip":
		return TypeIP, nil
	case "ipc":
		return TypeIPC, nil
	case "inproc":
		return TypeInproc, nil
	}
	return TypeIP, fmt.Errorf("unknown interface type %q", s)
}

// ServerModeFromString parses a server mode name.
func ServerModeFromString(s string) (ServerMode, error) {
	switch strings.ToLower(s) {
	case "", "unspecified":
		return ServerModeUnspecified, nil
	case "default_active":
		return ServerDefaultActive, nil
	case "default_deactivated":
		return ServerDefaultDeactivated, nil
	case "active":
		return ServerActive, nil
	case "deactivated":
		return ServerDeactivated, nil
	}
	return ServerModeUnspecified, fmt.Errorf("unknown server mode %q", s)
}
