// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package network implements the address model and broker metadata
// shared by all networking brokers and cores: parsing and composing
// endpoint strings, IPv4/IPv6 classification, interface selection, and
// the normalised description of a node's listening configuration.
package network

import (
	"strconv"
	"strings"
)

// InterfaceNetwork selects which networks a node opens ports on.
type InterfaceNetwork int

const (
	NetworkLocal InterfaceNetwork = iota // local ports only
	NetworkIPv4                          // external ipv4 ports
	NetworkIPv6                          // external ipv6 ports
	NetworkAll                           // all external ports
)

func (n InterfaceNetwork) String() string {
	switch n {
	case NetworkLocal:
		return "local"
	case NetworkIPv4:
		return "ipv4"
	case NetworkIPv6:
		return "ipv6"
	case NetworkAll:
		return "all"
	}
	return "invalid"
}

// InterfaceType selects the transport family an address belongs to.
type InterfaceType int

const (
	TypeTCP InterfaceType = iota
	TypeUDP
	TypeIP // either tcp or udp
	TypeIPC
	TypeInproc
)

func (t InterfaceType) String() string {
	switch t {
	case TypeTCP:
		return "tcp"
	case TypeUDP:
		return "udp"
	case TypeIP:
		return "ip"
	case TypeIPC:
		return "ipc"
	case TypeInproc:
		return "inproc"
	}
	return "invalid"
}

// PortUnassigned is the sentinel for a port that has not been chosen.
const PortUnassigned = -1

// splitScheme separates a leading "scheme://" prefix from the rest of
// the address. The returned scheme includes the separator.
func splitScheme(address string) (scheme, rest string) {
	if idx := strings.Index(address, "://"); idx >= 0 {
		return address[:idx+3], address[idx+3:]
	}
	return "", address
}

// MakePortAddress merges an interface string and a port number. An
// existing ":port" suffix is replaced, IPv6 literals are wrapped in
// brackets, a negative port leaves the interface unchanged, and
// ipc/inproc interfaces never carry ports.
func MakePortAddress(networkInterface string, port int) string {
	if strings.HasPrefix(networkInterface, "ipc://") ||
		strings.HasPrefix(networkInterface, "inproc://") {
		return networkInterface
	}
	if port < 0 {
		return networkInterface
	}

	scheme, rest := splitScheme(networkInterface)
	if IsIPv6(rest) {
		host := rest
		if open := strings.Index(rest, "["); open >= 0 {
			if closing := strings.Index(rest, "]"); closing > open {
				host = rest[open+1 : closing]
			}
		}
		return scheme + "[" + host + "]:" + strconv.Itoa(port)
	}

	host := rest
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		host = rest[:idx]
	}
	return scheme + host + ":" + strconv.Itoa(port)
}

// ExtractInterfaceAndPortString splits an address at the last ':' not
// inside brackets, keeping the textual port so service names survive.
// An address without a usable port yields an empty port string.
func ExtractInterfaceAndPortString(address string) (string, string) {
	depth := 0
	idx := -1
	for i, c := range address {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ':':
			if depth == 0 {
				idx = i
			}
		}
	}
	if idx < 0 {
		return address, ""
	}

	port := address[idx+1:]
	// A '/' after the colon means we split a scheme separator, not a
	// port suffix.
	if port == "" || strings.Contains(port, "/") {
		return address, ""
	}
	return unbracket(address[:idx]), port
}

// ExtractInterfaceAndPort splits an address into interface and numeric
// port. A missing or non-numeric suffix yields PortUnassigned with the
// address untouched.
func ExtractInterfaceAndPort(address string) (string, int) {
	iface, portStr := ExtractInterfaceAndPortString(address)
	if portStr == "" {
		return address, PortUnassigned
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return address, PortUnassigned
	}
	return iface, port
}

// unbracket removes the brackets around an IPv6 literal, preserving
// any scheme prefix.
func unbracket(address string) string {
	scheme, rest := splitScheme(address)
	if strings.HasPrefix(rest, "[") && strings.HasSuffix(rest, "]") {
		return scheme + rest[1:len(rest)-1]
	}
	return address
}

// StripProtocol removes any leading "scheme://" from the address.
func StripProtocol(address string) string {
	_, rest := splitScheme(address)
	return rest
}

// RemoveProtocol strips the protocol prefix in place.
func RemoveProtocol(address *string) {
	*address = StripProtocol(*address)
}

// AddProtocol prefixes the address with the scheme matching the
// interface type unless one is already present. TypeIP defaults to tcp.
func AddProtocol(address string, interfaceType InterfaceType) string {
	if strings.Contains(address, "://") {
		return address
	}
	switch interfaceType {
	case TypeTCP, TypeIP:
		return "tcp://" + address
	case TypeUDP:
		return "udp://" + address
	case TypeIPC:
		return "ipc://" + address
	case TypeInproc:
		return "inproc://" + address
	}
	return address
}

// InsertProtocol adds the scheme prefix in place.
func InsertProtocol(address *string, interfaceType InterfaceType) {
	*address = AddProtocol(*address, interfaceType)
}

// IsIPv6 reports whether an address looks like an IPv6 endpoint: a
// bracketed literal, a "::" shorthand, or more than one colon outside
// the port separator.
func IsIPv6(address string) bool {
	addr := StripProtocol(address)
	if strings.Contains(addr, "::") || strings.Contains(addr, "[") {
		return true
	}
	return strings.Count(addr, ":") >= 2
}

func isLoopback(address string) bool {
	addr := StripProtocol(address)
	if bare := strings.Trim(addr, "[]"); bare == "::1" || bare == "localhost" ||
		strings.HasPrefix(bare, "127.") {
		return true
	}
	host, _ := ExtractInterfaceAndPortString(addr)
	host = strings.Trim(host, "[]")
	return strings.HasPrefix(host, "127.") || host == "::1" || host == "localhost"
}

// PrioritizeExternalAddresses combines two candidate lists into a
// rough priority order: addresses present in both lists first (deduped,
// in high order), then the remaining high entries, then the remaining
// low entries. Loopback addresses sink to the end of each tier.
func PrioritizeExternalAddresses(high, low []string) []string {
	inLow := make(map[string]bool, len(low))
	for _, a := range low {
		inLow[a] = true
	}

	seen := make(map[string]bool)
	var both, onlyHigh, onlyLow []string
	for _, a := range high {
		if seen[a] {
			continue
		}
		seen[a] = true
		if inLow[a] {
			both = append(both, a)
		} else {
			onlyHigh = append(onlyHigh, a)
		}
	}
	for _, a := range low {
		if seen[a] {
			continue
		}
		seen[a] = true
		onlyLow = append(onlyLow, a)
	}

	result := make([]string, 0, len(seen))
	for _, tier := range [][]string{both, onlyHigh, onlyLow} {
		result = append(result, loopbackLast(tier)...)
	}
	return result
}

// loopbackLast stably moves loopback addresses to the end of the list.
func loopbackLast(addresses []string) []string {
	ordered := make([]string, 0, len(addresses))
	var loopbacks []string
	for _, a := range addresses {
		if isLoopback(a) {
			loopbacks = append(loopbacks, a)
		} else {
			ordered = append(ordered, a)
		}
	}
	return append(ordered, loopbacks...)
}

// GenerateMatchingInterfaceAddress picks the best local interface for
// reaching the given server on the requested network. NetworkLocal
// yields a loopback address, NetworkAll an unspecified bind address,
// and the family-specific networks the matching external address.
func GenerateMatchingInterfaceAddress(server string, network InterfaceNetwork) string {
	switch network {
	case NetworkIPv4:
		return LocalExternalAddressV4(server)
	case NetworkIPv6:
		return LocalExternalAddressV6(server)
	case NetworkAll:
		if server != "" && IsIPv6(server) {
			return "::"
		}
		return "0.0.0.0"
	default:
		if server != "" && IsIPv6(server) {
			return "::1"
		}
		return "127.0.0.1"
	}
}
