// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakePortAddress(t *testing.T) {
	tests := []struct {
		iface string
		port  int
		want  string
	}{
		{"127.0.0.1", 5678, "127.0.0.1:5678"},
		{"127.0.0.1:34", 99, "127.0.0.1:99"},
		{"tcp://127.0.0.1", 34, "tcp://127.0.0.1:34"},
		{"::1", 80, "[::1]:80"},
		{"[::1]:45", 80, "[::1]:80"},
		{"tcp://::1", 80, "tcp://[::1]:80"},
		{"127.0.0.1", -1, "127.0.0.1"},
		{"ipc://broker_pipe", 45, "ipc://broker_pipe"},
		{"inproc://local", 45, "inproc://local"},
	}

	for _, tt := range tests {
		if got := MakePortAddress(tt.iface, tt.port); got != tt.want {
			t.Errorf("MakePortAddress(%q, %d) = %q, want %q", tt.iface, tt.port, got, tt.want)
		}
	}
}

func TestExtractInterfaceAndPort(t *testing.T) {
	tests := []struct {
		address  string
		iface    string
		port     int
	}{
		{"127.0.0.1:5678", "127.0.0.1", 5678},
		{"127.0.0.1", "127.0.0.1", -1},
		{"tcp://127.0.0.1:5678", "tcp://127.0.0.1", 5678},
		{"tcp://127.0.0.1", "tcp://127.0.0.1", -1},
		{"[::1]:80", "::1", 80},
		{"broker.example.com:24160", "broker.example.com", 24160},
		{"broker.example.com:http", "broker.example.com:http", -1},
	}

	for _, tt := range tests {
		iface, port := ExtractInterfaceAndPort(tt.address)
		if iface != tt.iface || port != tt.port {
			t.Errorf("ExtractInterfaceAndPort(%q) = (%q, %d), want (%q, %d)",
				tt.address, iface, port, tt.iface, tt.port)
		}
	}
}

func TestExtractInterfaceAndPortString(t *testing.T) {
	iface, port := ExtractInterfaceAndPortString("broker.example.com:http")
	assert.Equal(t, "broker.example.com", iface)
	assert.Equal(t, "http", port)

	iface, port = ExtractInterfaceAndPortString("broker.example.com")
	assert.Equal(t, "broker.example.com", iface)
	assert.Empty(t, port)
}

func TestRoundTrip(t *testing.T) {
	for _, tt := range []struct {
		iface string
		port  int
	}{
		{"127.0.0.1", 5678},
		{"192.168.2.14", 1},
		{"10.0.0.1", 65535},
	} {
		iface, port := ExtractInterfaceAndPort(MakePortAddress(tt.iface, tt.port))
		assert.Equal(t, tt.iface, iface)
		assert.Equal(t, tt.port, port)
	}
}

func TestStripProtocol(t *testing.T) {
	assert.Equal(t, "127.0.0.1:5678", StripProtocol("tcp://127.0.0.1:5678"))
	assert.Equal(t, "127.0.0.1", StripProtocol("127.0.0.1"))

	addr := "udp://192.168.0.1:20"
	RemoveProtocol(&addr)
	assert.Equal(t, "192.168.0.1:20", addr)
}

func TestAddProtocol(t *testing.T) {
	tests := []struct {
		address string
		typ     InterfaceType
		want    string
	}{
		{"127.0.0.1", TypeTCP, "tcp://127.0.0.1"},
		{"127.0.0.1", TypeIP, "tcp://127.0.0.1"},
		{"127.0.0.1", TypeUDP, "udp://127.0.0.1"},
		{"pipe", TypeIPC, "ipc://pipe"},
		{"local", TypeInproc, "inproc://local"},
		{"tcp://127.0.0.1", TypeUDP, "tcp://127.0.0.1"},
	}

	for _, tt := range tests {
		if got := AddProtocol(tt.address, tt.typ); got != tt.want {
			t.Errorf("AddProtocol(%q, %v) = %q, want %q", tt.address, tt.typ, got, tt.want)
		}
	}

	addr := "192.168.1.1"
	InsertProtocol(&addr, TypeTCP)
	assert.Equal(t, "tcp://192.168.1.1", addr)
}

func TestIsIPv6(t *testing.T) {
	tests := []struct {
		address string
		want    bool
	}{
		{"127.0.0.1", false},
		{"127.0.0.1:5678", false},
		{"tcp://127.0.0.1:5678", false},
		{"::1", true},
		{"[::1]:80", true},
		{"fe80:0:0:0:1:2:3:4", true},
		{"tcp://[2001:db8::2]:443", true},
		{"broker.example.com:80", false},
	}

	for _, tt := range tests {
		if got := IsIPv6(tt.address); got != tt.want {
			t.Errorf("IsIPv6(%q) = %v, want %v", tt.address, got, tt.want)
		}
	}
}

func TestPrioritizeExternalAddresses(t *testing.T) {
	got := PrioritizeExternalAddresses([]string{"a", "b", "c"}, []string{"b", "d"})
	assert.Equal(t, []string{"b", "a", "c", "d"}, got)
}

func TestPrioritizeExternalAddressesLoopbackLast(t *testing.T) {
	got := PrioritizeExternalAddresses(
		[]string{"127.0.0.1", "192.168.1.5"},
		[]string{"10.1.1.1", "127.0.0.1"})
	assert.Equal(t, []string{"127.0.0.1", "192.168.1.5", "10.1.1.1"}, got)

	got = PrioritizeExternalAddresses([]string{"127.0.0.1", "192.168.1.5"}, nil)
	assert.Equal(t, []string{"192.168.1.5", "127.0.0.1"}, got)
}

func TestPrioritizeExternalAddressesDedup(t *testing.T) {
	got := PrioritizeExternalAddresses([]string{"a", "a", "b"}, []string{"b", "b"})
	assert.Equal(t, []string{"b", "a"}, got)
}

func TestGenerateMatchingInterfaceAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1", GenerateMatchingInterfaceAddress("", NetworkLocal))
	assert.Equal(t, "::1", GenerateMatchingInterfaceAddress("[2001:db8::2]:443", NetworkLocal))
	assert.Equal(t, "0.0.0.0", GenerateMatchingInterfaceAddress("192.168.1.1", NetworkAll))
	assert.Equal(t, "::", GenerateMatchingInterfaceAddress("2001:db8::2", NetworkAll))

	// The external lookups depend on the host; they must still be
	// total and family-consistent.
	v4 := GenerateMatchingInterfaceAddress("192.168.1.1", NetworkIPv4)
	assert.NotEmpty(t, v4)
	assert.False(t, IsIPv6(v4))

	v6 := GenerateMatchingInterfaceAddress("2001:db8::2", NetworkIPv6)
	assert.NotEmpty(t, v6)
}
