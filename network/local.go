// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"net"
	"strings"
)

// localAddresses enumerates the usable unicast addresses of the host
// for one family. Interfaces that are down are skipped; loopback
// addresses are included last so callers can fall back to them.
func localAddresses(v6 bool) []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var external, loopback []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if (ip.To4() != nil) == v6 {
				continue
			}
			if ip.IsLinkLocalUnicast() {
				continue
			}
			if ip.IsLoopback() {
				loopback = append(loopback, ip.String())
			} else {
				external = append(external, ip.String())
			}
		}
	}
	return append(external, loopback...)
}

// matchAddress picks the candidate sharing the longest prefix with the
// server's host, falling back to the first candidate.
func matchAddress(candidates []string, server string) string {
	if len(candidates) == 0 {
		return ""
	}
	host, _ := ExtractInterfaceAndPortString(StripProtocol(server))
	host = strings.Trim(host, "[]")
	if host == "" {
		return candidates[0]
	}

	best := candidates[0]
	bestLen := 0
	for _, c := range candidates {
		l := commonPrefixLen(c, host)
		if l > bestLen {
			best, bestLen = c, l
		}
	}
	return best
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// LocalExternalAddressV4 returns the external IPv4 address of this
// host that best matches the given server, or the loopback address if
// the host has no external interface.
func LocalExternalAddressV4(server string) string {
	if addr := matchAddress(localAddresses(false), server); addr != "" {
		return addr
	}
	return "127.0.0.1"
}

// LocalExternalAddressV6 returns the external IPv6 address of this
// host that best matches the given server, or the loopback address if
// the host has no external interface.
func LocalExternalAddressV6(server string) string {
	if addr := matchAddress(localAddresses(true), server); addr != "" {
		return addr
	}
	return "::1"
}
