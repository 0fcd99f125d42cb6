// SPDX-License-Identifier: MPL-2.0

// Package netutil allocates listener ports and builds the URLs the
// orchestrator advertises for its children.
package netutil

import (
	"fmt"
	"net"
)

// AllocatePort reserves a TCP port on host. The preferred port is tried
// first; when it is occupied (or zero), the OS assigns an ephemeral one.
// The returned port is free at return time — the caller binds it shortly
// after, accepting the small reuse window that every spawn-then-bind
// handoff has.
func AllocatePort(host string, preferred int) (int, error) {
	if preferred > 0 {
		if l, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", preferred))); err == nil {
			_ = l.Close()
			return preferred, nil
		}
	}

	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("allocating port on %s: %w", host, err)
	}
	defer func() { _ = l.Close() }()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", l.Addr())
	}
	return addr.Port, nil
}

// BaseURL formats the http base URL for a host/port pair.
func BaseURL(host string, port int) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
}

// LANURL returns the URL a device on the local network would use to reach
// the app server: the configured connect host when set, otherwise the first
// non-loopback IPv4 address of this machine.
func LANURL(connectHost string, port int) string {
	if connectHost != "" {
		return BaseURL(connectHost, port)
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return BaseURL("127.0.0.1", port)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return BaseURL(ip4.String(), port)
		}
	}
	return BaseURL("127.0.0.1", port)
}
