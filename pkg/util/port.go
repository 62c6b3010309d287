package util

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ParsePort parses either a plain port ("12557") or the port of a URL
// ("tcp://127.0.0.1:12557").
func ParsePort(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("port cannot be empty")
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q: %w", s, err)
		}
		p := u.Port()
		if p == "" {
			return 0, fmt.Errorf("failed to parse port from URL %q", s)
		}
		return parsePortNumber(p)
	}

	return parsePortNumber(s)
}

func parsePortNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q: out of range", s)
	}
	return n, nil
}

// FreePort returns the first port, starting at preferred, that can be bound on
// host. It checks up to 100 consecutive ports.
func FreePort(host string, preferred int) (int, error) {
	if preferred == 0 {
		l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return 0, fmt.Errorf("could not find an open port at %s: %w", host, err)
		}
		defer l.Close()
		return l.Addr().(*net.TCPAddr).Port, nil
	}

	var lastErr error
	for port := preferred; port < preferred+100 && port <= 65535; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			lastErr = err
			continue
		}
		_ = l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("could not find an open port at %s: %w", host, lastErr)
}
