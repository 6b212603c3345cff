// Package electrum implements a client for the electrum wire protocol and a
// background worker that keeps a wallet synchronized against an electrum
// server.
package electrum

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	// ErrBadServerAddress is returned when a server address string cannot
	// be parsed.
	ErrBadServerAddress = errors.New("invalid electrum server address")
)

// Security is the transport security of an electrum connection.
type Security uint8

const (
	// SecurityNone is a plaintext TCP connection.
	SecurityNone Security = iota

	// SecurityTLS is a TLS connection.
	SecurityTLS

	// SecurityTor is a plaintext connection routed through a local Tor
	// proxy. The dialer assumes a transparent proxy is configured.
	SecurityTor
)

// String returns the security scheme name.
func (s Security) String() string {
	switch s {
	case SecurityTLS:
		return "tls"
	case SecurityTor:
		return "tor"
	default:
		return "tcp"
	}
}

// DefaultPort returns the conventional electrum port for the security
// scheme: 50001 for plaintext, 50002 for TLS.
func (s Security) DefaultPort() uint16 {
	if s == SecurityTLS {
		return 50002
	}

	return 50001
}

// Server describes an electrum server endpoint.
type Server struct {
	// Host is the server hostname or address.
	Host string

	// Port is the TCP port. Zero selects the default port of the
	// security scheme.
	Port uint16

	// Security is the transport security of the connection.
	Security Security
}

// Well-known public servers offered as presets.
var (
	// ServerMyCitadel is the wallet vendor's own electrum endpoint.
	ServerMyCitadel = Server{
		Host:     "electrum.mycitadel.io",
		Security: SecurityTLS,
	}

	// ServerBlockstream is the blockstream.info electrum endpoint.
	ServerBlockstream = Server{
		Host:     "electrum.blockstream.info",
		Security: SecurityTLS,
	}
)

// Addr returns the dialable host:port address of the server.
func (s Server) Addr() string {
	port := s.Port
	if port == 0 {
		port = s.Security.DefaultPort()
	}

	return net.JoinHostPort(s.Host, strconv.Itoa(int(port)))
}

// String returns the scheme-prefixed server address.
func (s Server) String() string {
	return fmt.Sprintf("%s://%s", s.Security, s.Addr())
}

// ParseServer parses a "host", "host:port" or "scheme://host:port" server
// string. Onion hosts default to the Tor scheme.
func ParseServer(addr string) (Server, error) {
	server := Server{Security: SecurityTLS}

	if scheme, rest, found := strings.Cut(addr, "://"); found {
		switch scheme {
		case "tcp":
			server.Security = SecurityNone
		case "tls", "ssl":
			server.Security = SecurityTLS
		case "tor":
			server.Security = SecurityTor
		default:
			return Server{}, fmt.Errorf("%w: unknown scheme %q",
				ErrBadServerAddress, scheme)
		}
		addr = rest
	}

	if addr == "" {
		return Server{}, fmt.Errorf("%w: empty host",
			ErrBadServerAddress)
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = ""
	}
	if host == "" {
		return Server{}, fmt.Errorf("%w: empty host",
			ErrBadServerAddress)
	}

	if portStr != "" {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Server{}, fmt.Errorf("%w: bad port %q",
				ErrBadServerAddress, portStr)
		}
		server.Port = uint16(port)
	}

	server.Host = host
	if strings.HasSuffix(host, ".onion") {
		server.Security = SecurityTor
	}

	return server, nil
}
