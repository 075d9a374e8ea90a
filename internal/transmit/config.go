package transmit

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// Config describes where and what to transmit. It is a value type: a new
// Config replaces the old one wholesale, nothing mutates it in place.
type Config struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	PacketContent     string `json:"packet_content"`
	HexMode           bool   `json:"hex_mode"`
	IncludeTimestamp  bool   `json:"include_timestamp"`
	IncludeBurstIndex bool   `json:"include_burst_index"`
}

// IsValid reports whether the config can be handed to the socket layer.
func (c Config) IsValid() bool {
	return c.Validate() == nil
}

// Validate returns an error wrapping ErrConfiguration when host or port are
// unusable.
func (c Config) Validate() error {
	if !IsValidPort(c.Port) {
		return fmt.Errorf("%w: port %d out of range %d-%d", ErrConfiguration, c.Port, MinPort, MaxPort)
	}
	if !IsValidHost(c.Host) {
		return fmt.Errorf("%w: invalid host %q", ErrConfiguration, c.Host)
	}
	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// IsValidPort reports whether port is within [1,65535].
func IsValidPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// IsValidHost accepts a dotted-quad IPv4 address or a single-token hostname.
//
// Any host containing a dot must be a well-formed 4-octet IPv4 address, so
// DNS names such as "example.com" are rejected. This restriction is kept
// deliberately pending product review.
func IsValidHost(host string) bool {
	if strings.TrimSpace(host) == "" {
		return false
	}
	if strings.Contains(host, ".") {
		return isDottedQuad(host)
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func isDottedQuad(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		// Atoi accepts a leading sign
		if p[0] == '+' || p[0] == '-' {
			return false
		}
	}
	return true
}
