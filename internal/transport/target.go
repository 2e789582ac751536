package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	NetworkTCP  = "tcp"
	NetworkUnix = "unix"
)

var ErrInvalidTarget = errors.New("transport: invalid target")

// Target names one stream endpoint.
type Target struct {
	Network string
	Address string
}

// ParseTarget accepts host:port, unix:<path>, or a filesystem path.
func ParseTarget(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	if path, ok := strings.CutPrefix(s, "unix:"); ok {
		if strings.TrimSpace(path) == "" {
			return Target{}, fmt.Errorf("%w: empty socket path", ErrInvalidTarget)
		}
		return Target{Network: NetworkUnix, Address: path}, nil
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") {
		return Target{Network: NetworkUnix, Address: s}, nil
	}
	if path, ok := strings.CutPrefix(s, "tcp://"); ok {
		s = path
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, raw, err)
	}
	if port == "" {
		return Target{}, fmt.Errorf("%w: %q: missing port", ErrInvalidTarget, raw)
	}
	return Target{Network: NetworkTCP, Address: net.JoinHostPort(host, port)}, nil
}

func (t Target) Validate() error {
	switch t.Network {
	case NetworkTCP, NetworkUnix:
	default:
		return fmt.Errorf("%w: unsupported network %q", ErrInvalidTarget, t.Network)
	}
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidTarget)
	}
	return nil
}

func (t Target) String() string {
	if t.Network == NetworkUnix {
		return "unix:" + t.Address
	}
	return t.Address
}
