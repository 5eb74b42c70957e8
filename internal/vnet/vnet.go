// Package vnet implements a pluggable pseudo-transport: a locator format, an
// interface enumerator, and an "is this address reachable without going
// through the network stack" primitive. Connect/Send/Recv are intentionally
// unimplemented stubs — this package demonstrates the transport plug-in
// shape without providing one, the way a reference driver demonstrates an
// interface without being production-ready.
package vnet

import (
	"errors"
	"fmt"
	"net"
)

// ErrNotImplemented is returned by every Transport method. vnet registers a
// transport kind but performs no I/O.
var ErrNotImplemented = errors.New("vnet: not implemented")

// Locator is a flat, kind-tagged 16-byte address plus port, the shape every
// transport plug-in reduces its native addressing down to.
type Locator struct {
	Kind    string
	Port    uint32
	Address [16]byte
}

// Equal reports whether two locators name the same endpoint ignoring port:
// same kind and same 16-byte address.
func (l Locator) Equal(other Locator) bool {
	return l.Kind == other.Kind && l.Address == other.Address
}

// String renders the locator as "kind://address:port" for logs.
func (l Locator) String() string {
	return fmt.Sprintf("%s://%x:%d", l.Kind, l.Address, l.Port)
}

// Nearby classifies how close a remote locator is to a local one.
type Nearby int

const (
	// Unreachable is every other case: a different kind, or the same kind
	// and address on a different port.
	Unreachable Nearby = iota
	// Distant means same kind, different address: reachable through the
	// transport but not the same endpoint.
	Distant
	// Self means same kind, same address, and same port: the exact same
	// endpoint.
	Self
)

func (n Nearby) String() string {
	switch n {
	case Self:
		return "self"
	case Distant:
		return "distant"
	default:
		return "unreachable"
	}
}

// IsNearby classifies remote relative to local: Self on an exact match
// including port, Distant if the kind matches but the address doesn't,
// Unreachable otherwise.
func IsNearby(local, remote Locator) Nearby {
	if local.Kind == remote.Kind && local.Address == remote.Address && local.Port == remote.Port {
		return Self
	}
	if local.Kind == remote.Kind && local.Address != remote.Address {
		return Distant
	}
	return Unreachable
}

// Transport is the pluggable pseudo-transport contract: a named kind with
// connect/send/recv primitives. Every method is a null leaf here; a real
// plug-in would replace this package's Transport with one that drives an
// actual socket, ring buffer, or shared-memory segment.
type Transport interface {
	Kind() string
	Connect(remote Locator) error
	Send(remote Locator, payload []byte) error
	Recv() ([]byte, Locator, error)
}

// NullTransport registers under Kind and implements Transport with
// ErrNotImplemented on every call.
type NullTransport struct {
	kind string
}

// NewNullTransport returns a Transport for kind that performs no I/O.
func NewNullTransport(kind string) *NullTransport {
	return &NullTransport{kind: kind}
}

func (t *NullTransport) Kind() string { return t.kind }

func (t *NullTransport) Connect(Locator) error { return ErrNotImplemented }

func (t *NullTransport) Send(Locator, []byte) error { return ErrNotImplemented }

func (t *NullTransport) Recv() ([]byte, Locator, error) { return nil, Locator{}, ErrNotImplemented }

// Interface describes one local network interface as a candidate locator
// source.
type Interface struct {
	Name string
	Addr string
}

// Interfaces enumerates the host's network interfaces, composing each
// address the same way a service-address accessor composes host and port:
// a plain formatted join, not a parsed/validated URL.
func Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("vnet: enumerate interfaces: %w", err)
	}
	var out []Interface
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			out = append(out, Interface{Name: iface.Name, Addr: a.String()})
		}
	}
	return out, nil
}
