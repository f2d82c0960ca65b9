// Package endpoint defines the addressable identity used to bind and
// connect every transport in wireq: a (transport, host, port, path) tuple.
package endpoint

import (
	"fmt"
	"strings"
)

// Transport names a wire carrier. Only two are recognized by the core.
type Transport int

const (
	// Inproc is the zero-network, in-process byte-queue transport.
	Inproc Transport = iota
	// Tcp is a plain stream socket transport.
	Tcp
)

// String renders the transport the way it appears in an endpoint URI.
func (t Transport) String() string {
	switch t {
	case Inproc:
		return "inproc"
	case Tcp:
		return "tcp"
	default:
		return "unknown"
	}
}

// Endpoint is a value type naming a bindable or connectable address.
//
// Equality follows spec: for Tcp, Path does not participate; for any other
// transport (Inproc), all fields participate. Host comparison is always
// case-insensitive.
type Endpoint struct {
	Transport Transport
	Host      string
	Port      uint16
	Path      string
}

// New builds an Endpoint, defaulting Path to "/" when empty.
func New(transport Transport, host string, port uint16, path string) Endpoint {
	if path == "" {
		path = "/"
	}
	return Endpoint{Transport: transport, Host: host, Port: port, Path: path}
}

// Parse reads "<scheme>://<host>:<port><path>" into an Endpoint.
//
// Parsing is peripheral plumbing (spec §1 out-of-scope), kept deliberately
// small: no third-party URI library earns its keep for a format this
// constrained.
func Parse(uri string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint: missing scheme in %q", uri)
	}

	var transport Transport
	switch strings.ToLower(scheme) {
	case "tcp":
		transport = Tcp
	case "inproc":
		transport = Inproc
	default:
		return Endpoint{}, fmt.Errorf("endpoint: unknown scheme %q", scheme)
	}

	hostPort, path, hasPath := strings.Cut(rest, "/")
	if hasPath {
		path = "/" + path
	} else {
		path = "/"
	}

	host, portStr, ok := strings.Cut(hostPort, ":")
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint: missing port in %q", uri)
	}

	var port uint32
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid port %q: %w", portStr, err)
	}

	return New(transport, host, uint16(port), path), nil
}

// Equal implements spec's equality rule: Tcp endpoints ignore Path.
func (e Endpoint) Equal(other Endpoint) bool {
	if e.Transport != other.Transport {
		return false
	}
	if !strings.EqualFold(e.Host, other.Host) {
		return false
	}
	if e.Port != other.Port {
		return false
	}
	if e.Transport == Tcp {
		return true
	}
	return e.path() == other.path()
}

// Key returns a comparable value fit for use as a map key, consistent with
// Equal. Two endpoints that are Equal always produce the same Key.
func (e Endpoint) Key() Endpoint {
	k := e
	k.Host = strings.ToLower(k.Host)
	if k.Transport == Tcp {
		k.Path = ""
	} else {
		k.Path = k.path()
	}
	return k
}

func (e Endpoint) path() string {
	if e.Path == "" {
		return "/"
	}
	return e.Path
}

// String renders the canonical URI form.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%d%s", e.Transport, e.Host, e.Port, e.path())
}
