package addr

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
)

// DefaultAPIBase is the RPC path prefix of a stock IPFS node.
const DefaultAPIBase = "api/v0"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ResolvedEndpoint is the HTTP location a session talks to.
// BaseURL always has an http or https scheme and always ends in "/".
type ResolvedEndpoint struct {
	BaseURL       string
	HostIsNumeric bool
}

// Root returns BaseURL without its trailing API base path, keeping any path
// prefix the node is mounted under.
func (e ResolvedEndpoint) Root(apiBase string) string {
	root := strings.TrimSuffix(e.BaseURL, normalizeBase(apiBase))
	return strings.TrimSuffix(root, "/")
}

// Resolve turns a multiaddr descriptor or an absolute http(s) URL into an endpoint.
//
// The multiaddr form is tried first. The input is treated as a plain URL only when
// it is not a multiaddr at all; a well-formed multiaddr of an unsupported shape
// (e.g. /ip4/127.0.0.1/udp/5001) fails with an AddressError.
func Resolve(descriptor, apiBase string) (ResolvedEndpoint, error) {
	endpoint, err := ParseMultiaddr(descriptor, apiBase)
	if err == nil {
		return endpoint, nil
	}
	if !errors.Is(err, interfaces.ErrUnrecognizedDescriptor) {
		return ResolvedEndpoint{}, err
	}

	if !IsValidURL(descriptor) {
		return ResolvedEndpoint{}, fmt.Errorf("%w: %q", interfaces.ErrInvalidAddress, descriptor)
	}
	return fromURL(descriptor, apiBase)
}

// IsValidURL reports whether s is a well-formed absolute http or https URL.
func IsValidURL(s string) bool {
	return validate.Var(s, "required,http_url") == nil
}

type parseStep int

const (
	stepHost parseStep = iota
	stepTransport
	stepApplication
	stepDone
)

// ParseMultiaddr resolves descriptors of the form
// /<ip4|ip6|dns|dns4|dns6>/<host>/tcp/<port>[/http|/https].
func ParseMultiaddr(descriptor, apiBase string) (ResolvedEndpoint, error) {
	m, err := ma.NewMultiaddr(descriptor)
	if err != nil {
		return ResolvedEndpoint{}, &interfaces.AddressError{
			Addr: descriptor,
			Err:  fmt.Errorf("%w: %w", interfaces.ErrUnrecognizedDescriptor, err),
		}
	}

	var (
		host, port string
		numeric    bool
		secure     bool
		step       = stepHost
	)

	for i := range m {
		c := &m[i]
		switch step {
		case stepHost:
			switch c.Code() {
			case ma.P_IP4, ma.P_IP6:
				numeric = true
			case ma.P_DNS, ma.P_DNS4, ma.P_DNS6:
			default:
				return ResolvedEndpoint{}, unsupported(descriptor, "host must be ip4, ip6 or dns, got %s", c.Protocol().Name)
			}
			host = c.Value()
			step = stepTransport
		case stepTransport:
			if c.Code() != ma.P_TCP {
				return ResolvedEndpoint{}, unsupported(descriptor, "transport must be tcp, got %s", c.Protocol().Name)
			}
			port = c.Value()
			step = stepApplication
		case stepApplication:
			switch c.Code() {
			case ma.P_HTTPS:
				secure = true
			case ma.P_HTTP:
			default:
				return ResolvedEndpoint{}, unsupported(descriptor, "application protocol must be http or https, got %s", c.Protocol().Name)
			}
			step = stepDone
		case stepDone:
			return ResolvedEndpoint{}, unsupported(descriptor, "unexpected trailing component %s", c.Protocol().Name)
		}
	}

	if step < stepApplication {
		return ResolvedEndpoint{}, unsupported(descriptor, "missing tcp port")
	}

	var netloc string
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		netloc = fmt.Sprintf("[%s]:%s", host, port)
	} else {
		netloc = fmt.Sprintf("%s:%s", host, port)
	}

	scheme := "http"
	if secure {
		scheme = "https"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   netloc,
		Path:   "/" + normalizeBase(apiBase),
	}
	return ResolvedEndpoint{BaseURL: u.String(), HostIsNumeric: numeric}, nil
}

func fromURL(raw, apiBase string) (ResolvedEndpoint, error) {
	base, err := url.Parse(raw)
	if err != nil {
		return ResolvedEndpoint{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidAddress, err)
	}
	ref, err := url.Parse(normalizeBase(apiBase))
	if err != nil {
		return ResolvedEndpoint{}, fmt.Errorf("%w: api base %q: %v", interfaces.ErrInvalidAddress, apiBase, err)
	}

	resolved := base.ResolveReference(ref)
	resolved.RawQuery = ""
	resolved.Fragment = ""
	if !strings.HasSuffix(resolved.Path, "/") {
		resolved.Path += "/"
	}

	return ResolvedEndpoint{
		BaseURL:       resolved.String(),
		HostIsNumeric: net.ParseIP(resolved.Hostname()) != nil,
	}, nil
}

// normalizeBase strips leading slashes and guarantees a single trailing slash.
func normalizeBase(apiBase string) string {
	apiBase = strings.TrimLeft(apiBase, "/")
	if apiBase == "" {
		return ""
	}
	if !strings.HasSuffix(apiBase, "/") {
		apiBase += "/"
	}
	return apiBase
}

func unsupported(descriptor, format string, args ...any) error {
	return &interfaces.AddressError{Addr: descriptor, Err: fmt.Errorf(format, args...)}
}
