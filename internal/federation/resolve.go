package federation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Method records which discovery tier produced a Resolution.
type Method int

// MethodNone marks a domain that was never resolved.
const (
	MethodNone Method = iota
	MethodWellKnown
	MethodSRV
	MethodFallback
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodWellKnown:
		return "well-known"
	case MethodSRV:
		return "SRV"
	case MethodFallback:
		return "fallback"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// MarshalText makes Method render by name in JSON output.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ErrNoServer is returned when a well-known document lacks m.server.
var ErrNoServer = errors.New("well-known document has no m.server")

// Resolution is where federation requests for a domain are sent.
type Resolution struct {
	Authority string // host:port to connect to
	Host      string // virtual host to present; set only for SRV
	Method    Method
}

// Header returns the extra request headers the Resolution calls for.
func (r Resolution) Header() http.Header {
	if r.Host == "" {
		return nil
	}
	return http.Header{"Host": []string{r.Host}}
}

// Fallback is the last tier: the domain itself on the default port.
func Fallback(domain string) Resolution {
	return Resolution{
		Authority: fmt.Sprintf("%s:%d", domain, DefaultPort),
		Method:    MethodFallback,
	}
}

// Resolver implements server name discovery: .well-known delegation, then
// the _matrix._tcp SRV record, then domain:8448.
type Resolver struct {
	client *http.Client
	srv    SRVLookup
	log    *zap.Logger
}

// NewResolver returns a Resolver sharing client and srv across calls.
func NewResolver(client *http.Client, srv SRVLookup, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{client: client, srv: srv, log: log}
}

// Resolve never fails; every tier error degrades to the next tier.
func (r *Resolver) Resolve(ctx context.Context, domain string) Resolution {
	m := MethodWellKnown
	for {
		res, next, ok := r.step(ctx, m, domain)
		if ok {
			return res
		}
		m = next
	}
}

// step tries one tier. On failure it names the tier to try next.
func (r *Resolver) step(ctx context.Context, m Method, domain string) (Resolution, Method, bool) {
	switch m {
	case MethodWellKnown:
		res, err := r.WellKnown(ctx, domain)
		if err != nil {
			r.log.Debug("well-known lookup failed", zap.String("domain", domain), zap.Error(err))
			return Resolution{}, MethodSRV, false
		}
		return res, m, true
	case MethodSRV:
		res, err := r.SRV(ctx, domain)
		if err != nil {
			r.log.Debug("SRV lookup failed", zap.String("domain", domain), zap.Error(err))
			return Resolution{}, MethodFallback, false
		}
		return res, m, true
	default:
		return Fallback(domain), MethodFallback, true
	}
}

// WellKnown fetches https://domain/.well-known/matrix/server.
func (r *Resolver) WellKnown(ctx context.Context, domain string) (Resolution, error) {
	var doc struct {
		Server *string `json:"m.server"`
	}
	if err := getJSON(ctx, r.client, "https://"+domain+wellKnownPath, nil, &doc); err != nil {
		return Resolution{}, errors.Wrap(err, "well-known")
	}
	// an empty m.server is not a delegation; try SRV instead of ":8448"
	if doc.Server == nil || *doc.Server == "" {
		return Resolution{}, ErrNoServer
	}
	authority := *doc.Server
	if !strings.Contains(authority, ":") {
		authority = fmt.Sprintf("%s:%d", authority, DefaultPort)
	}
	return Resolution{Authority: authority, Method: MethodWellKnown}, nil
}

// SRV resolves _matrix._tcp.domain. The SRV target is not the domain, so
// the domain is carried as the virtual host.
func (r *Resolver) SRV(ctx context.Context, domain string) (Resolution, error) {
	if r.srv == nil {
		return Resolution{}, ErrNoNameserver
	}
	rec, err := r.srv.LookupSRV(ctx, domain)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Authority: fmt.Sprintf("%s:%d", strings.TrimSuffix(rec.Target, "."), rec.Port),
		Host:      domain,
		Method:    MethodSRV,
	}, nil
}
