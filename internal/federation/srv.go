package federation

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

const fallbackNameserver = "8.8.8.8:53"

var (
	ErrNoSRV          = errors.New("no SRV records")
	ErrSRVUnavailable = errors.New("SRV target is \".\", service not offered")
	ErrNoNameserver   = errors.New("no nameserver configured")
)

// SRVLookup finds the federation SRV record for a server name.
type SRVLookup interface {
	LookupSRV(ctx context.Context, domain string) (*dns.SRV, error)
}

// SRVClient queries _matrix._tcp SRV records against upstream nameservers.
// It is safe for concurrent use.
type SRVClient struct {
	udp     *dns.Client
	tcp     *dns.Client
	servers []string
}

// NewSRVClient returns a client querying servers (host:port) in order.
func NewSRVClient(servers []string, timeout time.Duration) *SRVClient {
	return &SRVClient{
		udp:     &dns.Client{Net: "udp", Timeout: timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: timeout},
		servers: servers,
	}
}

// SystemNameservers reads nameservers from a resolv.conf file, falling back
// to a public resolver when the file is unusable.
func SystemNameservers(resolvConf string) []string {
	cc, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(cc.Servers) == 0 {
		return []string{fallbackNameserver}
	}
	out := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		out = append(out, net.JoinHostPort(s, cc.Port))
	}
	return out
}

// LookupSRV returns the first SRV record in answer order. Records are not
// sorted by priority or weight.
func (c *SRVClient) LookupSRV(ctx context.Context, domain string) (*dns.SRV, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn("_matrix._tcp."+domain), dns.TypeSRV)

	lastErr := ErrNoNameserver
	for _, server := range c.servers {
		r, err := c.exchange(ctx, msg, server)
		if err != nil {
			lastErr = errors.Wrapf(err, "query %s", server)
			continue
		}
		return firstSRV(r)
	}
	return nil, lastErr
}

func (c *SRVClient) exchange(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
	r, _, err := c.udp.ExchangeContext(ctx, msg, server)
	if err == nil && r.Truncated {
		r, _, err = c.tcp.ExchangeContext(ctx, msg, server)
	}
	return r, err
}

func firstSRV(r *dns.Msg) (*dns.SRV, error) {
	if r.Rcode != dns.RcodeSuccess {
		return nil, errors.Errorf("SRV query answered %s", dns.RcodeToString[r.Rcode])
	}
	for _, rr := range r.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		if srv.Target == "." {
			return nil, ErrSRVUnavailable
		}
		return srv, nil
	}
	return nil, ErrNoSRV
}
