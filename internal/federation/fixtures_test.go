package federation

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// newHTTPSFixture starts a TLS server and returns a client that connects
// every authority to it, so handlers can switch on r.Host.
func newHTTPSFixture(t *testing.T, h http.HandlerFunc) *http.Client {
	t.Helper()
	srv := httptest.NewTLSServer(h)
	t.Cleanup(srv.Close)

	addr := srv.Listener.Addr().String()
	c := NewHTTPClient(ClientOptions{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	})
	t.Cleanup(c.CloseIdleConnections)
	return c
}

// newDNSFixture serves the given records over UDP on loopback and answers
// NXDOMAIN for any other name.
func newDNSFixture(t *testing.T, records map[string][]dns.RR) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			if rrs, ok := records[r.Question[0].Name]; ok {
				m.Answer = rrs
			} else {
				m.Rcode = dns.RcodeNameError
			}
			_ = w.WriteMsg(m)
		}),
	}
	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

// federationHandler mimics the domains the tool is smoke-tested against.
func federationHandler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case wellKnownPath:
		switch r.Host {
		case "digitale-gesellschaft.ch":
			_, _ = w.Write([]byte(`{"m.server":"digitale-gesellschaft.ch"}`))
		case "synod.im":
			_, _ = w.Write([]byte(`{"m.server":"matrix.synod.im:443"}`))
		case "broken.example":
			_, _ = w.Write([]byte(`<html>not json</html>`))
		case "empty.example":
			_, _ = w.Write([]byte(`{"m.server":""}`))
		default:
			http.NotFound(w, r)
		}
	case versionPath:
		switch r.Host {
		case "matrix.org", "digitale-gesellschaft.ch:8448", "matrix.synod.im:443":
			_, _ = w.Write([]byte(`{"server":{"name":"Synapse","version":"1.6.1 (b=master,abcd)"}}`))
		case "matrix.tum.de:8448":
			_, _ = w.Write([]byte(`{"server":{"name":"Dendrite","version":"0.5.0"}}`))
		case "noversion.example:8448":
			_, _ = w.Write([]byte(`{"server":{"name":"Synapse"}}`))
		case "slow.example:8448":
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		default:
			http.Error(w, "forbidden", http.StatusForbidden)
		}
	default:
		http.NotFound(w, r)
	}
}

func newTestResolver(t *testing.T) (*Resolver, *http.Client) {
	t.Helper()
	client := newHTTPSFixture(t, federationHandler)
	ns := newDNSFixture(t, map[string][]dns.RR{
		"_matrix._tcp.matrix.org.": {
			mustRR(t, "_matrix._tcp.matrix.org. 300 IN SRV 10 5 8448 matrix.org."),
		},
		"_matrix._tcp.librem.one.": {
			mustRR(t, "_matrix._tcp.librem.one. 300 IN SRV 10 0 443 chat.librem.one."),
			mustRR(t, "_matrix._tcp.librem.one. 300 IN SRV 0 0 8448 backup.librem.one."),
		},
		"_matrix._tcp.gone.example.": {
			mustRR(t, "_matrix._tcp.gone.example. 300 IN SRV 0 0 0 ."),
		},
	})
	return NewResolver(client, NewSRVClient([]string{ns}, time.Second), nil), client
}
