// Package federation resolves Matrix server names to the homeserver that
// answers federation traffic for them and asks that homeserver which
// software it runs.
package federation

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultPort is the federation port assumed when delegation names none.
	DefaultPort = 8448

	wellKnownPath = "/.well-known/matrix/server"
	versionPath   = "/_matrix/federation/v1/version"

	maxBodySize = 1 << 20
	userAgent   = "mxversions"
)

// ErrStatus is returned for any non-2xx HTTP response.
var ErrStatus = errors.New("unexpected HTTP status")

// ClientOptions configures the HTTP client shared by every probe.
type ClientOptions struct {
	ConnectTimeout time.Duration // TCP connect and TLS handshake
	ReadTimeout    time.Duration // response headers, and again for the body
	MaxIdleConns   int

	// Dial replaces the default dialer. Tests use it to pin every
	// authority to a local server.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewHTTPClient builds the client used for well-known and version requests.
// Certificate and hostname verification are off: the authority probed is
// frequently not the name on the certificate.
func NewHTTPClient(o ClientOptions) *http.Client {
	dial := o.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: o.ConnectTimeout}).DialContext
	}
	tr := &http.Transport{
		DialContext: dial,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // measurement only
		},
		TLSHandshakeTimeout:   o.ConnectTimeout,
		ResponseHeaderTimeout: o.ReadTimeout,
		MaxIdleConns:          o.MaxIdleConns,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: tr,
		// one request never outlives connect + header + body budgets
		Timeout: o.ConnectTimeout + 2*o.ReadTimeout,
	}
}

// getJSON issues a GET with the extra header and decodes a JSON body into v.
// net/http ignores a Host header field, so it is moved to req.Host.
func getJSON(ctx context.Context, c *http.Client, url string, header http.Header, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	for k, vs := range header {
		if http.CanonicalHeaderKey(k) == "Host" && len(vs) > 0 {
			req.Host = vs[0]
			continue
		}
		req.Header[k] = vs
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxBodySize)
	// error pages are not answers, even when they carry JSON
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, body)
		return errors.Wrap(ErrStatus, resp.Status)
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}
