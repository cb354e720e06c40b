package report

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	pickle "github.com/kisielk/og-rek"
	"github.com/pkg/errors"

	"mxversions/internal/scan"
)

const (
	DefaultGraphiteAddr = "localhost:2004"
	DefaultGraphiteTop  = 15
)

var metricName = strings.NewReplacer(".", "-", "/", ".")

// MetricName maps "Synapse/1.6.1" to the Graphite path "synapse.1-6-1".
func MetricName(version string) string {
	return metricName.Replace(strings.ToLower(version))
}

// Graphite sends the top versions to a carbon pickle receiver.
type Graphite struct {
	Addr    string
	Top     int
	Timeout time.Duration
	Clock   clock.Clock
}

// Payload is the wire message: a 4-byte big-endian length followed by a
// protocol 2 pickle of [(name, (timestamp, count)), ...].
func (g Graphite) Payload(t *scan.Table) ([]byte, error) {
	clk := g.Clock
	if clk == nil {
		clk = clock.New()
	}
	top := g.Top
	if top <= 0 {
		top = DefaultGraphiteTop
	}
	now := clk.Now().Unix()

	entries := t.Top(top)
	tuples := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		tuples = append(tuples, pickle.Tuple{MetricName(e.Version), pickle.Tuple{now, int64(e.Count)}})
	}

	var buf bytes.Buffer
	buf.Write(make([]byte, 4))
	enc := pickle.NewEncoderWithConfig(&buf, &pickle.EncoderConfig{Protocol: 2})
	if err := enc.Encode(tuples); err != nil {
		return nil, errors.Wrap(err, "pickle")
	}
	b := buf.Bytes()
	binary.BigEndian.PutUint32(b[:4], uint32(len(b)-4))
	return b, nil
}

// Send delivers Payload(t) over one TCP connection.
func (g Graphite) Send(t *scan.Table) error {
	payload, err := g.Payload(t)
	if err != nil {
		return err
	}
	addr := g.Addr
	if addr == "" {
		addr = DefaultGraphiteAddr
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return errors.Wrapf(err, "connect to carbon at %s", addr)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return errors.Wrap(err, "graphite deadline")
	}
	if _, err := conn.Write(payload); err != nil {
		return errors.Wrap(err, "send to carbon")
	}
	return nil
}
