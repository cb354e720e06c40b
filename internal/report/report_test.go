package report

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mxversions/internal/federation"
	"mxversions/internal/scan"
)

var at = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func sampleTable() *scan.Table {
	t := scan.NewTable()
	for _, v := range []string{"Synapse/1.6.1", "Dendrite/0.5.0", "Synapse/1.6.1", "Synapse/1.6.1"} {
		t.Add(v)
	}
	return t
}

func mockClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(at)
	return c
}

func TestFormat(t *testing.T) {
	want := "2026-10-15T09:30:00.000000\n" +
		"4 homeservers online\n" +
		"\n" +
		"3    Synapse/1.6.1\n" +
		"1    Dendrite/0.5.0\n"
	require.Equal(t, want, Format(sampleTable(), at))
}

func TestFilesWrite(t *testing.T) {
	dir := t.TempDir()
	www := filepath.Join(dir, "www.txt")
	f := Files{Dir: filepath.Join(dir, "reports"), WWWPath: www, Clock: mockClock()}
	require.NoError(t, f.Write(sampleTable()))

	a, err := os.ReadFile(filepath.Join(dir, "reports", "report-2026-10-15T09:30:00+00:00.txt"))
	require.NoError(t, err)
	b, err := os.ReadFile(www)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, Format(sampleTable(), at), string(a))
}

func TestFilesWriteReportsEveryFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	f := Files{
		Dir:     filepath.Join(blocker, "reports"),
		WWWPath: filepath.Join(dir, "missing", "www.txt"),
		Clock:   mockClock(),
	}
	err := f.Write(sampleTable())
	require.Error(t, err)
	require.Contains(t, err.Error(), "create report dir")
	require.Contains(t, err.Error(), "write www report")
}

func TestMetricName(t *testing.T) {
	require.Equal(t, "synapse.1-6-1", MetricName("Synapse/1.6.1"))
	require.Equal(t, "dendrite.0-5-0", MetricName("Dendrite/0.5.0"))
	require.Equal(t, "conduit.0-4-0-next", MetricName("Conduit/0.4.0-next"))
}

func TestGraphitePayload(t *testing.T) {
	tbl := scan.NewTable()
	for i := 0; i < 20; i++ {
		tbl.Add(string(rune('a'+i)) + "/1.0")
	}
	g := Graphite{Clock: mockClock()}
	b, err := g.Payload(tbl)
	require.NoError(t, err)

	require.Equal(t, uint32(len(b)-4), binary.BigEndian.Uint32(b[:4]))
	// PROTO 2 opcode, then the list
	require.Equal(t, []byte{0x80, 0x02}, b[4:6])
	require.True(t, bytes.Contains(b, []byte("a.1-0")))
	require.True(t, bytes.Contains(b, []byte("o.1-0")))
	require.False(t, bytes.Contains(b, []byte("p.1-0")), "only the top 15 versions are sent")
}

func TestGraphiteSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			got <- nil
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		got <- b
	}()

	g := Graphite{Addr: ln.Addr().String(), Clock: mockClock(), Timeout: time.Second}
	require.NoError(t, g.Send(sampleTable()))

	want, err := g.Payload(sampleTable())
	require.NoError(t, err)
	require.Equal(t, want, <-got)
}

func TestGraphiteSendUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = Graphite{Addr: addr, Timeout: time.Second}.Send(sampleTable())
	require.Error(t, err)
	require.Contains(t, err.Error(), "connect to carbon")
}

func TestWriteResults(t *testing.T) {
	results := []federation.Result{
		{
			Domain:     "matrix.org",
			Resolution: federation.Resolution{Authority: "matrix.org:8448", Host: "matrix.org", Method: federation.MethodSRV},
			Version:    "Synapse/1.6.1",
			Elapsed:    1500 * time.Millisecond,
		},
		{
			Domain:     "matrix.tum.de",
			Resolution: federation.Fallback("matrix.tum.de"),
			Err:        errors.New("connection refused"),
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, results))

	dec := json.NewDecoder(&buf)
	var first, second map[string]interface{}
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	require.Equal(t, "SRV", first["method"])
	require.Equal(t, "matrix.org", first["host"])
	require.Equal(t, "Synapse/1.6.1", first["version"])
	require.Equal(t, 1500.0, first["elapsed_ms"])
	require.NotContains(t, first, "error")

	require.Equal(t, "fallback", second["method"])
	require.Equal(t, "connection refused", second["error"])
	require.NotContains(t, second, "host")
}

func TestRowValues(t *testing.T) {
	id := uuid.New()
	row := rowValues(id, at, federation.Result{
		Domain:     "synod.im",
		Resolution: federation.Resolution{Authority: "matrix.synod.im:443", Method: federation.MethodWellKnown},
		Version:    "Synapse/1.6.1",
		Elapsed:    42 * time.Millisecond,
	})
	require.Equal(t, []interface{}{id, at, "synod.im", "matrix.synod.im:443", "well-known", "Synapse/1.6.1", "", uint32(42)}, row)
}
