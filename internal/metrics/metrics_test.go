package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"mxversions/internal/federation"
	"mxversions/internal/scan"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(federation.Result{Resolution: federation.Resolution{Method: federation.MethodSRV}, Version: "Synapse/1.6.1", Elapsed: time.Second})
	m.Observe(federation.Result{Resolution: federation.Resolution{Method: federation.MethodFallback}, Err: errors.New("refused")})
	m.Observe(federation.Result{Resolution: federation.Resolution{Method: federation.MethodFallback}, Err: errors.New("refused")})

	require.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("SRV", "ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.probes.WithLabelValues("fallback", "error")))
}

func TestSetTableAndTextfile(t *testing.T) {
	m := New()
	tbl := scan.NewTable()
	tbl.Add("Synapse/1.6.1")
	tbl.Add("Synapse/1.6.1")
	tbl.Add("Dendrite/0.5.0")
	m.SetTable(tbl)

	require.Equal(t, 2.0, testutil.ToFloat64(m.homeservers.WithLabelValues("Synapse/1.6.1")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.online))

	// a later run drops versions that vanished
	next := scan.NewTable()
	next.Add("Dendrite/0.5.0")
	m.SetTable(next)
	require.Equal(t, 1, testutil.CollectAndCount(m.homeservers))

	path := filepath.Join(t.TempDir(), "mxversions.prom")
	require.NoError(t, m.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(b), `mxversions_homeservers{version="Dendrite/0.5.0"} 1`))
}
