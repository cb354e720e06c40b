// Package report renders a version Table and per-domain results to the
// places they are consumed: text files, Graphite, ClickHouse and JSONL.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"mxversions/internal/scan"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000000"
	fileStampLayout = "2006-01-02T15:04:05-07:00"
)

// Format renders t as the plain text report:
//
//	2026-10-15T09:00:00.000000
//	4 homeservers online
//
//	3    Synapse/1.6.1
//	1    Dendrite/0.5.0
func Format(t *scan.Table, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", now.Format(timestampLayout))
	fmt.Fprintf(&b, "%d homeservers online\n\n", t.Total())
	for _, e := range t.Entries() {
		fmt.Fprintf(&b, "%-4d %s\n", e.Count, e.Version)
	}
	return b.String()
}

// Files writes the text report to a timestamped file under Dir and to a
// fixed WWWPath. Either may be empty to skip it.
type Files struct {
	Dir     string
	WWWPath string
	Clock   clock.Clock
}

// Write attempts every destination and returns all failures combined.
func (f Files) Write(t *scan.Table) error {
	clk := f.Clock
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	text := []byte(Format(t, now))

	var err error
	if f.Dir != "" {
		if mkErr := os.MkdirAll(f.Dir, 0o755); mkErr != nil {
			err = multierr.Append(err, errors.Wrap(mkErr, "create report dir"))
		} else {
			name := filepath.Join(f.Dir, "report-"+now.UTC().Format(fileStampLayout)+".txt")
			err = multierr.Append(err, errors.Wrap(os.WriteFile(name, text, 0o644), "write report"))
		}
	}
	if f.WWWPath != "" {
		err = multierr.Append(err, errors.Wrap(os.WriteFile(f.WWWPath, text, 0o644), "write www report"))
	}
	return err
}
