// Package source produces the list of domains to probe.
package source

import (
	"context"
	"strings"
)

// DefaultQuery reads Synapse's federation destinations table.
const DefaultQuery = "SELECT destination FROM destinations"

// Source yields domains in a stable order. A failing Source aborts the run
// before any probing starts.
type Source interface {
	Name() string
	Domains(ctx context.Context) ([]string, error)
}

// Static is a fixed domain list.
type Static []string

// TestDomains covers each resolution path:
//
//	matrix.org               no well-known, SRV with port, needs Host header
//	synod.im                 well-known with port 443
//	matrix.tum.de            no well-known, no SRV, fallback
//	digitale-gesellschaft.ch well-known without port, implicit 8448
//	librem.one               no well-known, SRV with port
var TestDomains = Static{"matrix.org", "synod.im", "matrix.tum.de", "digitale-gesellschaft.ch", "librem.one"}

func (s Static) Name() string { return "static" }

func (s Static) Domains(context.Context) ([]string, error) {
	c := &collector{}
	for _, d := range s {
		c.add(d)
	}
	return c.domains, nil
}

// collector trims domains and drops blanks.
type collector struct {
	domains []string
}

func (c *collector) add(d string) {
	if d = strings.TrimSpace(d); d != "" {
		c.domains = append(c.domains, d)
	}
}
