package federation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of probing one domain. Version is set iff Err is nil.
type Result struct {
	Domain     string
	Resolution Resolution
	Version    string
	Err        error
	Elapsed    time.Duration
}

// OK reports whether the domain yielded a version.
func (r Result) OK() bool { return r.Err == nil }

// Observer is told about every probe outcome.
type Observer interface {
	Observe(Result)
}

// Prober resolves a domain and fetches its version. It is safe for
// concurrent use.
type Prober struct {
	resolver *Resolver
	fetcher  *Fetcher
	observer Observer
	timeout  time.Duration
	log      *zap.SugaredLogger
}

// NewProber wires a Resolver and a Fetcher. timeout bounds a whole probe;
// zero leaves only the per-request bounds of the HTTP and DNS clients.
func NewProber(resolver *Resolver, fetcher *Fetcher, timeout time.Duration, observer Observer, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{
		resolver: resolver,
		fetcher:  fetcher,
		observer: observer,
		timeout:  timeout,
		log:      log.Sugar(),
	}
}

// Probe never returns an error; failures are carried in Result.Err.
func (p *Prober) Probe(ctx context.Context, domain string) Result {
	start := time.Now()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	res := p.resolver.Resolve(ctx, domain)
	version, err := p.fetcher.Fetch(ctx, res)
	r := Result{
		Domain:     domain,
		Resolution: res,
		Version:    version,
		Err:        err,
		Elapsed:    time.Since(start),
	}

	if err != nil {
		p.log.Debugf("%s failed with %v using %s", domain, err, res.Method)
	} else {
		p.log.Debugf("%s has %s via %s with %s", domain, res.Authority, res.Method, version)
	}
	if p.observer != nil {
		p.observer.Observe(r)
	}
	return r
}
