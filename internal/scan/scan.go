// Package scan fans a Prober out over a domain list and folds the results
// into a version Table.
package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mxversions/internal/federation"
)

// Prober probes one domain. *federation.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, domain string) federation.Result
}

// Report is everything one run produced.
type Report struct {
	Results []federation.Result // input order
	Table   *Table
}

// Coordinator runs probes through a fixed pool of workers.
type Coordinator struct {
	prober    Prober
	workers   int
	heartbeat time.Duration
	log       *zap.Logger

	total, done, ok atomic.Uint64
}

// New returns a Coordinator with up to workers concurrent probes. A zero
// heartbeat disables progress logging.
func New(p Prober, workers int, heartbeat time.Duration, log *zap.Logger) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{prober: p, workers: workers, heartbeat: heartbeat, log: log}
}

type job struct {
	i      int
	domain string
}

// Run probes every domain and waits for all of them. If ctx is cancelled,
// domains not yet dispatched are recorded as failed with ctx.Err().
func (c *Coordinator) Run(ctx context.Context, domains []string) Report {
	results := make([]federation.Result, len(domains))
	c.total.Store(uint64(len(domains)))
	c.done.Store(0)
	c.ok.Store(0)

	workers := c.workers
	if workers > len(domains) {
		workers = len(domains)
	}

	/* ---------- heartbeat ---------- */
	stop := make(chan struct{})
	var hbWG sync.WaitGroup
	if c.heartbeat > 0 {
		hbWG.Add(1)
		go func() {
			defer hbWG.Done()
			c.heartbeatLoop(stop)
		}()
	}

	/* ---------- workers ---------- */
	jobs := make(chan job, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				// each worker owns the slots it writes
				results[j.i] = c.prober.Probe(ctx, j.domain)
				if results[j.i].OK() {
					c.ok.Add(1)
				}
				c.done.Add(1)
			}
		}()
	}

	/* ---------- producer ---------- */
	next := 0
feed:
	for ; next < len(domains); next++ {
		select {
		case jobs <- job{i: next, domain: domains[next]}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	close(stop)
	hbWG.Wait()

	for i := next; i < len(domains); i++ {
		results[i] = federation.Result{Domain: domains[i], Err: ctx.Err()}
	}

	t := Fold(results)
	c.log.Info("scan finished",
		zap.Int("domains", len(domains)),
		zap.Int("online", t.Total()),
		zap.Int("versions", t.Len()))
	return Report{Results: results, Table: t}
}

func (c *Coordinator) heartbeatLoop(stop <-chan struct{}) {
	start := time.Now()
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		td := c.total.Load()
		dd := c.done.Load()
		rate := float64(dd) / time.Since(start).Seconds()
		eta := "n/a"
		if dd > 0 && dd < td {
			eta = (time.Duration(float64(td-dd)/rate) * time.Second).Round(time.Second).String()
		}
		c.log.Info("progress",
			zap.Uint64("done", dd),
			zap.Uint64("total", td),
			zap.Uint64("ok", c.ok.Load()),
			zap.Float64("rate", rate),
			zap.String("eta", eta))
	}
}
