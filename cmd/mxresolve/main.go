package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mxversions/internal/federation"
	"mxversions/internal/logging"
	"mxversions/internal/report"
)

// ---------------------------------------------------------------------
// CLI flags
// ---------------------------------------------------------------------

var (
	nameserver = flag.String("dns", "", "upstream DNS server host:port (default /etc/resolv.conf)")
	timeout    = flag.Duration("timeout", 5*time.Second, "per-request timeout (well-known and SRV)")
	inFile     = flag.String("in", "-", "file with domains (one per line), - = stdin")
	outFile    = flag.String("out", "-", "write JSONL here, - = stdout")
	workers    = flag.Int("workers", 512, "parallel resolutions")
	debug      = flag.Bool("debug", false, "log tier failures")
)

// ---------------------------------------------------------------------
// main()
// ---------------------------------------------------------------------

func main() {
	flag.Parse()
	os.Exit(run())
}

// run returns the exit code: 0 done, 1 interrupted, 2 setup failure.
func run() int {
	log, err := logging.New(*debug)
	must(err)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ----- input ------------------------------------------------------
	in := os.Stdin
	if *inFile != "-" {
		in, err = os.Open(*inFile)
		must(err)
		defer in.Close()
	}
	scanner := bufio.NewScanner(in)

	// ----- output -----------------------------------------------------
	out := os.Stdout
	if *outFile != "-" {
		out, err = os.Create(*outFile)
		must(err)
		defer out.Close()
	}
	enc := report.NewJSONL(out)

	// ----- resolver ---------------------------------------------------
	servers := federation.SystemNameservers("/etc/resolv.conf")
	if *nameserver != "" {
		servers = []string{*nameserver}
	}
	hc := federation.NewHTTPClient(federation.ClientOptions{
		ConnectTimeout: *timeout,
		ReadTimeout:    *timeout,
		MaxIdleConns:   *workers,
	})
	resolver := federation.NewResolver(hc, federation.NewSRVClient(servers, *timeout), log)

	// ----- channels ---------------------------------------------------
	jobs := make(chan string, 10_000)
	results := make(chan report.ProbeLine, 10_000)

	var resolveWG sync.WaitGroup // resolver workers
	var writerWG sync.WaitGroup  // writer goroutine

	// ----- writer goroutine ------------------------------------------
	writerWG.Add(1)
	go func() {
		defer func() {
			if err := enc.Flush(); err != nil {
				log.Error("flush output", zap.Error(err))
			}
			writerWG.Done()
		}()
		for res := range results {
			if err := enc.Encode(res); err != nil {
				log.Error("encode", zap.String("domain", res.Domain), zap.Error(err))
			}
		}
	}()

	// ----- resolver pool ---------------------------------------------
	resolveWG.Add(*workers)
	for i := 0; i < *workers; i++ {
		go func() {
			defer resolveWG.Done()
			resolveWorker(ctx, resolver, jobs, results)
		}()
	}

	// ----- feed input -------------------------------------------------
feed:
	for scanner.Scan() {
		d := strings.TrimSpace(scanner.Text())
		if d == "" {
			continue
		}
		select {
		case jobs <- d:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)      // no more work for resolvers
	resolveWG.Wait() // wait until they're all done
	close(results)   // let writer drain
	writerWG.Wait()  // wait until JSONL is flushed
	hc.CloseIdleConnections()

	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "scanner:", err)
	}
	if ctx.Err() != nil {
		log.Warn("interrupted, output holds only the domains resolved before the signal")
		return 1
	}
	return 0
}

type domainResolver interface {
	Resolve(ctx context.Context, domain string) federation.Resolution
}

// resolveWorker emits one line per domain. Once ctx is done Resolve only
// returns fallbacks, so the remaining jobs are drained without output.
func resolveWorker(ctx context.Context, r domainResolver, jobs <-chan string, results chan<- report.ProbeLine) {
	for domain := range jobs {
		if ctx.Err() != nil {
			continue
		}
		start := time.Now()
		res := r.Resolve(ctx, domain)
		if ctx.Err() != nil {
			continue
		}
		results <- report.NewProbeLine(federation.Result{
			Domain:     domain,
			Resolution: res,
			Elapsed:    time.Since(start),
		})
	}
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
