package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mxversions/internal/config"
	"mxversions/internal/federation"
	"mxversions/internal/logging"
	"mxversions/internal/metrics"
	"mxversions/internal/report"
	"mxversions/internal/rlimit"
	"mxversions/internal/scan"
	"mxversions/internal/source"
)

/* ------------------------------------------------------------------ */
/* CLI flags                                                           */
/* ------------------------------------------------------------------ */

var (
	cfgPath = flag.String("config", "", "YAML config file (default $"+config.EnvPath+")")

	/* domain source, at most one; default is the built-in test set */
	fileSrc   = flag.String("file", "", "domains from file, one per line ( - = stdin )")
	sqlSrc    = flag.Bool("sql", false, "domains from the Synapse database in sql.dsn")
	sqlDriver = flag.String("sql-driver", "", "database/sql driver for -sql: pgx or sqlite (overrides sql.driver)")
	sqlDSN    = flag.String("sql-dsn", "", "database DSN for -sql (overrides sql.dsn)")
	sqliteSrc = flag.String("sqlite", "", "domains from a Synapse SQLite database file")
	ckSrc     = flag.Bool("clickhouse", false, "domains from ClickHouse (clickhouse.source_query)")
	statsSrc  = flag.Bool("serverstats", false, "domains from the serverstats server list")

	/* probing */
	workers = flag.Int("workers", 0, "concurrent probes (0 = half the open-file limit)")
	dnsAddr = flag.String("dns", "", "upstream DNS server host:port (default /etc/resolv.conf)")

	/* sinks */
	enableReport   = flag.Bool("report", false, "write the text report to the report dir and www path")
	enableGraphite = flag.Bool("graphite", false, "send the top versions to carbon via pickle")
	ckSink         = flag.Bool("clickhouse-sink", false, "store per-domain results in ClickHouse")
	ckDSN          = flag.String("ck-dsn", "", "ClickHouse DSN (overrides clickhouse.dsn)")
	outFile        = flag.String("out", "", "per-domain results JSONL ( - = stdout )")
	promFile       = flag.String("prom-textfile", "", "write Prometheus metrics to this textfile")
	debug          = flag.Bool("debug", false, "log every probe and print the report to stdout")
)

/* ------------------------------------------------------------------ */

func main() {
	flag.Parse()
	os.Exit(run())
}

// run returns the exit code; setup failures exit 2 through must.
func run() int {
	log, err := logging.New(*debug)
	must(err)
	defer func() { _ = log.Sync() }()

	cfg := loadConfig()
	runID := uuid.New()
	log = log.With(zap.Stringer("run_id", runID))

	/* ---------- open-file limit ---------- */
	soft, hard, err := rlimit.Raise()
	must(err)
	if soft < config.RecommendedOpenFiles || hard < config.RecommendedOpenFiles {
		log.Warn("open-file limit is low, probes may fail for lack of descriptors",
			zap.Uint64("soft", soft), zap.Uint64("hard", hard),
			zap.Int("recommended", config.RecommendedOpenFiles))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	/* ---------- ClickHouse connection (optional) ---------- */
	var ckConn clickhouse.Conn
	if *ckSrc || *ckSink {
		if cfg.ClickHouse.DSN == "" {
			usage("-clickhouse and -clickhouse-sink require -ck-dsn or clickhouse.dsn")
		}
		opts, err := clickhouse.ParseDSN(cfg.ClickHouse.DSN)
		must(err)
		ckConn, err = clickhouse.Open(opts)
		must(err)
		defer ckConn.Close()
	}

	/* ---------- domains ---------- */
	src, closeSrc := pickSource(ctx, cfg, ckConn)
	defer closeSrc()
	domains, err := src.Domains(ctx)
	must(err)
	log.Info("domains loaded", zap.String("source", src.Name()), zap.Int("count", len(domains)))

	/* ---------- probe ---------- */
	n := cfg.EffectiveWorkers(soft, len(domains))
	hc := federation.NewHTTPClient(federation.ClientOptions{
		ConnectTimeout: cfg.Probe.ConnectTimeout,
		ReadTimeout:    cfg.Probe.ReadTimeout,
		MaxIdleConns:   n,
	})
	nameservers := cfg.DNS.Nameservers
	if len(nameservers) == 0 {
		nameservers = federation.SystemNameservers("/etc/resolv.conf")
	}
	m := metrics.New()
	prober := federation.NewProber(
		federation.NewResolver(hc, federation.NewSRVClient(nameservers, cfg.DNS.Timeout), log),
		federation.NewFetcher(hc),
		cfg.Probe.Timeout,
		m,
		log,
	)

	start := time.Now()
	rep := scan.New(prober, n, cfg.Probe.Heartbeat, log).Run(ctx, domains)
	hc.CloseIdleConnections()
	log.Info("probing done", zap.Duration("took", time.Since(start)), zap.Int("workers", n))

	if ctx.Err() != nil {
		log.Warn("interrupted, results are incomplete and were not reported")
		return 1
	}

	/* ---------- sinks ---------- */
	if *debug {
		fmt.Print("\n" + report.Format(rep.Table, time.Now()))
	}
	if err := writeSinks(ctx, cfg, rep, m, ckConn, runID); err != nil {
		for _, e := range multierr.Errors(err) {
			log.Error("sink failed", zap.Error(e))
		}
	}
	return 0
}

/* ====================== Setup ====================== */

func loadConfig() *config.Config {
	var (
		cfg *config.Config
		err error
	)
	if *cfgPath != "" {
		cfg, err = config.LoadFromPath(*cfgPath)
	} else {
		cfg, err = config.Load()
	}
	must(err)

	if *workers > 0 {
		cfg.Probe.Workers = *workers
	}
	if *dnsAddr != "" {
		cfg.DNS.Nameservers = []string{*dnsAddr}
	}
	if *ckDSN != "" {
		cfg.ClickHouse.DSN = *ckDSN
	}
	if *promFile != "" {
		cfg.Prometheus.Textfile = *promFile
	}
	if *sqlDriver != "" {
		cfg.SQL.Driver = *sqlDriver
	}
	if *sqlDSN != "" {
		cfg.SQL.DSN = *sqlDSN
	}
	return cfg
}

func pickSource(ctx context.Context, cfg *config.Config, ckConn clickhouse.Conn) (source.Source, func()) {
	chosen := 0
	for _, set := range []bool{*fileSrc != "", *sqlSrc, *sqliteSrc != "", *ckSrc, *statsSrc} {
		if set {
			chosen++
		}
	}
	if chosen > 1 {
		usage("choose at most one of -file, -sql, -sqlite, -clickhouse, -serverstats")
	}

	switch {
	case *fileSrc != "":
		return source.File{Path: *fileSrc}, func() {}
	case *sqlSrc:
		if cfg.SQL.DSN == "" {
			usage("-sql requires -sql-dsn or sql.dsn")
		}
		s, err := source.OpenSQL(ctx, cfg.SQL.Driver, cfg.SQL.DSN, cfg.SQL.Query)
		must(err)
		return s, func() { _ = s.DB.Close() }
	case *sqliteSrc != "":
		s, err := source.OpenSQLite(*sqliteSrc, cfg.SQL.Query)
		must(err)
		return s, func() { _ = s.DB.Close() }
	case *ckSrc:
		return source.ClickHouse{Conn: ckConn, Query: cfg.ClickHouse.SourceQuery}, func() {}
	case *statsSrc:
		client := &http.Client{Timeout: 2 * time.Minute}
		return source.Serverstats{Client: client, URL: cfg.Serverstats.URL}, func() {}
	}
	return source.TestDomains, func() {}
}

/* ====================== Sinks ====================== */

// writeSinks runs every enabled sink; one failing does not stop the rest.
func writeSinks(ctx context.Context, cfg *config.Config, rep scan.Report, m *metrics.Metrics, ckConn clickhouse.Conn, runID uuid.UUID) error {
	var err error
	if *enableReport {
		err = multierr.Append(err, report.Files{Dir: cfg.Report.Dir, WWWPath: cfg.Report.WWWPath}.Write(rep.Table))
	}
	if *enableGraphite {
		err = multierr.Append(err, report.Graphite{Addr: cfg.Graphite.Addr, Top: cfg.Graphite.Top}.Send(rep.Table))
	}
	if *ckSink {
		err = multierr.Append(err, report.ClickHouseSink{Conn: ckConn, Table: cfg.ClickHouse.Table, RunID: runID}.Write(ctx, rep.Results))
	}
	if *outFile != "" {
		err = multierr.Append(err, writeJSONL(*outFile, rep))
	}
	if cfg.Prometheus.Textfile != "" {
		m.SetTable(rep.Table)
		err = multierr.Append(err, m.WriteTextfile(cfg.Prometheus.Textfile))
	}
	return err
}

func writeJSONL(path string, rep scan.Report) (err error) {
	if path == "-" {
		return report.WriteResults(os.Stdout, rep.Results)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return report.WriteResults(f, rep.Results)
}

/* ------------------------------------------------------------------ */

func usage(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	flag.Usage()
	os.Exit(2)
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
