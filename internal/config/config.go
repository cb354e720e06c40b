// Package config loads mxversions settings.
//
// Settings come from, lowest priority first: built-in defaults, a YAML file
// ($MXVERSIONS_CONFIG or -config), then command line flags.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"mxversions/internal/report"
	"mxversions/internal/source"
)

const EnvPath = "MXVERSIONS_CONFIG"

// RecommendedOpenFiles is the open-file limit below which a full run may
// exhaust descriptors.
const RecommendedOpenFiles = 100000

type Config struct {
	Probe       ProbeConfig       `yaml:"probe"`
	DNS         DNSConfig         `yaml:"dns"`
	Report      ReportConfig      `yaml:"report"`
	Graphite    GraphiteConfig    `yaml:"graphite"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	SQL         SQLConfig         `yaml:"sql"`
	Serverstats ServerstatsConfig `yaml:"serverstats"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
}

type ProbeConfig struct {
	// Workers caps concurrent probes. 0 derives it from the open-file limit.
	Workers        int           `yaml:"workers"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	// Timeout bounds a whole probe; 0 keeps only per-request bounds.
	Timeout   time.Duration `yaml:"timeout"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

type DNSConfig struct {
	// Nameservers as host:port. Empty means /etc/resolv.conf.
	Nameservers []string      `yaml:"nameservers"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ReportConfig struct {
	Dir     string `yaml:"dir"`
	WWWPath string `yaml:"www_path"`
}

type GraphiteConfig struct {
	Addr string `yaml:"addr"`
	Top  int    `yaml:"top"`
}

type ClickHouseConfig struct {
	DSN         string `yaml:"dsn"`
	SourceQuery string `yaml:"source_query"`
	Table       string `yaml:"table"`
}

// SQLConfig selects a Synapse database. Driver is a database/sql driver
// name: "pgx" (Postgres) or "sqlite".
type SQLConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Query  string `yaml:"query"`
}

type ServerstatsConfig struct {
	URL string `yaml:"url"`
}

type PrometheusConfig struct {
	Textfile string `yaml:"textfile"`
}

// Load reads the file named by $MXVERSIONS_CONFIG, or returns defaults.
func Load() (*Config, error) {
	if path := os.Getenv(EnvPath); path != "" {
		return LoadFromPath(path)
	}
	return DefaultConfig(), nil
}

// LoadFromPath reads a YAML file over the defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// applyDefaults fills zero values.
func (c *Config) applyDefaults() {
	if c.Probe.ConnectTimeout <= 0 {
		c.Probe.ConnectTimeout = 5 * time.Second
	}
	if c.Probe.ReadTimeout <= 0 {
		c.Probe.ReadTimeout = 5 * time.Second
	}
	if c.Probe.Heartbeat < 0 {
		c.Probe.Heartbeat = 0
	} else if c.Probe.Heartbeat == 0 {
		c.Probe.Heartbeat = 30 * time.Second
	}
	if c.DNS.Timeout <= 0 {
		c.DNS.Timeout = 5 * time.Second
	}
	if c.Report.Dir == "" {
		c.Report.Dir = "reports"
	}
	if c.Report.WWWPath == "" {
		c.Report.WWWPath = "/var/www/html/mxversions.txt"
	}
	if c.Graphite.Addr == "" {
		c.Graphite.Addr = report.DefaultGraphiteAddr
	}
	if c.Graphite.Top <= 0 {
		c.Graphite.Top = report.DefaultGraphiteTop
	}
	if c.ClickHouse.SourceQuery == "" {
		c.ClickHouse.SourceQuery = source.DefaultQuery
	}
	if c.ClickHouse.Table == "" {
		c.ClickHouse.Table = report.DefaultClickHouseTable
	}
	if c.SQL.Driver == "" {
		c.SQL.Driver = source.DriverPostgres
	}
	if c.SQL.Query == "" {
		c.SQL.Query = source.DefaultQuery
	}
	if c.Serverstats.URL == "" {
		c.Serverstats.URL = source.DefaultServerstatsURL
	}
}

// EffectiveWorkers sizes the pool: the configured value, else half the
// open-file soft limit, never more than domains and never below 1.
func (c *Config) EffectiveWorkers(softLimit uint64, domains int) int {
	w := c.Probe.Workers
	if w <= 0 {
		w = int(softLimit / 2)
	}
	if w > domains {
		w = domains
	}
	if w < 1 {
		w = 1
	}
	return w
}
