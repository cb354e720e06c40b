package source

import (
	"context"
	"database/sql"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Registered database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQL runs a query returning one text column of domains.
type SQL struct {
	DB    *sql.DB
	Query string
	name  string
}

// OpenSQL connects to a Synapse database through any registered
// database/sql driver. The caller closes s.DB.
func OpenSQL(ctx context.Context, driver, dsn, query string) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect %s", driver)
	}
	if query == "" {
		query = DefaultQuery
	}
	return &SQL{DB: db, Query: query, name: driver}, nil
}

// OpenSQLite opens a Synapse SQLite database file.
func OpenSQLite(path, query string) (*SQL, error) {
	s, err := OpenSQL(context.Background(), DriverSQLite, path, query)
	if err != nil {
		return nil, err
	}
	s.name = "sqlite:" + path
	return s, nil
}

func (s *SQL) Name() string { return s.name }

func (s *SQL) Domains(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, errors.Wrap(err, "query destinations")
	}
	defer rows.Close()

	c := &collector{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, errors.Wrap(err, "scan destination")
		}
		c.add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate destinations")
	}
	return c.domains, nil
}

// ClickHouse runs a query returning one String column of domains.
type ClickHouse struct {
	Conn  clickhouse.Conn
	Query string
}

func (s ClickHouse) Name() string { return "clickhouse" }

func (s ClickHouse) Domains(ctx context.Context) ([]string, error) {
	q := s.Query
	if q == "" {
		q = DefaultQuery
	}
	rows, err := s.Conn.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "clickhouse query")
	}
	defer rows.Close()

	c := &collector{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, errors.Wrap(err, "clickhouse scan")
		}
		c.add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "clickhouse rows")
	}
	return c.domains, nil
}
