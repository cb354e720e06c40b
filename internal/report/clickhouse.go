package report

import (
	"context"
	"fmt"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"mxversions/internal/federation"
)

const DefaultClickHouseTable = "mxversions.results"

const createTable = `CREATE TABLE IF NOT EXISTS %s (
	run_id     UUID,
	ts         DateTime,
	domain     String,
	authority  String,
	method     LowCardinality(String),
	version    String,
	error      String,
	elapsed_ms UInt32
) ENGINE = MergeTree ORDER BY (ts, domain)`

// ClickHouseSink stores one row per probed domain.
type ClickHouseSink struct {
	Conn  clickhouse.Conn
	Table string
	RunID uuid.UUID
	Clock clock.Clock
}

func (s ClickHouseSink) table() string {
	if s.Table == "" {
		return DefaultClickHouseTable
	}
	return s.Table
}

// Write creates the table if needed and inserts results as one batch.
func (s ClickHouseSink) Write(ctx context.Context, results []federation.Result) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.Conn.Exec(ctx, fmt.Sprintf(createTable, s.table())); err != nil {
		return errors.Wrap(err, "ck create table")
	}
	b, err := s.Conn.PrepareBatch(ctx, "INSERT INTO "+s.table())
	if err != nil {
		return errors.Wrap(err, "ck prepare")
	}

	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	ts := clk.Now()
	for _, r := range results {
		if err := b.Append(rowValues(s.RunID, ts, r)...); err != nil {
			_ = b.Abort()
			return errors.Wrap(err, "ck append")
		}
	}
	return errors.Wrap(b.Send(), "ck send")
}

func rowValues(runID uuid.UUID, ts time.Time, r federation.Result) []interface{} {
	line := NewProbeLine(r)
	return []interface{}{
		runID,
		ts,
		line.Domain,
		line.Authority,
		line.Method.String(),
		line.Version,
		line.Error,
		line.ElapsedMs,
	}
}
