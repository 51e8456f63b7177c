// Package analyze runs SQL analysis over previously written Parquet
// timeline files using an embedded DuckDB instance. It complements the
// in-process report aggregator: the aggregator summarizes a single run,
// while analyze can query any number of Parquet files after the fact.
package analyze

import (
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/pixellineage/inputlat/pkg/errors"
)

// StageStats holds DuckDB-computed statistics for one (action, stage) pair.
type StageStats struct {
	Action string
	Stage  string
	Count  int64
	MinNs  int64
	P50Ns  int64
	P95Ns  int64
	P99Ns  int64
	MaxNs  int64
}

// Result is the output of an analysis run.
type Result struct {
	Rows      int64
	Timelines int64
	Stages    []StageStats
}

// Analyzer wraps an in-memory DuckDB connection.
type Analyzer struct {
	db *sql.DB
}

// New opens an in-memory DuckDB instance.
func New() (*Analyzer, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDuckDBInit, "failed to open duckdb")
	}
	return &Analyzer{db: db}, nil
}

// Close releases the DuckDB connection.
func (a *Analyzer) Close() error {
	return a.db.Close()
}

// stageColumns maps stage names to the Parquet columns holding their
// absolute timestamps. Latency is computed against event_time in SQL.
var stageColumns = []struct {
	stage  string
	column string
}{
	{"read", "read_time"},
	{"deliver", "delivery_time"},
	{"consume", "consume_time"},
	{"finish", "finish_time"},
	{"gpu_completed", "gpu_completed_time"},
	{"present", "present_time"},
}

// Analyze loads one or more Parquet files (glob patterns work) and
// computes per-action, per-stage latency percentiles.
func (a *Analyzer) Analyze(pattern string) (*Result, error) {
	_, err := a.db.Exec(fmt.Sprintf(`
		CREATE OR REPLACE TABLE source AS
		SELECT * FROM read_parquet('%s')
	`, pattern))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "failed to load parquet").
			WithContext("pattern", pattern)
	}

	result := &Result{}

	row := a.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT event_time) FROM source`)
	if err := row.Scan(&result.Rows, &result.Timelines); err != nil {
		return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "failed to count rows")
	}

	for _, sc := range stageColumns {
		stats, err := a.stageStats(sc.stage, sc.column)
		if err != nil {
			return nil, err
		}
		result.Stages = append(result.Stages, stats...)
	}

	return result, nil
}

// stageStats computes latency percentiles for one stage, grouped by
// action type. Rows with a NULL timestamp for the stage are excluded.
func (a *Analyzer) stageStats(stage, column string) ([]StageStats, error) {
	query := fmt.Sprintf(`
		SELECT
			action_type,
			COUNT(*) as cnt,
			MIN(%[1]s - event_time) as min_ns,
			CAST(quantile_cont(%[1]s - event_time, 0.50) AS BIGINT) as p50_ns,
			CAST(quantile_cont(%[1]s - event_time, 0.95) AS BIGINT) as p95_ns,
			CAST(quantile_cont(%[1]s - event_time, 0.99) AS BIGINT) as p99_ns,
			MAX(%[1]s - event_time) as max_ns
		FROM source
		WHERE %[1]s IS NOT NULL
		GROUP BY action_type
		ORDER BY action_type
	`, column)

	rows, err := a.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "stage query failed").
			WithContext("stage", stage)
	}
	defer rows.Close()

	var out []StageStats
	for rows.Next() {
		s := StageStats{Stage: stage}
		if err := rows.Scan(&s.Action, &s.Count, &s.MinNs, &s.P50Ns, &s.P95Ns, &s.P99Ns, &s.MaxNs); err != nil {
			return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "failed to scan stage row").
				WithContext("stage", stage)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "stage query iteration failed").
			WithContext("stage", stage)
	}
	return out, nil
}

// SlowestEvents returns the n events with the worst end-to-end latency
// (event_time to present_time) across all loaded rows.
func (a *Analyzer) SlowestEvents(n int) ([]SlowEvent, error) {
	rows, err := a.db.Query(fmt.Sprintf(`
		SELECT
			event_time,
			action_type,
			connection_token,
			present_time - event_time as end_to_end_ns
		FROM source
		WHERE present_time IS NOT NULL
		ORDER BY end_to_end_ns DESC
		LIMIT %d
	`, n))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "slowest-events query failed")
	}
	defer rows.Close()

	var out []SlowEvent
	for rows.Next() {
		var e SlowEvent
		var token sql.NullString
		if err := rows.Scan(&e.EventTime, &e.Action, &token, &e.EndToEndNs); err != nil {
			return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "failed to scan slow event")
		}
		e.ConnectionToken = token.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// SlowEvent identifies one high-latency event row.
type SlowEvent struct {
	EventTime       int64
	Action          string
	ConnectionToken string
	EndToEndNs      int64
}
