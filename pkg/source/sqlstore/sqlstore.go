// Package sqlstore reads sources from a SQL database with one table per
// source: (timestamp INTEGER milliseconds, value NUMERIC). Bucketing and
// the latest-sample-per-bucket selection are pushed down to SQL, the way
// the report queries have always run against the logger tables.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"reportgrid/pkg/bucket"
	"reportgrid/pkg/normalize"
	"reportgrid/pkg/source"
)

// validIdent guards dynamic table names; source identifiers come from
// template parameters, never from SQL placeholders.
var validIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store reads per-source tables through database/sql. Tested against
// SQLite; the bare-column MAX(timestamp) group trick in readQuery is a
// SQLite behavior.
type Store struct {
	db   *sql.DB
	grid bucket.Grid
}

// New creates a SQL-backed source store on an open database handle. The
// store never writes to source tables on the read path.
func New(db *sql.DB, grid bucket.Grid) *Store {
	return &Store{db: db, grid: grid}
}

// Read returns the per-bucket latest samples for a source in [from, to].
func (s *Store) Read(ctx context.Context, sourceID string, from, to time.Time) ([]source.Sample, error) {
	return s.read(ctx, sourceID, from, to, -1, -1)
}

// ReadPage returns a bounded page of the sequence Read would return.
func (s *Store) ReadPage(ctx context.Context, sourceID string, from, to time.Time, offset, limit int) ([]source.Sample, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return nil, nil
	}
	return s.read(ctx, sourceID, from, to, offset, limit)
}

func (s *Store) read(ctx context.Context, sourceID string, from, to time.Time, offset, limit int) ([]source.Sample, error) {
	if err := s.checkSource(ctx, sourceID); err != nil {
		return nil, err
	}

	widthMs := s.grid.Width().Milliseconds()
	epochMs := s.grid.Epoch().UnixMilli()

	// One row per bucket, carrying the latest reading in that bucket. The
	// division truncates toward zero where Grid.BucketOf floors; the two
	// agree because logger timestamps never predate the epoch.
	query := fmt.Sprintf(
		`SELECT value, MAX(timestamp) AS ts
		 FROM %s
		 WHERE timestamp BETWEEN ? AND ?
		 GROUP BY (timestamp - ?) / ?
		 ORDER BY ts`, sourceID)
	args := []any{from.UnixMilli(), to.UnixMilli(), epochMs, widthMs}
	if limit >= 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query source %q: %w", sourceID, err)
	}
	defer rows.Close()

	var samples []source.Sample
	for rows.Next() {
		var (
			raw sql.NullString
			ts  int64
		)
		if err := rows.Scan(&raw, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan source %q row: %w", sourceID, err)
		}
		samples = append(samples, source.Sample{
			Timestamp: time.UnixMilli(ts).UTC(),
			Value:     parseScalar(raw),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading source %q rows: %w", sourceID, err)
	}
	return samples, nil
}

// Aggregate pushes min/max/sum/count down to SQL over the numeric readings
// in range. Statistics run over raw samples, not the bucket-deduplicated
// view.
func (s *Store) Aggregate(ctx context.Context, sourceID string, from, to time.Time) (source.Aggregate, bool, error) {
	if err := s.checkSource(ctx, sourceID); err != nil {
		return source.Aggregate{}, false, err
	}

	query := fmt.Sprintf(
		`SELECT MIN(value), MAX(value), SUM(value), COUNT(*)
		 FROM %s
		 WHERE timestamp BETWEEN ? AND ?
		   AND typeof(value) IN ('integer', 'real')`, sourceID)

	var (
		minVal, maxVal, sumVal sql.NullFloat64
		count                  int64
	)
	err := s.db.QueryRowContext(ctx, query, from.UnixMilli(), to.UnixMilli()).
		Scan(&minVal, &maxVal, &sumVal, &count)
	if err != nil {
		return source.Aggregate{}, false, fmt.Errorf("failed to aggregate source %q: %w", sourceID, err)
	}
	if count == 0 {
		return source.Aggregate{}, false, nil
	}
	return source.Aggregate{
		Min:   minVal.Float64,
		Max:   maxVal.Float64,
		Sum:   sumVal.Float64,
		Count: count,
	}, true, nil
}

// CreateSource creates an empty source table. Used by seeds and tests; the
// engine itself never creates or alters source tables.
func (s *Store) CreateSource(ctx context.Context, sourceID string) error {
	if !validIdent.MatchString(sourceID) {
		return fmt.Errorf("source %q: %w", sourceID, source.ErrUnavailable)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (timestamp INTEGER NOT NULL, value NUMERIC)`, sourceID))
	if err != nil {
		return fmt.Errorf("failed to create source %q: %w", sourceID, err)
	}
	return nil
}

// Insert writes one reading. Seeding helper, not part of the read contract.
func (s *Store) Insert(ctx context.Context, sourceID string, ts time.Time, value any) error {
	if !validIdent.MatchString(sourceID) {
		return fmt.Errorf("source %q: %w", sourceID, source.ErrUnavailable)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (timestamp, value) VALUES (?, ?)`, sourceID),
		ts.UnixMilli(), value)
	if err != nil {
		return fmt.Errorf("failed to insert into source %q: %w", sourceID, err)
	}
	return nil
}

// checkSource validates the identifier and verifies the table exists. A
// missing or renamed source table is a configuration error, surfaced as
// ErrUnavailable and fatal to the request.
func (s *Store) checkSource(ctx context.Context, sourceID string) error {
	if !validIdent.MatchString(sourceID) {
		return fmt.Errorf("source %q: invalid identifier: %w", sourceID, source.ErrUnavailable)
	}

	var one int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s LIMIT 1`, sourceID)).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return nil // table exists, just empty
	case err != nil:
		return fmt.Errorf("source %q: %v: %w", sourceID, err, source.ErrUnavailable)
	default:
		return nil
	}
}

// parseScalar maps a scanned column to the scalar model: NULL becomes the
// absence marker, numeric text becomes a number, other text passes through.
func parseScalar(raw sql.NullString) normalize.Value {
	if !raw.Valid {
		return normalize.NoData()
	}
	if f, err := strconv.ParseFloat(raw.String, 64); err == nil {
		return normalize.FromFloat(f)
	}
	return normalize.FromString(raw.String)
}
