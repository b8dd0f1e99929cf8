// Command example seeds a SQLite database with three source tables and runs
// the report engine against it: a whole-range report, a streamed report and
// per-source statistics.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"reportgrid/pkg/align"
	"reportgrid/pkg/audit"
	"reportgrid/pkg/bucket"
	"reportgrid/pkg/report"
	"reportgrid/pkg/source/sqlstore"
	"reportgrid/pkg/template"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := report.WithActor(context.Background(), "demo")
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return err
	}
	defer db.Close()

	grid := bucket.Default()
	store := sqlstore.New(db, grid)

	base := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	if err := seed(ctx, store, base); err != nil {
		return err
	}

	templates := template.NewMemoryStore()
	templates.Put(template.Template{
		ID:   1,
		Name: "chiller-plant",
		Parameters: []string{
			"supply_temp_From_Chiller1",
			"supply_temp_To_Chiller1",
			"return_temp_From_Chiller1",
			"chw_pressure_Unit_kPa",
		},
	})

	notifier := audit.NewLogNotifier(logger)
	defer notifier.Close()

	svc, err := report.New(templates, store, grid, report.Options{
		Audit:  notifier,
		Logger: &logger,
	})
	if err != nil {
		return err
	}

	from := base
	to := base.Add(2 * time.Hour)

	rows, err := svc.GenerateReport(ctx, 1, from, to)
	if err != nil {
		return err
	}
	fmt.Println("== whole-range report ==")
	for _, row := range rows {
		fmt.Printf("%s  supply=%-6s return=%-6s pressure=%s\n",
			row.Bucket.Format("15:04"),
			display(row, "supply_temp"),
			display(row, "return_temp"),
			display(row, "chw_pressure"))
	}

	fmt.Println("== streamed in chunks of 3 ==")
	it, err := svc.GenerateReportStream(ctx, 1, from, to, 3)
	if err != nil {
		return err
	}
	n := 0
	for chunk := range it.Chunks(ctx) {
		if chunk.Err != nil {
			return chunk.Err
		}
		n++
		fmt.Printf("chunk %d: %d rows\n", n, len(chunk.Rows))
	}

	summaries, err := svc.ComputeStatistics(ctx, 1, from, to)
	if err != nil {
		return err
	}
	fmt.Println("== statistics ==")
	for id, sm := range summaries {
		fmt.Printf("%-14s min=%.1f max=%.1f avg=%.1f\n", id, sm.Min, sm.Max, sm.Avg)
	}
	return nil
}

func seed(ctx context.Context, store *sqlstore.Store, base time.Time) error {
	for _, src := range []string{"supply_temp", "return_temp", "chw_pressure"} {
		if err := store.CreateSource(ctx, src); err != nil {
			return err
		}
	}
	// Supply temp logs every 10 minutes, return temp every 20 with an
	// offset, pressure sparsely, so the report shows real gaps.
	for i := 0; i < 12; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Minute)
		if err := store.Insert(ctx, "supply_temp", ts, 6.0+0.37*float64(i)); err != nil {
			return err
		}
	}
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i)*20*time.Minute + 3*time.Minute)
		if err := store.Insert(ctx, "return_temp", ts, 11.5+0.61*float64(i)); err != nil {
			return err
		}
	}
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * 45 * time.Minute)
		if err := store.Insert(ctx, "chw_pressure", ts, 310.25+2.5*float64(i)); err != nil {
			return err
		}
	}
	return nil
}

func display(row align.Row, col string) string {
	v := row.Values[col]
	if v.IsAbsent() {
		return "-"
	}
	return v.String()
}
