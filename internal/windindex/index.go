// Package windindex is the durable wind-report index described in spec
// §4.B, grounded on original_source's repos/wind_reports.rs (create/get/
// list_since over Postgres) reworked onto an embedded, cgo-free sqlite
// database — the pack's own domain choice for a durable local index
// (ehrlich-b-wingthing/go.mod depends on modernc.org/sqlite).
package windindex

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	_ "modernc.org/sqlite"

	"sailrace/internal/objectstore"
)

// Report is one WindReport entry (spec §3).
type Report struct {
	Time     time.Time
	GribPath string
	PNGPath  string
	Source   string
}

// Index is the durable mapping target_time -> {grib_path, png_path,
// source}. sqlite serializes its own writers; reads use the same
// connection pool so callers never need external locking, satisfying
// spec §4.B's "concurrent reads, serialized writes" requirement.
type Index struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the sqlite database at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("windindex: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time, by design

	idx := &Index{db: db}
	if err := idx.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) migrate(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wind_reports (
			time_ms     INTEGER PRIMARY KEY,
			grib_path   TEXT NOT NULL,
			png_path    TEXT NOT NULL,
			source      TEXT NOT NULL
		)
	`)
	return err
}

// Upsert inserts or replaces the entry for report.Time (spec §4.B:
// "ON CONFLICT(time) replaces paths/source"). It returns true if a new
// row was inserted, false if an existing row was replaced.
func (idx *Index) Upsert(ctx context.Context, r Report) (inserted bool, err error) {
	timeMs := r.Time.UTC().UnixMilli()
	existed, err := idx.Exists(ctx, r.Time)
	if err != nil {
		return false, err
	}
	_, err = idx.db.ExecContext(ctx, `
		INSERT INTO wind_reports (time_ms, grib_path, png_path, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(time_ms) DO UPDATE SET
			grib_path = excluded.grib_path,
			png_path  = excluded.png_path,
			source    = excluded.source
	`, timeMs, r.GribPath, r.PNGPath, r.Source)
	if err != nil {
		return false, fmt.Errorf("windindex: upsert: %w", err)
	}
	return !existed, nil
}

func (idx *Index) Exists(ctx context.Context, t time.Time) (bool, error) {
	var n int
	err := idx.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM wind_reports WHERE time_ms = ?`, t.UTC().UnixMilli()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("windindex: exists: %w", err)
	}
	return n > 0, nil
}

func (idx *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	err := idx.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM wind_reports`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("windindex: count: %w", err)
	}
	return n, nil
}

// Random returns one arbitrary report, or ok=false if the index is empty.
func (idx *Index) Random(ctx context.Context) (report Report, ok bool, err error) {
	n, err := idx.Count(ctx)
	if err != nil || n == 0 {
		return Report{}, false, err
	}
	offset := rand.Int63n(n)
	row := idx.db.QueryRowContext(ctx, `SELECT time_ms, grib_path, png_path, source FROM wind_reports ORDER BY time_ms LIMIT 1 OFFSET ?`, offset)
	r, err := scanReport(row)
	if err != nil {
		return Report{}, false, err
	}
	return r, true, nil
}

// Range returns all reports with time in [since, until], ascending.
func (idx *Index) Range(ctx context.Context, since, until time.Time) ([]Report, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT time_ms, grib_path, png_path, source FROM wind_reports
		WHERE time_ms >= ? AND time_ms <= ?
		ORDER BY time_ms ASC
	`, since.UTC().UnixMilli(), until.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("windindex: range: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		r, err := scanReportRows(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(s scanner) (Report, error) {
	var timeMs int64
	var r Report
	if err := s.Scan(&timeMs, &r.GribPath, &r.PNGPath, &r.Source); err != nil {
		return Report{}, fmt.Errorf("windindex: scan: %w", err)
	}
	r.Time = time.UnixMilli(timeMs).UTC()
	return r, nil
}

func scanReportRows(rows *sql.Rows) (Report, error) { return scanReport(rows) }

// Rebuild optionally truncates the index, then walks the raster bucket
// listing and reconstructs + upserts a report for every valid "uv.png"
// key found, per spec §4.B. Keys that don't match the schema are skipped
// with a warning rather than treated as fatal (spec §6 path-parser
// invariant); the caller supplies onSkip, invoked once per skipped key, so
// this package does not depend on a concrete logger.
func (idx *Index) Rebuild(ctx context.Context, rasterStore objectstore.Store, source string, truncate bool, onSkip func(key string)) (int, error) {
	if truncate {
		if _, err := idx.db.ExecContext(ctx, `DELETE FROM wind_reports`); err != nil {
			return 0, fmt.Errorf("windindex: truncate: %w", err)
		}
	}

	entries, err := rasterStore.List(ctx, "ncar/")
	if err != nil {
		return 0, fmt.Errorf("windindex: list raster bucket: %w", err)
	}

	count := 0
	for _, e := range entries {
		t, ok := objectstore.ParseRasterKey(e.Key)
		if !ok {
			if onSkip != nil {
				onSkip(e.Key)
			}
			continue
		}
		report := Report{
			Time:     t,
			GribPath: objectstore.GribKey(t),
			PNGPath:  e.Key,
			Source:   source,
		}
		if _, err := idx.Upsert(ctx, report); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
