package raceresults

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"sailrace/internal/objectstore"
	"sailrace/internal/race"
)

// Result is one durable hall-of-fame row.
type Result struct {
	ID            int64
	CourseKey     string
	PlayerName    string
	PlayerID      string
	FinishTimeMs  int64
	RaceStartMs   int64
	PathKey       string
}

// Recorder implements race.FinishRecorder: it uploads a finished player's
// encoded path to the paths bucket and records a row in a durable sqlite
// index, grounded on original_source's save_result/get_leaderboard.
type Recorder struct {
	db    *sql.DB
	paths objectstore.Store
}

func Open(path string, paths objectstore.Store) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("raceresults: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &Recorder{db: db, paths: paths}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) Close() error { return r.db.Close() }

func (r *Recorder) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS race_results (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			course_key      TEXT NOT NULL,
			player_name     TEXT NOT NULL,
			player_id       TEXT NOT NULL,
			finish_time_ms  INTEGER NOT NULL,
			race_start_ms   INTEGER NOT NULL,
			path_s3_key     TEXT NOT NULL
		)
	`)
	return err
}

// RecordFinish uploads the encoded path under the deterministic key
// schema (spec §6) and inserts a durable row (spec §4.G "Finish
// persistence"). Failures here are logged by the caller, never rolled
// back against the in-memory finish, per spec §7's "post-finish
// persistence failures are logged only".
func (r *Recorder) RecordFinish(ctx context.Context, courseKey, playerID, playerName string, finishTimeMs, raceStartTimeMs int64, points []race.PathPoint) error {
	key := objectstore.PathKey(courseKey, raceStartTimeMs, playerID)
	blob := EncodePath(points)
	if err := r.paths.Put(ctx, key, blob); err != nil {
		return fmt.Errorf("raceresults: upload path: %w", err)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO race_results (course_key, player_name, player_id, finish_time_ms, race_start_ms, path_s3_key)
		VALUES (?, ?, ?, ?, ?, ?)
	`, courseKey, playerName, playerID, finishTimeMs, raceStartTimeMs, key)
	if err != nil {
		return fmt.Errorf("raceresults: insert result: %w", err)
	}
	return nil
}

// HallOfFameEntry mirrors original_source's race_results.rs
// HallOfFameEntry shape.
type HallOfFameEntry struct {
	ID           int64
	Rank         int
	PlayerName   string
	PlayerID     string
	FinishTimeMs int64
	RaceDateMs   int64
}

// Leaderboard returns the best results for a course, ascending by finish
// time, matching original_source's get_leaderboard.
func (r *Recorder) Leaderboard(ctx context.Context, courseKey string, limit int) ([]HallOfFameEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, player_name, player_id, finish_time_ms, race_start_ms
		FROM race_results
		WHERE course_key = ?
		ORDER BY finish_time_ms ASC
		LIMIT ?
	`, courseKey, limit)
	if err != nil {
		return nil, fmt.Errorf("raceresults: leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []HallOfFameEntry
	rank := 0
	for rows.Next() {
		rank++
		var e HallOfFameEntry
		if err := rows.Scan(&e.ID, &e.PlayerName, &e.PlayerID, &e.FinishTimeMs, &e.RaceDateMs); err != nil {
			return nil, fmt.Errorf("raceresults: scan: %w", err)
		}
		e.Rank = rank
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PathKey returns the stored key for a result id, matching original_source's
// get_path_key.
func (r *Recorder) PathKey(ctx context.Context, resultID int64) (string, bool, error) {
	var key string
	err := r.db.QueryRowContext(ctx, `SELECT path_s3_key FROM race_results WHERE id = ?`, resultID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("raceresults: path key: %w", err)
	}
	return key, true, nil
}

// ParsePathKeyPlayerID accepts both delimiter conventions
// ("paths/{course}/{start}/{player}.bin" and the legacy
// "paths/{course}/{start}_{player}.bin") per spec §9's open question:
// a reader must accept both even though this deployment only writes the
// slash form.
func ParsePathKeyPlayerID(key string) (playerID string, ok bool) {
	base := key[strings.LastIndex(key, "/")+1:]
	base = strings.TrimSuffix(base, ".bin")
	if idx := strings.LastIndex(base, "_"); idx >= 0 {
		if _, err := strconv.ParseInt(base[:idx], 10, 64); err == nil {
			return base[idx+1:], true
		}
	}
	return base, base != ""
}
