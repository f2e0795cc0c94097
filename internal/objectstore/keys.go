package objectstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GribKey and RasterKey implement the object key schema from spec §6,
// ported from original_source's ncar_source.rs (ncar_grib_path /
// ncar_raster_path): "ncar/{YYYY}/{MMDD}/{H}/wind.grib2" and ".../uv.png".
func GribKey(t time.Time) string  { return ncarKey(t, "wind.grib2") }
func RasterKey(t time.Time) string { return ncarKey(t, "uv.png") }

func ncarKey(t time.Time, filename string) string {
	t = t.UTC()
	return fmt.Sprintf("ncar/%04d/%02d%02d/%d/%s", t.Year(), t.Month(), t.Day(), t.Hour(), filename)
}

// ParseRasterKey is the inverse of RasterKey, used by the Wind Report
// Index's rebuild operation (spec §4.B). It returns ok=false for any key
// that doesn't match the schema, so the caller can log and skip it rather
// than treat it as fatal (spec §6's path-parser invariant).
func ParseRasterKey(key string) (t time.Time, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 || parts[0] != "ncar" || parts[4] != "uv.png" {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 4 {
		return time.Time{}, false
	}
	mmdd := parts[2]
	if len(mmdd) != 4 {
		return time.Time{}, false
	}
	month, err1 := strconv.Atoi(mmdd[:2])
	day, err2 := strconv.Atoi(mmdd[2:])
	if err1 != nil || err2 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	hour, err := strconv.Atoi(parts[3])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC), true
}

// PathKey builds the deterministic finished-path object key, spec §6:
// "paths/{course_key}/{race_start_time_ms}/{player_id}.bin". The
// underscore-delimited legacy form original_source also admits
// (race_start_time_player_id.bin) is accepted on read by
// raceresults.ParsePathKeyPlayerID but never produced.
func PathKey(courseKey string, raceStartTimeMs int64, playerID string) string {
	return fmt.Sprintf("paths/%s/%d/%s.bin", courseKey, raceStartTimeMs, playerID)
}

// ArchiveURL builds the upstream NCAR GFS archive URL, spec §6:
// "{BASE}/{YYYY}/{YYYYMMDD}/gfs.0p25.{YYYYMMDD}{HH}.f000.grib2".
func ArchiveURL(base string, t time.Time) string {
	t = t.UTC()
	ymd := fmt.Sprintf("%04d%02d%02d", t.Year(), t.Month(), t.Day())
	return fmt.Sprintf("%s/%04d/%s/gfs.0p25.%s%02d.f000.grib2", base, t.Year(), ymd, ymd, t.Hour())
}
