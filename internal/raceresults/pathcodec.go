// Package raceresults persists finished race paths and a durable
// hall-of-fame style result index, grounded on original_source's
// race_results.rs (save_result / get_leaderboard / get_path_key) reworked
// from Postgres/sqlx onto embedded sqlite, matching the domain-stack
// choice already used by internal/windindex.
package raceresults

import (
	"encoding/binary"
	"fmt"
	"math"

	"sailrace/internal/race"
)

func float32bits(f float32) uint32    { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

const pathFormatVersion = 1

// EncodePath serializes points per spec §3/§6: little-endian
// [u32 version][u32 count], then count * [i64 race_time_ms][f32 lng][f32
// lat][f32 heading], written with binary.LittleEndian into a slice
// preallocated to 8+20*len(points) bytes.
func EncodePath(points []race.PathPoint) []byte {
	buf := make([]byte, 8+20*len(points))
	binary.LittleEndian.PutUint32(buf[0:4], pathFormatVersion)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(points)))

	off := 8
	for _, p := range points {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(p.RaceTimeMs))
		binary.LittleEndian.PutUint32(buf[off+8:off+12], float32bits(p.Lng))
		binary.LittleEndian.PutUint32(buf[off+12:off+16], float32bits(p.Lat))
		binary.LittleEndian.PutUint32(buf[off+16:off+20], float32bits(p.HeadingDeg))
		off += 20
	}
	return buf
}

// DecodePath is the inverse of EncodePath.
func DecodePath(data []byte) ([]race.PathPoint, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("raceresults: path blob too short: %d bytes", len(data))
	}
	version := binary.LittleEndian.Uint32(data[0:4])
	if version != pathFormatVersion {
		return nil, fmt.Errorf("raceresults: unsupported path format version %d", version)
	}
	count := binary.LittleEndian.Uint32(data[4:8])
	want := 8 + 20*int(count)
	if len(data) != want {
		return nil, fmt.Errorf("raceresults: path blob length %d does not match header (want %d)", len(data), want)
	}

	points := make([]race.PathPoint, count)
	off := 8
	for i := range points {
		raceTime := int64(binary.LittleEndian.Uint64(data[off : off+8]))
		lng := float32frombits(binary.LittleEndian.Uint32(data[off+8 : off+12]))
		lat := float32frombits(binary.LittleEndian.Uint32(data[off+12 : off+16]))
		heading := float32frombits(binary.LittleEndian.Uint32(data[off+16 : off+20]))
		points[i] = race.PathPoint{RaceTimeMs: raceTime, Lng: lng, Lat: lat, HeadingDeg: heading}
		off += 20
	}
	return points, nil
}
