package ingest

import (
	"time"
)

// Unit is one (day, hour) ingestion work unit; one unit maps to one target
// WindReport time, per spec §4.E.
type Unit struct {
	Time time.Time
}

// PlanUnits enumerates all (day, hour in {0,6,12,18}) units covering
// [from, to] inclusive, following the NCAR synoptic-hour schedule in
// original_source's ncar_source.rs (NCAR_HOURS = [0, 6, 12, 18]).
func PlanUnits(from, to time.Time, hours [4]int) []Unit {
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)

	var units []Unit
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		for _, h := range hours {
			units = append(units, Unit{Time: time.Date(d.Year(), d.Month(), d.Day(), h, 0, 0, 0, time.UTC)})
		}
	}
	return units
}
