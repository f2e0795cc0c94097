package race

import "sailrace/internal/geo"

// Gate is an oriented line segment a player must cross in sequence; the
// last gate is the finish line (spec §3).
type Gate struct {
	Center         geo.LngLat
	OrientationDeg float64 // 0 = north-south, 90 = east-west
	LengthNM       float64
}

func verticalGate(lng, lat, lengthNM float64) Gate {
	return Gate{Center: geo.LngLat{Lng: lng, Lat: lat}, OrientationDeg: 0, LengthNM: lengthNM}
}

func horizontalGate(lng, lat, lengthNM float64) Gate {
	return Gate{Center: geo.LngLat{Lng: lng, Lat: lat}, OrientationDeg: 90, LengthNM: lengthNM}
}

// Course is an immutable race course snapshot (spec §3): key, start
// position/heading, intermediate gates, finish line, time factor, max
// days. Route waypoints are carried for client-side route rendering; the
// server does not simulate along them.
type Course struct {
	Key            string
	Name           string
	Description    string
	Polar          string
	StartTimeMs    int64
	Start          geo.LngLat
	StartHeadingDeg float64
	Gates          []Gate
	FinishLine     Gate
	RouteWaypoints [][]geo.LngLat
	TimeFactor     int64
	MaxDays        int
}

// MaxFinishTimeMs is the course-time deadline after which a race is
// force-ended (spec §4.G "time-limit termination").
func (c Course) MaxFinishTimeMs() int64 {
	return c.StartTimeMs + int64(c.MaxDays)*24*60*60*1000
}

// RaceTimeMs converts wall-clock elapsed milliseconds since the real-world
// race start into course time (spec §3, §4.G): course_time = start_time +
// elapsed * time_factor.
func (c Course) RaceTimeMs(elapsedWallMs int64) int64 {
	return c.StartTimeMs + elapsedWallMs*c.TimeFactor
}

// seedCourses ships four real historical offshore races, carried over from
// original_source's courses.rs::seed_courses (the distilled spec treats
// course authoring as an external collaborator, but a runtime needs at
// least a default catalog to exercise CreateRace end to end).
var seedCourses = []Course{
	{
		Key:             "mt23",
		Name:            "Mini Transat 2023",
		Description:     "Solo transatlantic race for 6.50m boats, from France to the Caribbean via the Canaries",
		Polar:           "mini-650",
		StartTimeMs:     1695649080000,
		Start:           geo.LngLat{Lng: -1.79, Lat: 46.47},
		StartHeadingDeg: 240.0,
		FinishLine:      verticalGate(-61.27, 16.25, 12.0),
		Gates: []Gate{
			verticalGate(-17.9, 28.7, 24.0),
		},
		RouteWaypoints: [][]geo.LngLat{
			{{Lng: -5.0, Lat: 44.0}, {Lng: -10.0, Lat: 38.0}, {Lng: -14.0, Lat: 32.0}},
			{{Lng: -25.0, Lat: 24.0}, {Lng: -40.0, Lat: 20.0}, {Lng: -55.0, Lat: 17.0}},
		},
		TimeFactor: 3000,
		MaxDays:    25,
	},
	{
		Key:             "rdr22",
		Name:            "Route du Rhum 2022",
		Description:     "Solo transatlantic race from Saint-Malo to Guadeloupe",
		Polar:           "vr-imoca-full-pack",
		StartTimeMs:     1668002100000,
		Start:           geo.LngLat{Lng: -1.9991, Lat: 48.7870},
		StartHeadingDeg: 300.0,
		FinishLine:      verticalGate(-61.53, 16.23, 24.0),
		Gates:           nil,
		RouteWaypoints:  [][]geo.LngLat{{}},
		TimeFactor:      5000,
		MaxDays:         21,
	},
	{
		Key:             "ore21",
		Name:            "The Ocean Race Europe 2021",
		Description:     "Offshore race from Lorient to Genoa via Cascais",
		Polar:           "vr-imoca-full-pack",
		StartTimeMs:     1622285100000,
		Start:           geo.LngLat{Lng: -3.52, Lat: 47.65},
		StartHeadingDeg: 200.0,
		FinishLine:      horizontalGate(8.85, 44.25, 12.0),
		Gates: []Gate{
			horizontalGate(-9.60, 38.55, 12.0),
		},
		RouteWaypoints: [][]geo.LngLat{
			{{Lng: -5.0, Lat: 45.0}, {Lng: -9.5, Lat: 42.0}},
			{{Lng: -6.0, Lat: 36.5}, {Lng: -3.0, Lat: 36.5}, {Lng: 3.0, Lat: 39.0}, {Lng: 6.0, Lat: 42.0}},
		},
		TimeFactor: 2000,
		MaxDays:    22,
	},
	{
		Key:             "vg20",
		Name:            "Vendee Globe 2020",
		Description:     "Solo non-stop around the world race via the three great capes",
		Polar:           "vr-imoca-full-pack",
		StartTimeMs:     1604833200000,
		Start:           geo.LngLat{Lng: -1.788456535301071, Lat: 46.470243284275966},
		StartHeadingDeg: 270.0,
		FinishLine:      horizontalGate(-1.788456535301071, 46.470243284275966, 24.0),
		Gates: []Gate{
			verticalGate(20.0, -39.9, 612.0),
			verticalGate(114.0, -43.6, 1104.0),
			verticalGate(-67.0, -57.2, 150.0),
		},
		RouteWaypoints: [][]geo.LngLat{
			{{Lng: -12.0, Lat: 35.0}, {Lng: -18.0, Lat: 15.0}, {Lng: -10.0, Lat: -5.0}, {Lng: 0.0, Lat: -25.0}},
			{{Lng: 45.0, Lat: -43.0}, {Lng: 75.0, Lat: -45.0}, {Lng: 95.0, Lat: -48.0}},
			{{Lng: 145.0, Lat: -54.0}, {Lng: 175.0, Lat: -58.0}, {Lng: -155.0, Lat: -57.0}, {Lng: -115.0, Lat: -53.0}, {Lng: -85.0, Lat: -53.0}},
			{{Lng: -55.0, Lat: -42.0}, {Lng: -40.0, Lat: -25.0}, {Lng: -32.0, Lat: -5.0}, {Lng: -22.0, Lat: 15.0}, {Lng: -15.0, Lat: 35.0}},
		},
		TimeFactor: 8000,
		MaxDays:    90,
	},
}

// CourseCatalog looks courses up by key, serving as the "course exists"
// precondition check for CreateRace (spec §4.G).
type CourseCatalog struct {
	byKey map[string]Course
}

// SeedCourses returns a catalog populated with the four built-in courses.
func SeedCourses() *CourseCatalog {
	c := &CourseCatalog{byKey: make(map[string]Course, len(seedCourses))}
	for _, course := range seedCourses {
		c.byKey[course.Key] = course
	}
	return c
}

func (c *CourseCatalog) Get(key string) (Course, bool) {
	course, ok := c.byKey[key]
	return course, ok
}
