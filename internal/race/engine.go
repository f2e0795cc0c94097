package race

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"sailrace/internal/config"
	"sailrace/internal/geo"
	"sailrace/internal/windindex"
)

// FinishRecorder persists a finished player's path (spec §4.G "Finish
// persistence"). Implemented by internal/raceresults.Recorder; declared
// here as a narrow interface so this package never imports the storage
// layer directly (spec §9's "one narrow capability interface" note).
type FinishRecorder interface {
	RecordFinish(ctx context.Context, courseKey, playerID, playerName string, finishTimeMs, raceStartTimeMs int64, points []PathPoint) error
}

// ProtocolError is returned for precondition violations (spec §7's
// Protocol error kind): surfaced to the offending client as Error{message}
// without closing the connection.
type ProtocolError struct{ Msg string }

func (e *ProtocolError) Error() string { return e.Msg }

// Engine is the Race Protocol Engine (spec §4.G): validates and applies
// client commands against the Store, and owns the two periodic broadcast
// tasks per running race.
type Engine struct {
	store    *Store
	courses  *CourseCatalog
	windex   *windindex.Index
	recorder FinishRecorder
	log      zerolog.Logger
}

func NewEngine(store *Store, courses *CourseCatalog, windex *windindex.Index, recorder FinishRecorder, log zerolog.Logger) *Engine {
	return &Engine{store: store, courses: courses, windex: windex, recorder: recorder, log: log}
}

// Store exposes the backing Race State Store so the wsserver Multiplexer
// can resolve a race id from a joinRace command.
func (e *Engine) Store() *Store { return e.store }

// broadcast pushes msg to every player's outbound queue except skipID.
// Callers must gather the player list under the race's own lock and then
// call this after releasing it — never while holding the lock, per spec
// §5's "no suspension while holding the exclusive lock" rule (Push itself
// never blocks, but the discipline is kept uniform with I/O-bearing
// broadcasts for consistency).
func broadcast(players []*Player, skipID string, msg ServerMessage) {
	for _, p := range players {
		if p.ID == skipID {
			continue
		}
		p.Outbound.Push(msg)
	}
}

func snapshotPlayers(r *Race) []*Player {
	out := make([]*Player, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateRace allocates a race id, snapshots the course and bracketing wind
// reports, and adds the caller as creator (spec §4.G CreateRace).
func (e *Engine) CreateRace(ctx context.Context, playerID, playerName, courseKey string, outbound *OutboundQueue) (*Race, error) {
	course, ok := e.courses.Get(courseKey)
	if !ok {
		return nil, &ProtocolError{Msg: fmt.Sprintf("unknown course %q", courseKey)}
	}

	r := e.store.Create(course, playerID)

	windowStart := time.UnixMilli(course.StartTimeMs)
	windowEnd := time.UnixMilli(course.MaxFinishTimeMs())
	if e.windex != nil {
		reports, err := e.windex.Range(ctx, windowStart, windowEnd)
		if err == nil {
			r.WindRasters = reports
		}
	}

	r.mu.Lock()
	r.Players[playerID] = &Player{ID: playerID, Name: playerName, Outbound: outbound, NextGateIndex: 0}
	r.LastActivity = time.Now()
	r.mu.Unlock()

	return r, nil
}

// JoinRace adds a player to a Lobby race not yet full (spec §4.G JoinRace).
func (e *Engine) JoinRace(r *Race, playerID, playerName string, outbound *OutboundQueue) error {
	r.mu.Lock()
	if r.State != StateLobby {
		r.mu.Unlock()
		return &ProtocolError{Msg: "race is not accepting joins"}
	}
	if len(r.Players) >= config.RaceMaxPlayers {
		r.mu.Unlock()
		return &ProtocolError{Msg: "race is full"}
	}

	r.Players[playerID] = &Player{ID: playerID, Name: playerName, Outbound: outbound, NextGateIndex: 0}
	r.LastActivity = time.Now()
	prior := snapshotPlayers(r)
	r.mu.Unlock()

	// PlayerJoined reaches prior members before the joiner's own
	// RaceJoined reply (spec §5 ordering law); the caller sends RaceJoined
	// to the new player only after this call returns.
	broadcast(prior, playerID, ServerMessage{Type: MsgPlayerJoined, Payload: PlayerJoinedPayload{ID: playerID, Name: playerName}})
	return nil
}

// LeaveRace removes a member and drops the race immediately if it's now
// empty, regardless of state (spec §4.G LeaveRace). The sweeper remains a
// backstop for races that are merely idle, not empty.
func (e *Engine) LeaveRace(r *Race, playerID string) {
	r.mu.Lock()
	delete(r.Players, playerID)
	r.LastActivity = time.Now()
	remaining := snapshotPlayers(r)
	empty := len(r.Players) == 0
	r.mu.Unlock()

	broadcast(remaining, "", ServerMessage{Type: MsgPlayerLeft, Payload: PlayerLeftPayload{ID: playerID}})

	if empty {
		e.store.Delete(r.ID)
	}
}

// StartRace transitions Lobby -> Countdown; only the creator may do this
// (spec §4.G invariant ii).
func (e *Engine) StartRace(r *Race, playerID string) error {
	r.mu.Lock()
	if playerID != r.Creator {
		r.mu.Unlock()
		return &ProtocolError{Msg: "only the creator may start the race"}
	}
	if r.State != StateLobby {
		r.mu.Unlock()
		return &ProtocolError{Msg: "race already started"}
	}
	r.State = StateCountdown
	r.CountdownStart = time.Now()
	r.mu.Unlock()

	go e.runCountdown(r)
	return nil
}

// runCountdown broadcasts RaceCountdown{3},{2},{1},{0} one second apart,
// transitioning to Running at {0}; it aborts if every player leaves
// mid-countdown (spec §4.G StartRace effect).
func (e *Engine) runCountdown(r *Race) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for remaining := config.RaceCountdownSeconds; remaining >= 0; remaining-- {
		r.mu.RLock()
		state := r.State
		playerCount := len(r.Players)
		players := snapshotPlayers(r)
		r.mu.RUnlock()

		if state != StateCountdown {
			return
		}
		if playerCount == 0 {
			r.mu.Lock()
			r.State = StateLobby
			r.mu.Unlock()
			return
		}

		broadcast(players, "", ServerMessage{Type: MsgRaceCountdown, Payload: RaceCountdownPayload{Seconds: remaining}})

		if remaining == 0 {
			break
		}
		<-ticker.C
	}

	r.mu.Lock()
	r.State = StateRunning
	r.RaceStartTime = time.Now()
	r.mu.Unlock()

	go e.runTimeSync(r)
	go e.runLeaderboard(r)
}

// PositionUpdate applies a player position report, samples path_history at
// a 100ms cadence while Running, and broadcasts to other members (spec
// §4.G PositionUpdate).
func (e *Engine) PositionUpdate(r *Race, playerID string, lng, lat, heading float64) {
	r.mu.Lock()
	if r.State == StateEnded {
		r.mu.Unlock()
		return
	}
	p, ok := r.Players[playerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Position = geo.LngLat{Lng: lng, Lat: lat}
	p.HasPosition = true
	p.HeadingDeg = heading
	r.LastActivity = time.Now()

	if r.State == StateRunning {
		now := time.Now()
		if p.LastSampleAt.IsZero() || now.Sub(p.LastSampleAt) >= config.PathSampleInterval {
			p.LastSampleAt = now
			raceTimeMs := r.Course.RaceTimeMs(now.Sub(r.RaceStartTime).Milliseconds())
			p.PathHistory = append(p.PathHistory, PathPoint{
				RaceTimeMs: raceTimeMs,
				Lng:        float32(lng),
				Lat:        float32(lat),
				HeadingDeg: float32(heading),
			})
		}
	}
	others := snapshotPlayers(r)
	r.mu.Unlock()

	broadcast(others, playerID, ServerMessage{Type: MsgPositionUpdate, Payload: PositionUpdatePayload{ID: playerID, Lng: lng, Lat: lat, Heading: heading}})
}

// GateCrossed advances a player's next_gate_index when it matches the
// claimed index; out-of-order claims are silently ignored (spec §4.G
// GateCrossed). Reaching |gates|+1 finishes the player and triggers
// fire-and-forget path persistence.
func (e *Engine) GateCrossed(ctx context.Context, r *Race, playerID string, gateIndex int, courseTimeMs int64) {
	r.mu.Lock()
	if r.State != StateRunning {
		r.mu.Unlock()
		return
	}
	p, ok := r.Players[playerID]
	if !ok || gateIndex != p.NextGateIndex {
		r.mu.Unlock()
		return
	}

	p.NextGateIndex++
	finished := p.Finished(r.Course)
	var pathCopy []PathPoint
	var finishTimeMs int64
	if finished {
		finishTimeMs = courseTimeMs
		p.FinishTimeMs = &finishTimeMs
		pathCopy = append([]PathPoint(nil), p.PathHistory...)
	}
	r.LastActivity = time.Now()
	courseKey := r.Course.Key
	raceStartMs := r.RaceStartTime.UnixMilli()
	playerName := p.Name
	r.mu.Unlock()

	if finished && e.recorder != nil {
		go func() {
			if err := e.recorder.RecordFinish(ctx, courseKey, playerID, playerName, finishTimeMs, raceStartMs, pathCopy); err != nil {
				e.log.Warn().Err(err).Str("player", playerID).Msg("race: finish persistence failed")
			}
		}()
	}
}

// runTimeSync broadcasts SyncRaceTime every second while Running and ends
// the race on time-limit expiry (spec §4.G periodic tasks).
func (e *Engine) runTimeSync(r *Race) {
	ticker := time.NewTicker(config.RaceTimeSyncInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.RLock()
		state := r.State
		elapsed := time.Since(r.RaceStartTime).Milliseconds()
		raceTimeMs := r.Course.RaceTimeMs(elapsed)
		maxFinish := r.Course.MaxFinishTimeMs()
		players := snapshotPlayers(r)
		r.mu.RUnlock()

		if state != StateRunning {
			return
		}

		broadcast(players, "", ServerMessage{Type: MsgSyncRaceTime, Payload: SyncRaceTimePayload{RaceTimeMs: raceTimeMs}})

		if raceTimeMs >= maxFinish {
			r.mu.Lock()
			r.State = StateEnded
			r.mu.Unlock()
			broadcast(players, "", ServerMessage{Type: MsgRaceEnded, Payload: RaceEndedPayload{Reason: "time limit"}})
			return
		}
	}
}

// runLeaderboard broadcasts Leaderboard every two seconds while Running
// (spec §4.G periodic tasks).
func (e *Engine) runLeaderboard(r *Race) {
	ticker := time.NewTicker(config.RaceLeaderboardInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.RLock()
		state := r.State
		players := snapshotPlayers(r)
		course := r.Course
		r.mu.RUnlock()

		if state != StateRunning {
			return
		}

		entries := computeLeaderboard(players, course)
		broadcast(players, "", ServerMessage{Type: MsgLeaderboard, Payload: LeaderboardPayload{Entries: entries}})
	}
}

// computeLeaderboard orders finished players ahead of racing players (spec
// §4.G): finished compare by ascending finish_time; racing players compare
// by descending next_gate_index then ascending great-circle distance to
// the next gate (or finish line once all gates are passed).
func computeLeaderboard(players []*Player, course Course) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(players))
	for _, p := range players {
		finished := p.Finished(course)
		dist := distanceToNextTarget(p, course)
		entries = append(entries, LeaderboardEntry{
			ID:            p.ID,
			Name:          p.Name,
			Finished:      finished,
			FinishTimeMs:  p.FinishTimeMs,
			NextGateIndex: p.NextGateIndex,
			DistanceNM:    dist,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Finished != b.Finished {
			return a.Finished // finished precede racing
		}
		if a.Finished {
			return *a.FinishTimeMs < *b.FinishTimeMs
		}
		if a.NextGateIndex != b.NextGateIndex {
			return a.NextGateIndex > b.NextGateIndex // further along wins
		}
		return a.DistanceNM < b.DistanceNM
	})
	return entries
}

func distanceToNextTarget(p *Player, course Course) float64 {
	if !p.HasPosition {
		return 1 << 30 // unknown position: rank last among equals
	}
	var target geo.LngLat
	if p.NextGateIndex < len(course.Gates) {
		target = course.Gates[p.NextGateIndex].Center
	} else {
		target = course.FinishLine.Center
	}
	return geo.HaversineNM(p.Position, target)
}
