package race

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sailrace/internal/geo"
)

const (
	assertEventuallyTimeout = 2 * time.Second
	assertEventuallyTick    = 10 * time.Millisecond
)

func centerAt(lng, lat float64) geo.LngLat { return geo.LngLat{Lng: lng, Lat: lat} }

type fakeRecorder struct {
	mu      sync.Mutex
	calls   int
	lastID  string
	lastPts []PathPoint
}

func (f *fakeRecorder) RecordFinish(ctx context.Context, courseKey, playerID, playerName string, finishTimeMs, raceStartTimeMs int64, points []PathPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastID = playerID
	f.lastPts = points
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeRecorder) {
	t.Helper()
	store := NewStore(testLogger())
	courses := SeedCourses()
	rec := &fakeRecorder{}
	return NewEngine(store, courses, nil, rec, testLogger()), rec
}

func TestEngine_CreateRace_UnknownCourseIsProtocolError(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.CreateRace(context.Background(), "p1", "Alice", "nonexistent", NewOutboundQueue())
	require.Error(t, err)
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestEngine_CreateRace_AddsCreatorAsPlayer(t *testing.T) {
	engine, _ := newTestEngine(t)
	r, err := engine.CreateRace(context.Background(), "p1", "Alice", "mt23", NewOutboundQueue())
	require.NoError(t, err)
	require.Contains(t, r.Players, "p1")
	assert.Equal(t, StateLobby, r.State)
}

func TestEngine_JoinRace_RespectsCapacity(t *testing.T) {
	engine, _ := newTestEngine(t)
	r, err := engine.CreateRace(context.Background(), "p0", "Creator", "mt23", NewOutboundQueue())
	require.NoError(t, err)

	for i := 1; i < 10; i++ {
		err := engine.JoinRace(r, playerID(i), "name", NewOutboundQueue())
		require.NoError(t, err)
	}
	assert.Len(t, r.Players, 10)

	err = engine.JoinRace(r, "overflow", "overflow", NewOutboundQueue())
	require.Error(t, err)
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestEngine_JoinRace_RejectsNonLobbyState(t *testing.T) {
	engine, _ := newTestEngine(t)
	r, err := engine.CreateRace(context.Background(), "p0", "Creator", "mt23", NewOutboundQueue())
	require.NoError(t, err)

	r.mu.Lock()
	r.State = StateRunning
	r.mu.Unlock()

	err = engine.JoinRace(r, "late", "late", NewOutboundQueue())
	require.Error(t, err)
}

func TestEngine_JoinRace_PriorMembersNotifiedBeforeJoinerSeesResponse(t *testing.T) {
	// The Engine's contract (spec §5 ordering law) is: JoinRace's own
	// broadcast to prior members happens synchronously inside the call, so
	// by the time it returns, every prior member's queue already holds the
	// PlayerJoined message. The caller (wsserver) sends RaceJoined to the
	// new player only afterwards.
	engine, _ := newTestEngine(t)
	priorQueue := NewOutboundQueue()
	r, err := engine.CreateRace(context.Background(), "p0", "Creator", "mt23", priorQueue)
	require.NoError(t, err)

	err = engine.JoinRace(r, "p1", "Joiner", NewOutboundQueue())
	require.NoError(t, err)

	msg := <-priorQueue.Chan()
	sm, ok := msg.(ServerMessage)
	require.True(t, ok)
	assert.Equal(t, MsgPlayerJoined, sm.Type)
}

func TestEngine_StartRace_OnlyCreatorMayStart(t *testing.T) {
	engine, _ := newTestEngine(t)
	r, err := engine.CreateRace(context.Background(), "creator", "Creator", "mt23", NewOutboundQueue())
	require.NoError(t, err)
	require.NoError(t, engine.JoinRace(r, "other", "Other", NewOutboundQueue()))

	err = engine.StartRace(r, "other")
	require.Error(t, err)

	err = engine.StartRace(r, "creator")
	require.NoError(t, err)
	r.mu.RLock()
	state := r.State
	r.mu.RUnlock()
	assert.Equal(t, StateCountdown, state)
}

func TestEngine_GateCrossed_IgnoresWrongIndexAndAdvancesOnMatch(t *testing.T) {
	engine, rec := newTestEngine(t)
	r, err := engine.CreateRace(context.Background(), "p1", "Solo", "mt23", NewOutboundQueue())
	require.NoError(t, err)

	r.mu.Lock()
	r.State = StateRunning
	r.mu.Unlock()

	// course "mt23" has 1 intermediate gate + finish line = finish at index 2
	engine.GateCrossed(context.Background(), r, "p1", 5, 1000) // wrong index, ignored
	r.mu.RLock()
	assert.Equal(t, 0, r.Players["p1"].NextGateIndex)
	r.mu.RUnlock()

	engine.GateCrossed(context.Background(), r, "p1", 0, 1000)
	r.mu.RLock()
	assert.Equal(t, 1, r.Players["p1"].NextGateIndex)
	r.mu.RUnlock()

	engine.GateCrossed(context.Background(), r, "p1", 1, 2000)
	r.mu.RLock()
	finished := r.Players["p1"].Finished(r.Course)
	r.mu.RUnlock()
	assert.True(t, finished)

	// RecordFinish is fired in a goroutine; poll briefly instead of sleeping blindly.
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.calls == 1 && rec.lastID == "p1"
	}, assertEventuallyTimeout, assertEventuallyTick)
}

func TestComputeLeaderboard_FinishedBeforeRacingAndOrderedCorrectly(t *testing.T) {
	course := Course{
		Gates:      []Gate{{Center: centerAt(0, 0)}},
		FinishLine: Gate{Center: centerAt(1, 1)},
	}

	finishA := int64(5000)
	finishB := int64(3000)
	players := []*Player{
		{ID: "racing-far", NextGateIndex: 0, HasPosition: true, Position: centerAt(10, 10)},
		{ID: "finished-slow", NextGateIndex: 2, FinishTimeMs: &finishA},
		{ID: "racing-near", NextGateIndex: 0, HasPosition: true, Position: centerAt(0.01, 0.01)},
		{ID: "finished-fast", NextGateIndex: 2, FinishTimeMs: &finishB},
	}

	entries := computeLeaderboard(players, course)
	require.Len(t, entries, 4)

	assert.Equal(t, "finished-fast", entries[0].ID)
	assert.Equal(t, "finished-slow", entries[1].ID)
	assert.Equal(t, "racing-near", entries[2].ID)
	assert.Equal(t, "racing-far", entries[3].ID)
}

func playerID(i int) string {
	return string(rune('a' + i))
}
