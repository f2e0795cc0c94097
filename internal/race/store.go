package race

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sailrace/internal/config"
)

// Store is the in-memory Race State Store (spec §4.F): a map of race id to
// race, guarded so that mutations release the lock before any I/O or
// broadcast, and an expiry sweeper that removes empty, idle races.
type Store struct {
	mu     sync.RWMutex
	races  map[string]*Race
	log    zerolog.Logger
}

func NewStore(log zerolog.Logger) *Store {
	return &Store{races: make(map[string]*Race), log: log}
}

// NewRaceID returns a 6-hex-character random id (spec §3), derived from
// uuid randomness — the teacher's go.mod already required google/uuid but
// never imported it; this wires it.
func NewRaceID() string {
	return uuid.New().String()[:6]
}

// NewPlayerID returns a 16-hex-character random id (spec §3), used verbatim
// in WS replies and in the paths/{course}/{start}/{player_id}.bin object key
// — it must contain no dashes.
func NewPlayerID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// Create registers a new Lobby-state race with no players and returns it.
// The caller (the Engine) adds the creator as a player afterwards under the
// race's own lock; until then other goroutines can observe the race in the
// store with a creator id set and no members.
func (s *Store) Create(course Course, creatorID string) *Race {
	r := NewRace(NewRaceID(), course, creatorID)
	s.mu.Lock()
	s.races[r.ID] = r
	s.mu.Unlock()
	return r
}

func (s *Store) Get(id string) (*Race, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.races[id]
	return r, ok
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.races, id)
	s.mu.Unlock()
}

// ListLobby returns only races in Lobby state (spec §4.F).
func (s *Store) ListLobby() []*Race {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Race
	for _, r := range s.races {
		r.mu.RLock()
		state := r.State
		r.mu.RUnlock()
		if state == StateLobby {
			out = append(out, r)
		}
	}
	return out
}

// RunSweeper runs the expiry sweeper until ctx is cancelled: every
// RaceSweepInterval, a race with zero players and last_activity older
// than RaceEmptyTTL is removed (spec §4.F).
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(config.RaceSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()

	s.mu.Lock()
	var toDelete []string
	for id, r := range s.races {
		r.mu.RLock()
		empty := len(r.Players) == 0
		idle := now.Sub(r.LastActivity) >= config.RaceEmptyTTL
		r.mu.RUnlock()
		if empty && idle {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		delete(s.races, id)
	}
	s.mu.Unlock()

	if len(toDelete) > 0 {
		s.log.Debug().Int("count", len(toDelete)).Msg("race store: swept idle races")
	}
}
