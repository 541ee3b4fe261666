package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/route-watch/internal/models"
)

type MemoryLedger struct {
	mu    sync.RWMutex
	rides map[string]models.NotifiedRide
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{rides: make(map[string]models.NotifiedRide)}
}

func (m *MemoryLedger) Has(_ context.Context, rideID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rides[rideID]
	return ok, nil
}

func (m *MemoryLedger) Record(_ context.Context, ride models.NotifiedRide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[ride.RideID]; ok {
		return conflict(ride.RideID)
	}
	m.rides[ride.RideID] = ride
	return nil
}

func (m *MemoryLedger) Recent(_ context.Context, limit int) ([]models.NotifiedRide, error) {
	m.mu.RLock()
	out := make([]models.NotifiedRide, 0, len(m.rides))
	for _, r := range m.rides {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].NotifiedAt.Equal(out[j].NotifiedAt) {
			return out[i].RideID < out[j].RideID
		}
		return out[i].NotifiedAt.After(out[j].NotifiedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) Ping(context.Context) error { return nil }

func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

// MemorySearchStore serves searches seeded at startup.
type MemorySearchStore struct {
	mu       sync.RWMutex
	searches []models.SavedSearch
	nextID   int64
}

func NewMemorySearchStore(searches ...models.SavedSearch) *MemorySearchStore {
	s := &MemorySearchStore{}
	for _, ss := range searches {
		s.Add(ss)
	}
	return s
}

// Add stores a search, assigning an ID when it has none.
func (s *MemorySearchStore) Add(search models.SavedSearch) models.SavedSearch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if search.ID == 0 {
		s.nextID++
		search.ID = s.nextID
	} else if search.ID > s.nextID {
		s.nextID = search.ID
	}
	s.searches = append(s.searches, search)
	return search
}

func (s *MemorySearchStore) List(context.Context) ([]models.SavedSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SavedSearch(nil), s.searches...), nil
}

func (s *MemorySearchStore) ListByOwner(_ context.Context, ownerID string) ([]models.SavedSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SavedSearch
	for _, ss := range s.searches {
		if ss.OwnerID == ownerID {
			out = append(out, ss)
		}
	}
	return out, nil
}
