package position

import (
	"sort"
	"sync"

	"atm_algo/internal/models"
)

// Store owns every Position seen by this process plus the symbol -> open side
// index the guard reads.
type Store struct {
	mu        sync.Mutex
	positions map[string]*models.Position
	index     map[string]models.Side
}

func NewStore() *Store {
	return &Store{
		positions: make(map[string]*models.Position),
		index:     make(map[string]models.Side),
	}
}

// Add stores a copy of p. Adding an OPEN position for a symbol that already
// has one is refused.
func (s *Store) Add(p models.Position) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.IsOpen() {
		if _, busy := s.index[p.Symbol]; busy {
			return false
		}
		s.index[p.Symbol] = p.Side
	}
	cp := p
	s.positions[p.ID] = &cp
	return true
}

// OpenSide returns the side of the open position for symbol, if any.
func (s *Store) OpenSide(symbol string) (models.Side, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.index[symbol]
	return side, ok
}

// Open returns copies of every OPEN position ordered by open time.
func (s *Store) Open() []models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Position, 0, len(s.index))
	for _, p := range s.positions {
		if p.IsOpen() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

func (s *Store) Get(id string) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// close applies fn to the stored OPEN position and clears its index entry.
// It returns false when the position is unknown or already closed.
func (s *Store) close(id string, fn func(p *models.Position)) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || !p.IsOpen() {
		return models.Position{}, false
	}
	fn(p)
	p.Status = models.StatusClosed
	if side, ok := s.index[p.Symbol]; ok && side == p.Side {
		delete(s.index, p.Symbol)
	}
	return *p, true
}

func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}
