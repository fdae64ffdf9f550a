package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sertao-labs/sentinela/internal/roi"
)

// Session holds one dashboard client's state: the loaded area and the
// current result. Loading a new area replaces the whole state; a failed
// run leaves the previous result on screen.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	service  *Service
	area     *roi.ROI
	result   *Result
	lastUsed time.Time
}

// NewSession creates an empty session running analyses through service.
func NewSession(service *Service) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		service:   service,
		lastUsed:  now,
	}
}

// Run executes and records an analysis and, only on success, installs the
// new result. The run ID identifies the persisted record either way.
func (s *Session) Run(ctx context.Context, req Request) (string, *Result, error) {
	runID, result, err := s.service.Execute(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now().UTC()
	if err != nil {
		return runID, nil, err
	}
	s.result = result
	return runID, result, nil
}

// SetArea installs a newly loaded region and clears the previous result:
// a result computed over the old area must not survive the swap.
func (s *Session) SetArea(region *roi.ROI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now().UTC()
	s.area = region
	s.result = nil
}

// Area returns the session's loaded region, if any.
func (s *Session) Area() (*roi.ROI, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now().UTC()
	return s.area, s.area != nil
}

// Result returns the session's current result, if any.
func (s *Session) Result() (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now().UTC()
	return s.result, s.result != nil
}

// Manager tracks live sessions and evicts idle ones.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	service  *Service
	idleTTL  time.Duration
}

// NewManager creates a session manager. idleTTL <= 0 means sessions never
// expire.
func NewManager(service *Service, idleTTL time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		service:  service,
		idleTTL:  idleTTL,
	}
}

// Create starts a new session.
func (m *Manager) Create() *Session {
	s := NewSession(m.service)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, eris.Errorf("analysis: unknown session %q", id)
	}
	return s, nil
}

// Sweep drops sessions idle longer than the TTL and reports how many were
// evicted.
func (m *Manager) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}
