package services

import (
	"sort"
	"sync"

	"github.com/yoockh/casescribe/internal/models"
)

// SessionRegistry tracks live streaming sessions.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*StreamSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: map[string]*StreamSession{}}
}

func (r *SessionRegistry) Add(s *StreamSession) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
}

func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot ordered by start time.
func (r *SessionRegistry) List() []models.SessionInfo {
	r.mu.RLock()
	out := make([]models.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CloseAll drains every session concurrently and empties the registry.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	all := make([]*StreamSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = map[string]*StreamSession{}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *StreamSession) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}
