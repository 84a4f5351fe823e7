package cache

import "sync"

// Shared is the scene-owned slot holding the current LightCache. The original scene and every
// evaluated copy attached to it see the same slot, so re-evaluating the scene during a bake
// keeps the cache being baked.
//
// Replace and writes into the cache contents must happen while the host holds the
// render-manager lock that also serializes interactive drawing. Shared only protects the
// pointer itself.
type Shared struct {
	mu       sync.RWMutex
	cache    *LightCache
	attached int
}

func NewShared() *Shared {
	return &Shared{}
}

// Load returns the current cache, or nil.
func (s *Shared) Load() *LightCache {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// Replace installs lc and returns the previous cache, which the caller must Destroy.
func (s *Shared) Replace(lc *LightCache) *LightCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cache
	s.cache = lc
	return old
}

// Attach registers an evaluated copy on the slot and returns the slot to store on it.
func (s *Shared) Attach() *Shared {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.attached++
	s.mu.Unlock()
	return s
}

// Detach releases an Attach. The cache stays owned by the original scene.
func (s *Shared) Detach() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.attached > 0 {
		s.attached--
	}
	s.mu.Unlock()
}

// Attached is the number of evaluated copies currently sharing the slot.
func (s *Shared) Attached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attached
}
