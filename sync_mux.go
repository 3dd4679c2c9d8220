package bgsync

import "sync"

// SyncMiddleware wraps a SyncHandler to provide cross-cutting concerns.
type SyncMiddleware func(SyncHandler) SyncHandler

// SyncMux routes sync events to handlers based on their tag.
type SyncMux struct {
	mu          sync.RWMutex
	handlers    map[string]SyncHandler
	middlewares []SyncMiddleware
}

// NewSyncMux creates a new SyncMux.
func NewSyncMux() *SyncMux {
	return &SyncMux{
		handlers:    make(map[string]SyncHandler),
		middlewares: []SyncMiddleware{},
	}
}

// Handle registers a handler for a tag. A later call for the same tag replaces it.
func (m *SyncMux) Handle(tag string, h SyncHandler) {
	m.mu.Lock()
	m.handlers[tag] = h
	m.mu.Unlock()
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *SyncMux) Use(mw SyncMiddleware) {
	m.mu.Lock()
	m.middlewares = append(m.middlewares, mw)
	m.mu.Unlock()
}

// lookup returns the handler for tag wrapped in the middlewares.
func (m *SyncMux) lookup(tag string) (SyncHandler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[tag]
	if !ok {
		return nil, false
	}
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		h = m.middlewares[i](h)
	}
	return h, true
}
