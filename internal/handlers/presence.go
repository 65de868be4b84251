package handlers

import (
	"context"
	"slices"
	"sync"

	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/redis"
)

var (
	_ PresenceStore = (*redis.Presence)(nil)
	_ PresenceStore = (*memoryPresence)(nil)
)

// memoryPresence is the PresenceStore used when Redis is not configured.
type memoryPresence struct {
	mu    sync.RWMutex
	peers map[models.PeerID]models.PeerPresence
}

func newMemoryPresence() *memoryPresence {
	return &memoryPresence{peers: make(map[models.PeerID]models.PeerPresence)}
}

func (m *memoryPresence) Join(_ context.Context, rec models.PeerPresence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[rec.ID] = rec
	return nil
}

func (m *memoryPresence) Leave(_ context.Context, id models.PeerID, connID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.peers[id]; ok && rec.ConnID == connID {
		delete(m.peers, id)
		return true, nil
	}
	return false, nil
}

func (m *memoryPresence) Lookup(_ context.Context, id models.PeerID) (*models.PeerPresence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.peers[id]
	if !ok {
		return nil, models.ErrPeerNotFound
	}
	return &rec, nil
}

func (m *memoryPresence) Online(_ context.Context) ([]models.PeerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]models.PeerID, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// keyedMutex hands out one lock per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
