package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nlesc/mdstudio/pkg/canonicalize"
)

// MemoryStore is an in-process Store, safe for concurrent use. It serializes
// upserts per key with a per-key mutex rather than a single global lock, so
// unrelated keys never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	keyLocks map[string]*sync.Mutex
	versions map[string][]*Document

	now func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keyLocks: make(map[string]*sync.Mutex),
		versions: make(map[string][]*Document),
		now:      time.Now,
	}
}

func (s *MemoryStore) lockFor(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	l, ok := s.keyLocks[k]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[k] = l
	}
	return l
}

func (s *MemoryStore) Upsert(ctx context.Context, key Key, body json.RawMessage, uploadedBy string) (*Document, error) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	canonical, err := canonicalize.JCS(body)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	existing := s.versions[key.String()]
	s.mu.RUnlock()

	if len(existing) > 0 {
		latest := existing[len(existing)-1]
		latestCanonical, err := canonicalize.JCS(latest.Body)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(canonical, latestCanonical) {
			return latest, nil
		}
	}

	doc := &Document{
		Key:        key,
		Version:    len(existing) + 1,
		Body:       append([]byte(nil), body...),
		UploadedBy: uploadedBy,
		UploadedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.versions[key.String()] = append(s.versions[key.String()], doc)
	s.mu.Unlock()

	return doc, nil
}

func (s *MemoryStore) FindLatest(ctx context.Context, key Key, maxVersion int) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.versions[key.String()]
	for i := len(docs) - 1; i >= 0; i-- {
		if maxVersion == 0 || docs[i].Version <= maxVersion {
			return docs[i], nil
		}
	}
	return nil, &ErrNotFound{Key: key}
}
