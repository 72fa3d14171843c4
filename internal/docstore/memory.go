package docstore

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in a map. Transactions hold the store lock for
// their whole callback, so they never conflict.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string, dst any) error {
	s.mu.Lock()
	body, ok := s.docs[docKey(collection, id)]
	s.mu.Unlock()
	if !ok {
		return notFound(collection, id)
	}
	return decodeDoc(body, dst)
}

func (s *MemoryStore) Set(_ context.Context, collection, id string, doc any, opts ...SetOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(s.docs, collection, id, doc, collectOptions(opts))
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	delete(s.docs, docKey(collection, id))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) setLocked(docs map[string][]byte, collection, id string, doc any, o setOptions) error {
	k := docKey(collection, id)
	existing, found := docs[k]
	body, err := encodeDoc(existing, found, doc, o)
	if err != nil {
		return err
	}
	docs[k] = body
	return nil
}

func (s *MemoryStore) RunTransaction(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string][]byte), deleted: make(map[string]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.deleted {
		delete(s.docs, k)
	}
	for k, body := range tx.staged {
		s.docs[k] = body
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// memoryTx stages writes until the callback returns
type memoryTx struct {
	store   *MemoryStore
	staged  map[string][]byte
	deleted map[string]bool
}

func (t *memoryTx) lookup(k string) ([]byte, bool) {
	if t.deleted[k] {
		return nil, false
	}
	if body, ok := t.staged[k]; ok {
		return body, true
	}
	body, ok := t.store.docs[k]
	return body, ok
}

func (t *memoryTx) Get(_ context.Context, collection, id string, dst any) error {
	body, ok := t.lookup(docKey(collection, id))
	if !ok {
		return notFound(collection, id)
	}
	return decodeDoc(body, dst)
}

func (t *memoryTx) Set(_ context.Context, collection, id string, doc any, opts ...SetOption) error {
	k := docKey(collection, id)
	existing, found := t.lookup(k)
	body, err := encodeDoc(existing, found, doc, collectOptions(opts))
	if err != nil {
		return err
	}
	delete(t.deleted, k)
	t.staged[k] = body
	return nil
}

func (t *memoryTx) Delete(_ context.Context, collection, id string) error {
	k := docKey(collection, id)
	delete(t.staged, k)
	t.deleted[k] = true
	return nil
}
