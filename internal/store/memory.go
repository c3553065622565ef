package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/pkg/apperror"
)

// Raw stores an engine document as is.
type Raw engine.Document

func (r Raw) Document() engine.Document { return engine.Document(r) }

// MemoryStore is an in-memory store used for development and unit tests.
// Collections are streamed in ascending _id order.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]engine.Document
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{data: make(map[string][]engine.Document)}
	for _, c := range Collections {
		m.data[c] = nil
	}
	return m
}

func (m *MemoryStore) Insert(_ context.Context, collection string, entities ...Entity) ([]primitive.ObjectID, error) {
	if !known(collection) {
		return nil, apperror.Unavailable(collection, fmt.Errorf("unknown collection"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]primitive.ObjectID, 0, len(entities))
	docs := append([]engine.Document(nil), m.data[collection]...)
	for _, e := range entities {
		doc, id := withID(e.Document())
		ids = append(ids, id)
		docs = upsert(docs, doc)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, _ := docs[i].Get("_id")
		b, _ := docs[j].Get("_id")
		return engine.Compare(a, b) < 0
	})
	m.data[collection] = docs
	return ids, nil
}

// upsert replaces the document with the same _id or appends doc.
func upsert(docs []engine.Document, doc engine.Document) []engine.Document {
	id, _ := doc.Get("_id")
	for i, d := range docs {
		if other, _ := d.Get("_id"); engine.Compare(id, other) == 0 {
			docs[i] = doc
			return docs
		}
	}
	return append(docs, doc)
}

func (m *MemoryStore) Open(ctx context.Context, collection string) (engine.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, ok := m.data[collection]
	if !ok {
		return nil, apperror.Unavailable(collection, fmt.Errorf("unknown collection"))
	}
	return engine.SliceIterator(docs), nil
}

// Snapshot pins the current contents. Insert never mutates a published slice, so the
// snapshot shares the documents without copying them.
func (m *MemoryStore) Snapshot(context.Context) (engine.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := &MemoryStore{data: make(map[string][]engine.Document, len(m.data))}
	for k, v := range m.data {
		snap.data[k] = v
	}
	return snap, nil
}

func (m *MemoryStore) FindPersonByUserName(_ context.Context, userName string) (*models.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.data[People] {
		if v, _ := d.Get("userName"); v == userName {
			return personFromDocument(d), nil
		}
	}
	return nil, apperror.NotFound("person", userName)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of documents in a collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[collection])
}

func personFromDocument(d engine.Document) *models.Person {
	str := func(k string) string {
		v, _ := d.Get(k)
		s, _ := v.(string)
		return s
	}
	p := &models.Person{
		FirstName:   str("firstName"),
		LastName:    str("lastName"),
		UserName:    str("userName"),
		Email:       str("email"),
		PhoneNumber: str("phoneNumber"),
		Address:     str("address"),
		Gender:      str("gender"),
		Role:        models.Role(str("role")),
	}
	if v, ok := d.Get("_id"); ok {
		p.ID, _ = v.(primitive.ObjectID)
	}
	return p
}
