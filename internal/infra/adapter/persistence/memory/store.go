// Package memory provides an in-process DocumentStore used for local
// development and tests. Documents are kept as BSON so they round-trip the
// same way they would through MongoDB.
package memory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/repository"
)

// ErrOffline is returned by every call while the store is marked offline.
var ErrOffline = errors.New("memory store offline")

// Store is a mutex-guarded map of collections to BSON documents.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]bson.Raw
	seq         map[string]uint64
	order       map[string]map[string]uint64
	now         func() time.Time
	offline     bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]bson.Raw),
		seq:         make(map[string]uint64),
		order:       make(map[string]map[string]uint64),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.DocumentStore = (*Store)(nil)

// SetOffline makes every subsequent call fail with a connection error until
// it is called again with false.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// Len returns the number of documents in a collection.
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

func (s *Store) checkOnline(op string) error {
	if s.offline {
		return &entity.ConnectionError{Op: op, Err: ErrOffline}
	}
	return nil
}

// Ping reports whether the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOnline("ping")
}

// Create inserts doc under id. The stored _id is always id.
func (s *Store) Create(ctx context.Context, collection, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := toMap(doc)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	m["_id"] = id
	raw, err := bson.Marshal(m)
	if err != nil {
		return fmt.Errorf("Create: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline("create"); err != nil {
		return err
	}
	coll := s.collection(collection)
	if _, exists := coll[id]; exists {
		return &entity.ConflictError{Resource: collection, ID: id}
	}
	coll[id] = raw
	s.seq[collection]++
	s.order[collection][id] = s.seq[collection]
	return nil
}

// Get decodes the document stored under id into out.
func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline("get"); err != nil {
		return err
	}
	raw, ok := s.collections[collection][id]
	if !ok {
		return &entity.NotFoundError{Resource: collection, ID: id}
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("Get: decode: %w", err)
	}
	return nil
}

// Update merges patch into the stored document and stamps updatedAt.
func (s *Store) Update(ctx context.Context, collection, id string, patch map[string]any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline("update"); err != nil {
		return err
	}
	raw, ok := s.collections[collection][id]
	if !ok {
		return &entity.NotFoundError{Resource: collection, ID: id}
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("Update: decode: %w", err)
	}
	for k, v := range patch {
		if k == "_id" {
			continue
		}
		m[k] = v
	}
	m["updatedAt"] = s.now().UTC()

	updated, err := bson.Marshal(m)
	if err != nil {
		return fmt.Errorf("Update: marshal: %w", err)
	}
	s.collections[collection][id] = updated

	if out == nil {
		return nil
	}
	if err := bson.Unmarshal(updated, out); err != nil {
		return fmt.Errorf("Update: decode: %w", err)
	}
	return nil
}

// Delete removes the document stored under id.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline("delete"); err != nil {
		return err
	}
	if _, ok := s.collections[collection][id]; !ok {
		return &entity.NotFoundError{Resource: collection, ID: id}
	}
	delete(s.collections[collection], id)
	delete(s.order[collection], id)
	return nil
}

// List decodes the documents matching q into out, a pointer to a slice.
// Querying a collection that was never written returns an empty result.
func (s *Store) List(ctx context.Context, collection string, q repository.Query, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if f.Op != repository.FilterEqual && f.Op != repository.FilterLessThan {
			return fmt.Errorf("List: unsupported filter op %q: %w", f.Op, entity.ErrBadQuery)
		}
	}

	s.mu.Lock()
	if err := s.checkOnline("list"); err != nil {
		s.mu.Unlock()
		return err
	}
	type row struct {
		doc bson.M
		seq uint64
	}
	var rows []row
	for id, raw := range s.collections[collection] {
		var m bson.M
		if err := bson.Unmarshal(raw, &m); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("List: decode: %w", err)
		}
		if matches(m, q.Filters) {
			rows = append(rows, row{doc: m, seq: s.order[collection][id]})
		}
	}
	s.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if q.OrderBy != "" {
			c, ok := compare(rows[i].doc[q.OrderBy], rows[j].doc[q.OrderBy])
			if ok && c != 0 {
				if q.OrderDesc {
					return c > 0
				}
				return c < 0
			}
		}
		return rows[i].seq < rows[j].seq
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	docs := make(bson.A, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.doc)
	}
	wrapped, err := bson.Marshal(bson.M{"items": docs})
	if err != nil {
		return fmt.Errorf("List: marshal: %w", err)
	}
	if err := bson.Raw(wrapped).Lookup("items").Unmarshal(out); err != nil {
		return fmt.Errorf("List: decode: %w", err)
	}
	return nil
}

func (s *Store) collection(name string) map[string]bson.Raw {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[string]bson.Raw)
		s.collections[name] = coll
		s.order[name] = make(map[string]uint64)
	}
	return coll
}

func toMap(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return m, nil
}

func matches(doc bson.M, filters []repository.Filter) bool {
	for _, f := range filters {
		c, ok := compare(doc[f.Field], f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case repository.FilterEqual:
			if c != 0 {
				return false
			}
		case repository.FilterLessThan:
			if c >= 0 {
				return false
			}
		}
	}
	return true
}

// compare orders two scalar BSON values. ok is false when the values are
// of incomparable kinds or either is missing.
func compare(a, b any) (int, bool) {
	ka, va := normalize(a)
	kb, vb := normalize(b)
	if ka == "" || ka != kb {
		return 0, false
	}
	switch ka {
	case "num", "time":
		x, y := va.(float64), vb.(float64)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case "str":
		x, y := va.(string), vb.(string)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case "bool":
		x, y := va.(bool), vb.(bool)
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func normalize(v any) (string, any) {
	switch x := v.(type) {
	case time.Time:
		return "time", float64(x.UnixMilli())
	case primitive.DateTime:
		return "time", float64(int64(x))
	case int:
		return "num", float64(x)
	case int32:
		return "num", float64(x)
	case int64:
		return "num", float64(x)
	case float64:
		return "num", x
	case string:
		return "str", x
	case bool:
		return "bool", x
	}
	// Named string types such as entity.BookingStatus.
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return "str", rv.String()
	}
	return "", nil
}
