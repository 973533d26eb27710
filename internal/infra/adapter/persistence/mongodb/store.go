// Package mongodb implements repository.DocumentStore on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/repository"
)

// MongoDB server error codes mapped onto the domain taxonomy.
const (
	codeBadValue             = 2
	codeFailedToParse        = 9
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
	codeNamespaceNotFound    = 26
)

// Store is a DocumentStore backed by a single MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ repository.DocumentStore = (*Store)(nil)

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}
	return New(client, database), nil
}

// New wraps an already connected client.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// EnsureIndexes creates the indexes the session queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "providerId", Value: 1}, {Key: "isActive", Value: 1}, {Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}, {Key: "isActive", Value: 1}}},
	}
	if _, err := s.db.Collection(repository.CollectionSessions).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("EnsureIndexes: %w", classify("ensure indexes", err))
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Create inserts doc with _id set to id.
func (s *Store) Create(ctx context.Context, collection, id string, doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("Create: marshal: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("Create: decode: %w", err)
	}
	m["_id"] = id

	if _, err := s.db.Collection(collection).InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &entity.ConflictError{Resource: collection, ID: id}
		}
		return fmt.Errorf("Create: %w", classify("create", err))
	}
	return nil
}

// Get decodes the document with the given _id into out.
func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &entity.NotFoundError{Resource: collection, ID: id}
		}
		return fmt.Errorf("Get: %w", classify("get", err))
	}
	return nil
}

// Update applies patch with $set and lets the server assign updatedAt.
func (s *Store) Update(ctx context.Context, collection, id string, patch map[string]any, out any) error {
	set := bson.M{}
	for k, v := range patch {
		if k == "_id" || k == "updatedAt" {
			continue
		}
		set[k] = v
	}
	update := bson.M{"$currentDate": bson.M{"updatedAt": true}}
	if len(set) > 0 {
		update["$set"] = set
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	res := s.db.Collection(collection).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &entity.NotFoundError{Resource: collection, ID: id}
		}
		return fmt.Errorf("Update: %w", classify("update", err))
	}
	if out == nil {
		return nil
	}
	if err := res.Decode(out); err != nil {
		return fmt.Errorf("Update: decode: %w", err)
	}
	return nil
}

// Delete removes the document with the given _id.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("Delete: %w", classify("delete", err))
	}
	if res.DeletedCount == 0 {
		return &entity.NotFoundError{Resource: collection, ID: id}
	}
	return nil
}

// List runs q against the collection and decodes all results into out.
func (s *Store) List(ctx context.Context, collection string, q repository.Query, out any) error {
	filter, err := buildFilter(q.Filters)
	if err != nil {
		return fmt.Errorf("List: %w", err)
	}
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.OrderDesc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("List: %w", classify("list", err))
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("List: %w", classify("list", err))
	}
	return nil
}

func buildFilter(filters []repository.Filter) (bson.D, error) {
	d := bson.D{}
	for _, f := range filters {
		switch f.Op {
		case repository.FilterEqual:
			d = append(d, bson.E{Key: f.Field, Value: f.Value})
		case repository.FilterLessThan:
			d = append(d, bson.E{Key: f.Field, Value: bson.M{"$lt": f.Value}})
		default:
			return nil, fmt.Errorf("unsupported filter op %q: %w", f.Op, entity.ErrBadQuery)
		}
	}
	return d, nil
}

// classify maps driver errors onto the domain error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case codeUnauthorized, codeAuthenticationFailed:
			return fmt.Errorf("%s: %w: %w", op, entity.ErrUnauthorized, err)
		case codeBadValue, codeFailedToParse, codeNamespaceNotFound:
			return fmt.Errorf("%s: %w: %w", op, entity.ErrBadQuery, err)
		}
	}

	var selErr topology.ServerSelectionError
	switch {
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return &entity.ConnectionError{Op: op, Reason: "timeout", Err: err}
	case mongo.IsNetworkError(err), errors.As(err, &selErr), errors.Is(err, mongo.ErrClientDisconnected):
		return &entity.ConnectionError{Op: op, Err: err}
	}
	return err
}
