// Package odm is the document backend: links become aggregation stages on
// MongoDB collections and collections are paginated with a $facet stage.
package odm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/state"
)

// IDField is the primary key field of every document.
const IDField = "_id"

// ErrNoManager is returned for classes without a collection
var ErrNoManager = errors.New("no document manager for class")

// Store runs aggregation pipelines and writes documents
type Store interface {
	Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error)
	Upsert(ctx context.Context, collection string, id any, doc bson.M) (any, error)
	Delete(ctx context.Context, collection string, id any) (int64, error)
}

// Connect opens a client and checks the deployment
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client.Database(database), nil
}

// DatabaseStore is the Store backed by a mongo database
type DatabaseStore struct {
	db *mongo.Database
}

// NewDatabaseStore creates a store
func NewDatabaseStore(db *mongo.Database) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Aggregate implements Store
func (s *DatabaseStore) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	cur, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", collection, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return docs, nil
}

// Upsert implements Store. A nil id inserts and returns the generated id.
func (s *DatabaseStore) Upsert(ctx context.Context, collection string, id any, doc bson.M) (any, error) {
	coll := s.db.Collection(collection)
	if id == nil {
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("insert into %s: %w", collection, err)
		}
		return res.InsertedID, nil
	}
	_, err := coll.ReplaceOne(ctx, bson.M{IDField: id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("replace in %s: %w", collection, err)
	}
	return id, nil
}

// Delete implements Store
func (s *DatabaseStore) Delete(ctx context.Context, collection string, id any) (int64, error) {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{IDField: id})
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// Manager maps resources to collections
type Manager struct {
	store    Store
	registry state.ResourceRegistry
	logger   *zap.Logger
}

// NewManager creates a manager
func NewManager(store Store, registry state.ResourceRegistry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, registry: registry, logger: logger}
}

// Store returns the underlying store
func (m *Manager) Store() Store { return m.store }

// Registry returns the resource metadata
func (m *Manager) Registry() state.ResourceRegistry { return m.registry }

// Resource returns the metadata of a class handled by this manager
func (m *Manager) Resource(class string) (*metadata.Resource, error) {
	res, ok := m.registry.Resource(class)
	if !ok {
		return nil, &state.RuntimeError{Message: fmt.Sprintf("No manager for class %q.", class), Err: ErrNoManager}
	}
	return res, nil
}

// Aggregate runs a pipeline on the class collection
func (m *Manager) Aggregate(ctx context.Context, res *metadata.Resource, pipeline mongo.Pipeline) ([]bson.M, error) {
	m.logger.Debug("aggregate", zap.String("collection", res.CollectionName()), zap.Int("stages", len(pipeline)))
	return m.store.Aggregate(ctx, res.CollectionName(), pipeline)
}

// Persist saves the record document and refreshes its identifier
func (m *Manager) Persist(ctx context.Context, rec *model.Record) error {
	res, err := m.Resource(rec.ResourceClass())
	if err != nil {
		return err
	}
	pk := primaryKey(res)

	var id any
	if rec.Exists() {
		id = documentID(rec.Get(pk))
	}
	doc := bson.M{}
	names := make([]string, 0)
	for name := range rec.Attributes() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == pk {
			continue
		}
		doc[fieldName(res, name)] = rec.Get(name)
	}

	stored, err := m.store.Upsert(ctx, res.CollectionName(), id, doc)
	if err != nil {
		return err
	}
	rec.Set(pk, fromDocumentValue(stored))
	rec.SetExists(true)
	rec.SyncOriginal()
	return nil
}

// Remove deletes the record document
func (m *Manager) Remove(ctx context.Context, rec *model.Record) error {
	res, err := m.Resource(rec.ResourceClass())
	if err != nil {
		return err
	}
	n, err := m.store.Delete(ctx, res.CollectionName(), documentID(rec.Get(primaryKey(res))))
	if err != nil {
		return err
	}
	if n == 0 {
		return state.NotFound("Not Found")
	}
	return nil
}

// Hydrate builds a stored record from a document
func Hydrate(res *metadata.Resource, doc bson.M) *model.Record {
	byField := make(map[string]string, len(res.Fields))
	for name := range res.Fields {
		byField[fieldName(res, name)] = name
	}
	attrs := make(map[string]any, len(doc))
	for k, v := range doc {
		name, ok := byField[k]
		switch {
		case ok:
		case k == IDField:
			name = primaryKey(res)
		default:
			name = k
		}
		attrs[name] = fromDocumentValue(v)
	}
	return model.Hydrate(res.Class, attrs)
}

// fieldName maps a property to its document field, the primary key being _id
func fieldName(res *metadata.Resource, property string) string {
	if property == primaryKey(res) || property == "id" {
		return IDField
	}
	return res.Column(property)
}

func primaryKey(res *metadata.Resource) string {
	if len(res.Identifiers) == 0 {
		return "id"
	}
	return res.Identifiers[0]
}

// documentID turns hex strings into object ids
func documentID(v any) any {
	if s, ok := v.(string); ok {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}
	return v
}

func fromDocumentValue(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case bson.M:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = fromDocumentValue(item)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromDocumentValue(item)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	}
	return v
}
