package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/pkg/apperror"
	"github.com/campusdesk/analytics/pkg/logger"
)

// MongoStore streams collections from MongoDB with cursors sorted by _id. Reads use
// majority read concern so one pipeline run never observes uncommitted writes.
type MongoStore struct {
	db        *mongo.Database
	batchSize int32
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db, batchSize: 500}
}

// EnsureIndexes creates the lookup indexes the recipes rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		People: {{Keys: bson.D{{Key: "userName", Value: 1}}, Options: options.Index().SetUnique(true)}},
		Departments: {
			{Keys: bson.D{{Key: "departmentName", Value: 1}}},
			{Keys: bson.D{{Key: "students.studentId", Value: 1}}},
		},
		Fees:   {{Keys: bson.D{{Key: "studentId", Value: 1}}}},
		Grades: {{Keys: bson.D{{Key: "status", Value: 1}, {Key: "percentage", Value: -1}}}},
	}
	for collection, idx := range indexes {
		if _, err := s.collection(collection).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", collection, err)
		}
	}
	return nil
}

func (s *MongoStore) collection(name string) *mongo.Collection {
	return s.db.Collection(name, options.Collection().SetReadConcern(readconcern.Majority()))
}

func (s *MongoStore) Open(ctx context.Context, collection string) (engine.Iterator, error) {
	if !known(collection) {
		return nil, apperror.Unavailable(collection, fmt.Errorf("unknown collection"))
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetBatchSize(s.batchSize)
	cur, err := s.collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, apperror.Unavailable(collection, err)
	}
	return &cursorIter{cur: cur, collection: collection}, nil
}

type cursorIter struct {
	cur        *mongo.Cursor
	collection string
}

func (it *cursorIter) Next(ctx context.Context) (engine.Document, bool, error) {
	if !it.cur.Next(ctx) {
		if err := it.cur.Err(); err != nil {
			return nil, false, apperror.Unavailable(it.collection, err)
		}
		return nil, false, nil
	}
	var raw bson.D
	if err := it.cur.Decode(&raw); err != nil {
		return nil, false, apperror.Unavailable(it.collection, err)
	}
	return engine.FromBSON(raw), true, nil
}

func (it *cursorIter) Close() error {
	return it.cur.Close(context.Background())
}

func (s *MongoStore) FindPersonByUserName(ctx context.Context, userName string) (*models.Person, error) {
	var p models.Person
	err := s.collection(People).FindOne(ctx, bson.M{"userName": userName}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("person", userName)
		}
		return nil, apperror.Unavailable(People, err)
	}
	return &p, nil
}

func (s *MongoStore) Insert(ctx context.Context, collection string, entities ...Entity) ([]primitive.ObjectID, error) {
	if !known(collection) {
		return nil, apperror.Unavailable(collection, fmt.Errorf("unknown collection"))
	}
	if len(entities) == 0 {
		return nil, nil
	}
	docs := make([]interface{}, len(entities))
	ids := make([]primitive.ObjectID, len(entities))
	for i, e := range entities {
		doc, id := withID(e.Document())
		docs[i] = bson.D(doc)
		ids[i] = id
	}
	if _, err := s.collection(collection).InsertMany(ctx, docs); err != nil {
		return nil, apperror.Unavailable(collection, err)
	}
	logger.Debugf("inserted %d documents into %s", len(docs), collection)
	return ids, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return apperror.Unavailable("*", err)
	}
	return nil
}
