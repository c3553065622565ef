// Package store gives the pipeline engine read access to the four collections and
// the seeder a way to fill them.
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/models"
)

// Collection names.
const (
	People      = "people"
	Departments = "departments"
	Fees        = "fees"
	Grades      = "grades"
)

// Collections lists every collection the store serves.
var Collections = []string{People, Departments, Fees, Grades}

// Entity is anything that can be stored as an engine document.
type Entity interface {
	Document() engine.Document
}

// Store is the document store adapter: a pipeline source plus the point lookups and
// writes the service and seeder need.
type Store interface {
	engine.Source
	FindPersonByUserName(ctx context.Context, userName string) (*models.Person, error)
	Insert(ctx context.Context, collection string, entities ...Entity) ([]primitive.ObjectID, error)
	Ping(ctx context.Context) error
}

func known(collection string) bool {
	for _, c := range Collections {
		if c == collection {
			return true
		}
	}
	return false
}

// withID returns doc with a fresh ObjectID when _id is absent, null or zero. Other
// identifier types are kept as they are.
func withID(doc engine.Document) (engine.Document, primitive.ObjectID) {
	v, ok := doc.Get("_id")
	switch id := v.(type) {
	case primitive.ObjectID:
		if !id.IsZero() {
			return doc, id
		}
	case nil:
	default:
		return doc, primitive.NilObjectID
	}
	id := primitive.NewObjectID()
	if ok {
		return doc.Set("_id", id), id
	}
	return append(engine.Doc("_id", id), doc...), id
}
