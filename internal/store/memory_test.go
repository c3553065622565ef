package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/pkg/apperror"
)

func TestMemoryStoreInsertAndStream(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	late := primitive.NewObjectID()
	early := primitive.NewObjectIDFromTimestamp(time.Now().Add(-time.Hour))
	_, err := s.Insert(ctx, People,
		models.Person{ID: late, UserName: "late", Role: models.RoleStudent},
		models.Person{ID: early, UserName: "early", Role: models.RoleTeacher},
	)
	require.NoError(t, err)

	ids, err := s.Insert(ctx, People, models.Person{UserName: "fresh", Role: models.RoleStudent})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.False(t, ids[0].IsZero(), "missing identifiers are generated")

	it, err := s.Open(ctx, People)
	require.NoError(t, err)
	docs, err := engine.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	first, _ := docs[0].Get("userName")
	require.Equal(t, "early", first, "streamed in ascending _id order")
}

func TestMemoryStoreUpsertsByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := primitive.NewObjectID()
	_, err := s.Insert(ctx, Departments, models.Department{ID: id, DepartmentName: "CS"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, Departments, models.Department{ID: id, DepartmentName: "Computer Science"})
	require.NoError(t, err)
	require.Equal(t, 1, s.Len(Departments))
}

func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Insert(ctx, Fees, Raw(engine.Doc("amount", 100)))
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	_, err = s.Insert(ctx, Fees, Raw(engine.Doc("amount", 200)))
	require.NoError(t, err)

	it, err := snap.Open(ctx, Fees)
	require.NoError(t, err)
	docs, err := engine.Collect(ctx, it)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, 2, s.Len(Fees))
}

func TestMemoryStoreFindPersonByUserName(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids, err := s.Insert(ctx, People, models.Person{FirstName: "Ada", UserName: "ada", Role: models.RoleTeacher})
	require.NoError(t, err)

	p, err := s.FindPersonByUserName(ctx, "ada")
	require.NoError(t, err)
	require.Equal(t, ids[0], p.ID)
	require.Equal(t, "Ada", p.FirstName)
	require.Equal(t, models.RoleTeacher, p.Role)

	_, err = s.FindPersonByUserName(ctx, "nobody")
	require.True(t, apperror.Is(err, apperror.ReferenceNotFound))
}

func TestMemoryStoreUnknownCollection(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Open(context.Background(), "invoices")
	require.True(t, apperror.Is(err, apperror.StoreUnavailable))
	_, err = s.Insert(context.Background(), "invoices", Raw(engine.Doc("x", 1)))
	require.True(t, apperror.Is(err, apperror.StoreUnavailable))
}
