package recipes

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/internal/store"
)

// campus is a small fixture:
//
//	CS    teachers tina        students alice, bob, carol  subjects OS (tina), DBMS (tom)
//	EE    teachers tom         students dave               subjects CN (tom)
//	ME    teachers tom         students erin               subjects SE (tom)
//	CS101 teachers (none)      students (none)
//
// alice and erin have fee records; frank is a student without a department who paid.
type campus struct {
	store  *store.MemoryStore
	people map[string]primitive.ObjectID
	depts  map[string]primitive.ObjectID
}

func newCampus(t *testing.T) *campus {
	t.Helper()
	ctx := context.Background()
	c := &campus{store: store.NewMemoryStore(), people: map[string]primitive.ObjectID{}, depts: map[string]primitive.ObjectID{}}

	person := func(user, first, last, address string, role models.Role) {
		id := primitive.NewObjectID()
		c.people[user] = id
		_, err := c.store.Insert(ctx, store.People, models.Person{
			ID: id, UserName: user, FirstName: first, LastName: last,
			Email: user + "@campus.test", PhoneNumber: "9000000000", Address: address, Role: role,
		})
		require.NoError(t, err)
	}
	person("tina", "Tina", "Turing", "North Hall", models.RoleTeacher)
	person("tom", "Tom", "Thompson", "South Hall", models.RoleTeacher)
	person("alice", "Alice", "Archer", "Elm Street", models.RoleStudent)
	person("bob", "Bob", "Baker", "Oak Street", models.RoleStudent)
	person("carol", "Carol", "Cook", "Elm Street", models.RoleStudent)
	person("dave", "Dave", "Dent", "Pine Street", models.RoleStudent)
	person("erin", "Erin", "East", "Birch Street", models.RoleStudent)
	person("frank", "Frank", "Fisher", "Ash Street", models.RoleStudent)
	person("pam", "Pam", "Principal", "Main Office", models.RolePrincipal)

	dept := func(name string, teachers []string, students []string, subjects map[string]string) {
		id := primitive.NewObjectID()
		c.depts[name] = id
		d := models.Department{ID: id, DepartmentName: name}
		for _, u := range teachers {
			d.Teachers = append(d.Teachers, c.people[u])
		}
		for i, u := range students {
			d.Students = append(d.Students, models.StudentRef{StudentID: c.people[u], StudentUniqueNo: name + "-" + string(rune('1'+i))})
		}
		for _, sub := range sortedKeys(subjects) {
			d.Subjects = append(d.Subjects, models.SubjectRef{Name: sub, TeacherID: c.people[subjects[sub]]})
		}
		_, err := c.store.Insert(ctx, store.Departments, d)
		require.NoError(t, err)
	}
	dept("CS", []string{"tina"}, []string{"alice", "bob", "carol"}, map[string]string{"Operating Systems": "tina", "Database Management Systems": "tom"})
	dept("EE", []string{"tom"}, []string{"dave"}, map[string]string{"Computer Networks": "tom"})
	dept("ME", []string{"tom"}, []string{"erin"}, map[string]string{"Software Engineering": "tom"})
	dept("CS101", nil, nil, nil)

	_, err := c.store.Insert(ctx, store.Fees,
		models.FeeRecord{StudentID: c.people["alice"], Amount: 20000, Penalty: 500, Status: models.PaymentPaid},
		models.FeeRecord{StudentID: c.people["erin"], Amount: 18000, Status: models.PaymentPaid},
		models.FeeRecord{StudentID: c.people["frank"], Amount: 15000, Status: models.PaymentPaid},
	)
	require.NoError(t, err)
	return c
}

func (c *campus) grades(t *testing.T, records ...models.GradeRecord) {
	t.Helper()
	entities := make([]store.Entity, len(records))
	for i, r := range records {
		entities[i] = r
	}
	_, err := c.store.Insert(context.Background(), store.Grades, entities...)
	require.NoError(t, err)
}

func grade(dept, student string, obtained, total float64, status models.GradeStatus) models.GradeRecord {
	return models.GradeRecord{
		StudentID: primitive.NewObjectID(), StudentName: student, DepartmentName: dept,
		ObtainedMarks: obtained, TotalMarks: total, Grade: "A", Status: status,
	}
}

func (c *campus) run(t *testing.T, p engine.Pipeline) *engine.Result {
	t.Helper()
	res, err := engine.NewExecutor(c.store).Run(context.Background(), p)
	require.NoError(t, err)
	return res
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func field(t *testing.T, d engine.Document, path string) any {
	t.Helper()
	v, ok := d.Lookup(path)
	require.True(t, ok, "field %s missing in %v", path, d.Keys())
	return v
}

func page() Page { return Page{Number: 1, Limit: 10, Sort: 1} }
