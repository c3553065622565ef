package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/internal/store"
)

// Fixture is the seed file layout. People are referenced by user name everywhere
// else so the file carries no database identifiers.
type Fixture struct {
	People      []models.Person `json:"people"`
	Departments []struct {
		DepartmentName string   `json:"departmentName"`
		Teachers       []string `json:"teachers"`
		Students       []struct {
			UserName string `json:"userName"`
			UniqueNo string `json:"uniqueNo"`
		} `json:"students"`
		Subjects []struct {
			Name    string `json:"name"`
			Teacher string `json:"teacher"`
		} `json:"subjects"`
	} `json:"departments"`
	Fees []struct {
		Student     string               `json:"student"`
		Amount      float64              `json:"amount"`
		Penalty     *float64             `json:"penalty"`
		PaymentMode string               `json:"paymentMode"`
		Status      models.PaymentStatus `json:"status"`
		EndDate     time.Time            `json:"endDate"`
	} `json:"fees"`
	Grades []struct {
		Student        string             `json:"student"`
		DepartmentName string             `json:"departmentName"`
		TotalMarks     float64            `json:"totalMarks"`
		ObtainedMarks  float64            `json:"obtainedMarks"`
		Grade          string             `json:"grade"`
		Rank           string             `json:"rank"`
		Status         models.GradeStatus `json:"status"`
	} `json:"grades"`
}

func decodeFixture(r io.Reader) (*Fixture, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &fx, nil
}

// Counts reports how many documents were written per collection.
type Counts map[string]int

// load validates the whole fixture first and writes nothing when any record is
// invalid. Fees without a penalty get the late fee owed at now; grade percentages
// are always recomputed from the marks.
func load(ctx context.Context, st store.Store, fx *Fixture, now time.Time) (Counts, error) {
	ids := make(map[string]primitive.ObjectID, len(fx.People))
	roles := make(map[string]models.Role, len(fx.People))
	people := make([]store.Entity, 0, len(fx.People))
	for i, p := range fx.People {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("people[%d] %q: %w", i, p.UserName, err)
		}
		if _, dup := ids[p.UserName]; dup {
			return nil, fmt.Errorf("people[%d]: duplicate userName %q", i, p.UserName)
		}
		if p.ID.IsZero() {
			p.ID = primitive.NewObjectID()
		}
		ids[p.UserName] = p.ID
		roles[p.UserName] = p.Role
		people = append(people, p)
	}
	ref := func(where, user string, role models.Role) (primitive.ObjectID, error) {
		id, ok := ids[user]
		if !ok {
			return primitive.NilObjectID, fmt.Errorf("%s: unknown person %q", where, user)
		}
		if roles[user] != role {
			return primitive.NilObjectID, fmt.Errorf("%s: %q is a %s, not a %s", where, user, roles[user], role)
		}
		return id, nil
	}

	departments := make([]store.Entity, 0, len(fx.Departments))
	for i, d := range fx.Departments {
		where := fmt.Sprintf("departments[%d] %q", i, d.DepartmentName)
		dep := models.Department{DepartmentName: d.DepartmentName, Teachers: []primitive.ObjectID{}, Students: []models.StudentRef{}, Subjects: []models.SubjectRef{}}
		for _, t := range d.Teachers {
			id, err := ref(where, t, models.RoleTeacher)
			if err != nil {
				return nil, err
			}
			dep.Teachers = append(dep.Teachers, id)
		}
		for _, s := range d.Students {
			id, err := ref(where, s.UserName, models.RoleStudent)
			if err != nil {
				return nil, err
			}
			dep.Students = append(dep.Students, models.StudentRef{StudentID: id, StudentUniqueNo: s.UniqueNo})
		}
		for _, s := range d.Subjects {
			id, err := ref(where, s.Teacher, models.RoleTeacher)
			if err != nil {
				return nil, err
			}
			dep.Subjects = append(dep.Subjects, models.SubjectRef{Name: s.Name, TeacherID: id})
		}
		if err := dep.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		departments = append(departments, dep)
	}

	fees := make([]store.Entity, 0, len(fx.Fees))
	for i, f := range fx.Fees {
		where := fmt.Sprintf("fees[%d]", i)
		id, err := ref(where, f.Student, models.RoleStudent)
		if err != nil {
			return nil, err
		}
		rec := models.FeeRecord{StudentID: id, Amount: f.Amount, PaymentMode: f.PaymentMode, Status: f.Status, EndDate: f.EndDate}
		if f.Penalty == nil {
			rec.ApplyPenalty(now)
		} else {
			rec.Penalty = *f.Penalty
			rec.DaysDelayed = models.DaysLate(f.EndDate, now)
		}
		if rec.Status == "" {
			rec.Status = models.PaymentPending
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		fees = append(fees, rec)
	}

	grades := make([]store.Entity, 0, len(fx.Grades))
	for i, g := range fx.Grades {
		where := fmt.Sprintf("grades[%d]", i)
		id, err := ref(where, g.Student, models.RoleStudent)
		if err != nil {
			return nil, err
		}
		rec := models.GradeRecord{
			StudentID: id, StudentName: g.Student, DepartmentName: g.DepartmentName,
			TotalMarks: g.TotalMarks, ObtainedMarks: g.ObtainedMarks, Grade: g.Grade, Rank: g.Rank, Status: g.Status,
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		if rec.Percentage, err = models.ComputePercentage(rec.ObtainedMarks, rec.TotalMarks); err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		grades = append(grades, rec)
	}

	counts := Counts{}
	for _, batch := range []struct {
		collection string
		entities   []store.Entity
	}{
		{store.People, people},
		{store.Departments, departments},
		{store.Fees, fees},
		{store.Grades, grades},
	} {
		if len(batch.entities) == 0 {
			continue
		}
		if _, err := st.Insert(ctx, batch.collection, batch.entities...); err != nil {
			return counts, fmt.Errorf("insert %s: %w", batch.collection, err)
		}
		counts[batch.collection] = len(batch.entities)
	}
	return counts, nil
}
