package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/pkg/validation"
)

type StudentRef struct {
	StudentID       primitive.ObjectID `bson:"studentId" json:"studentId" validate:"required"`
	StudentUniqueNo string             `bson:"studentUniqueNo" json:"studentUniqueNo" validate:"required"`
}

type SubjectRef struct {
	Name      string             `bson:"name" json:"name" validate:"required"`
	TeacherID primitive.ObjectID `bson:"teacherId" json:"teacherId" validate:"required"`
}

// Department lists its teachers, enrolled students and the subjects it offers.
type Department struct {
	ID             primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	DepartmentName string               `bson:"departmentName" json:"departmentName" validate:"required,max=100"`
	Teachers       []primitive.ObjectID `bson:"teacher" json:"teacher"`
	Students       []StudentRef         `bson:"students" json:"students" validate:"dive"`
	Subjects       []SubjectRef         `bson:"subjects" json:"subjects" validate:"dive"`
}

func (d Department) Document() engine.Document {
	teachers := make([]any, len(d.Teachers))
	for i, t := range d.Teachers {
		teachers[i] = t
	}
	students := make([]any, len(d.Students))
	for i, s := range d.Students {
		students[i] = engine.Doc("studentId", s.StudentID, "studentUniqueNo", s.StudentUniqueNo)
	}
	subjects := make([]any, len(d.Subjects))
	for i, s := range d.Subjects {
		subjects[i] = engine.Doc("name", s.Name, "teacherId", s.TeacherID)
	}
	return engine.Doc(
		"_id", d.ID,
		"departmentName", d.DepartmentName,
		"teacher", teachers,
		"students", students,
		"subjects", subjects,
	)
}

// StudentIDs returns the identifiers of every enrolled student.
func (d Department) StudentIDs() []primitive.ObjectID {
	out := make([]primitive.ObjectID, len(d.Students))
	for i, s := range d.Students {
		out[i] = s.StudentID
	}
	return out
}

func (d Department) Validate() error { return validation.Struct(d) }
