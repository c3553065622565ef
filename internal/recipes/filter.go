package recipes

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/store"
	"github.com/campusdesk/analytics/pkg/apperror"
	"github.com/campusdesk/analytics/pkg/validation"
)

type FilterParams struct {
	DepartmentName string `json:"departmentName" form:"departmentName" validate:"required"`
	TeacherName    string `json:"teacherName" form:"teacherName" validate:"required"`
	SubjectName    string `json:"subjectName" form:"subjectName" validate:"required"`
	StudentName    string `json:"studentName" form:"studentName" validate:"required"`
	Page
}

func (p FilterParams) Validate() error { return validation.Struct(p) }

// Teacher is a teacher resolved by user name before the listing pipeline is built.
type Teacher struct {
	ID       primitive.ObjectID
	UserName string
}

// FilterListing lists the (student, subject) rows of a department matching the named
// student and subject, keeping only subjects taught by the given teacher, who must
// also be one of the department's teachers.
func FilterListing(p FilterParams, teacher Teacher) (engine.Pipeline, error) {
	if err := p.Validate(); err != nil {
		return engine.Pipeline{}, err
	}
	if teacher.ID.IsZero() {
		return engine.Pipeline{}, apperror.NotFound("teacher", p.TeacherName)
	}

	rowFilter := []engine.Predicate{
		engine.Eq("subjects.teacherId", teacher.ID),
		engine.Eq("subjectTeacherName", teacher.UserName),
		engine.Eq("teacherName", teacher.UserName),
		engine.Eq("taughtSub", p.SubjectName),
		engine.Eq("studentName", p.StudentName),
	}

	stages := []engine.Stage{
		engine.Select{Where: engine.And(
			engine.Eq("departmentName", p.DepartmentName),
			engine.Eq("teacher", teacher.ID),
		)},
		engine.Join{From: store.People, LocalField: "teacher", ForeignField: "_id", As: "teacherDetails"},
		engine.Join{From: store.People, LocalField: "students.studentId", ForeignField: "_id", As: "studentDetails"},
		engine.Join{From: store.People, LocalField: "subjects.teacherId", ForeignField: "_id", As: "subjectTeacherDetails"},
		engine.Flatten{Field: "studentDetails"},
		engine.Flatten{Field: "subjects"},
		engine.ComputeFields{Fields: []engine.FieldExpr{
			engine.F("studentName", engine.Field("studentDetails.userName")),
			engine.F("teacherId", engine.Field("subjects.teacherId")),
			engine.F("taughtSub", engine.Field("subjects.name")),
			engine.F("teacherName", engine.Get(
				engine.LookupIn(engine.Field("teacherDetails"), "t", engine.Eq("t._id", teacher.ID)), "userName")),
			engine.F("subjectTeacherName", engine.Get(
				engine.LookupIn(engine.Field("subjectTeacherDetails"), "t", engine.EqFields("t._id", "subjects.teacherId")), "userName")),
		}},
		engine.Select{Where: engine.And(rowFilter...)},
	}
	stages = append(stages, p.Stages(engine.Direction("studentName", p.Sort), engine.Asc("taughtSub"))...)
	stages = append(stages, engine.Project{Exclude: []string{
		"teacherDetails", "teacherName", "teacher", "students", "subjects", "subjectTeacherDetails",
	}})
	return engine.Pipeline{Name: NameFilterListing, Collection: store.Departments, Stages: stages}, nil
}
