package recipes

import (
	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/store"
)

const (
	BranchMetadata = "metadata"
	BranchData     = "data"
)

type DepartmentsParams struct {
	Page
}

// ListDepartments pages through departments with their teachers, students and
// subjects resolved. The metadata branch counts all departments.
func ListDepartments(p DepartmentsParams) (engine.Pipeline, error) {
	sizeOf := func(field string) engine.Expr {
		return engine.Size(engine.IfNull(engine.Field(field), engine.Lit([]any{})))
	}
	data := append(p.Stages(engine.Direction("departmentName", p.Sort), engine.Asc("_id")),
		engine.Join{From: store.People, LocalField: "teacher", ForeignField: "_id", As: "teacherDetails"},
		engine.Join{From: store.People, LocalField: "students.studentId", ForeignField: "_id", As: "studentDetails"},
		engine.Join{From: store.People, LocalField: "subjects.teacherId", ForeignField: "_id", As: "subjectTeacherDetails"},
		engine.Project{Fields: []engine.FieldExpr{
			engine.F("_id", nil),
			engine.F("departmentName", nil),
			engine.F("teacherDetails", nil),
			engine.F("studentDetails", nil),
			engine.F("subjects", engine.MapArray(engine.Field("subjects"), "subject",
				engine.F("name", engine.Field("subject.name")),
				engine.F("teacher", engine.LookupIn(engine.Field("subjectTeacherDetails"), "teacher",
					engine.EqFields("teacher._id", "subject.teacherId"))),
			)),
			engine.F("totalStudents", sizeOf("students")),
			engine.F("totalSubjects", sizeOf("subjects")),
			engine.F("totalTeachers", sizeOf("teacher")),
		}},
	)
	return engine.Pipeline{Name: NameListDepartments, Collection: store.Departments, Stages: []engine.Stage{
		engine.Branch{Arms: []engine.NamedPipeline{
			{Name: BranchMetadata, Stages: []engine.Stage{engine.CountAll{As: "totalDocuments"}}},
			{Name: BranchData, Stages: data},
		}},
	}}, nil
}
