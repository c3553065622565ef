package recipes

import (
	"sort"
	"strings"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/store"
	"github.com/campusdesk/analytics/pkg/apperror"
)

// personSearchFields are the person fields a free-text term is matched against.
var personSearchFields = []string{"userName", "firstName", "lastName", "email", "phoneNumber", "address"}

// searchFilters maps the accepted exact-match filter names to document paths.
var searchFilters = map[string]string{
	"departmentName": "departmentName",
	"studentName":    "studentDetails.userName",
	"address":        "studentDetails.address",
	"teacherName":    "teacherDetails.userName",
	"subjectName":    "subjects.name",
}

// SearchFilterNames lists the filters Search accepts, sorted.
func SearchFilterNames() []string {
	out := make([]string, 0, len(searchFilters))
	for k := range searchFilters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type SearchParams struct {
	Term    string            `json:"term" form:"search"`
	Filters map[string]string `json:"filters" form:"-"`
	Page
}

// Search finds departments by a case-insensitive term across the department, its
// subjects, teachers and students, intersected with exact-match filters. Each result
// lists only the teachers and students that matched; a list that ends up empty is
// left out of the result instead of being emitted empty.
func Search(p SearchParams) (engine.Pipeline, error) {
	term := strings.TrimSpace(p.Term)
	var where []engine.Predicate
	if term != "" {
		var anyOf []engine.Predicate
		for _, f := range personSearchFields {
			anyOf = append(anyOf, engine.Contains("studentDetails."+f, term))
		}
		for _, f := range personSearchFields {
			anyOf = append(anyOf, engine.Contains("teacherDetails."+f, term))
		}
		anyOf = append(anyOf, engine.Contains("subjects.name", term), engine.Contains("departmentName", term))
		where = append(where, engine.Or(anyOf...))
	}

	names := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		path, ok := searchFilters[k]
		if !ok {
			return engine.Pipeline{}, apperror.InvalidParam("unknown search filter %q", k).
				WithDetail("allowed", SearchFilterNames())
		}
		where = append(where, engine.Eq(path, p.Filters[k]))
	}

	studentCond := memberCond(term, map[string]string{
		"userName": p.Filters["studentName"],
		"address":  p.Filters["address"],
	})
	teacherCond := memberCond(term, map[string]string{
		"userName": p.Filters["teacherName"],
	})

	stages := []engine.Stage{
		engine.Join{From: store.People, LocalField: "teacher", ForeignField: "_id", As: "teacherDetails"},
		engine.Join{From: store.People, LocalField: "students.studentId", ForeignField: "_id", As: "studentDetails"},
	}
	if len(where) > 0 {
		stages = append(stages, engine.Select{Where: engine.And(where...)})
	}
	stages = append(stages, p.Stages(engine.Direction("departmentName", p.Sort), engine.Asc("_id"))...)
	stages = append(stages,
		engine.Project{Fields: []engine.FieldExpr{
			engine.F("_id", nil),
			engine.F("departmentName", nil),
			engine.F("teacherDetails", engine.FilterArray(engine.Field("teacherDetails"), "member", teacherCond)),
			engine.F("students", engine.FilterArray(engine.Field("studentDetails"), "member", studentCond)),
		}},
		engine.Project{Fields: []engine.FieldExpr{
			engine.F("_id", nil),
			engine.F("departmentName", nil),
			engine.F("students", omitEmpty("students")),
			engine.F("teacherDetails", omitEmpty("teacherDetails")),
		}},
	)
	return engine.Pipeline{Name: NameSearch, Collection: store.Departments, Stages: stages}, nil
}

// memberCond keeps a joined person bound as "member" when it matches the term on any
// search field or equals one of the exact filters. Without term or filters every
// member is kept.
func memberCond(term string, exact map[string]string) engine.Predicate {
	var anyOf []engine.Predicate
	if term != "" {
		for _, f := range personSearchFields {
			anyOf = append(anyOf, engine.Contains("member."+f, term))
		}
	}
	keys := make([]string, 0, len(exact))
	for k, v := range exact {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		anyOf = append(anyOf, engine.Eq("member."+k, exact[k]))
	}
	if len(anyOf) == 0 {
		return engine.True()
	}
	return engine.Or(anyOf...)
}

func omitEmpty(field string) engine.Expr {
	return engine.Cond(engine.Truthy(engine.Size(engine.Field(field))), engine.Field(field), engine.Remove())
}
