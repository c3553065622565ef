package recipes

import (
	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/internal/store"
	"github.com/campusdesk/analytics/pkg/validation"
)

const (
	ScopeDepartment = "department"
	ScopeUniversity = "university"

	BranchDepartmentToppers = "departmentToppers"
	BranchUniversityToppers = "universityToppers"
)

type ToppersParams struct {
	Scope          string `json:"topperType" form:"topperType" validate:"oneof=department university"`
	DepartmentName string `json:"departmentName,omitempty" form:"departmentName"`
	Top            int    `json:"top" form:"top" validate:"gte=1"`
	Page
}

// WithDefaults fills scope (department) and top (1) when absent.
func (p ToppersParams) WithDefaults() ToppersParams {
	if p.Scope == "" {
		p.Scope = ScopeDepartment
	}
	if p.Top <= 0 {
		p.Top = 1
	}
	return p
}

func (p ToppersParams) Validate() error { return validation.Struct(p) }

// Percentage recomputes a grade record's percentage from its marks, rounded to two
// decimals. Zero total marks fail the pipeline.
func Percentage() engine.Expr {
	return engine.Percent(engine.Field("obtainedMarks"), engine.Field("totalMarks"), 2)
}

func topperFields(withDepartment bool) []engine.FieldExpr {
	fields := []engine.FieldExpr{
		engine.F("studentId", nil),
		engine.F("studentName", nil),
	}
	if withDepartment {
		fields = append(fields, engine.F("departmentName", nil))
	}
	return append(fields,
		engine.F("totalMarks", nil),
		engine.F("obtainedMarks", nil),
		engine.F("percentage", nil),
		engine.F("grade", nil),
		engine.F("rank", nil),
		engine.F("status", nil),
	)
}

// TopperRanking ranks passing students by percentage. Both scopes produce the
// departmentToppers and universityToppers branches.
//
// Department scope groups passing records per department, keeping the top N and the
// average over all passing students, pages through departments and then takes the
// first N departments into both branches. University scope collects every passing
// record into one list and keeps the global top N; page parameters do not apply.
func TopperRanking(p ToppersParams) (engine.Pipeline, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return engine.Pipeline{}, err
	}

	passing := []engine.Predicate{engine.Eq("status", string(models.StatusPass))}
	if p.DepartmentName != "" {
		passing = append(passing, engine.Eq("departmentName", p.DepartmentName))
	}
	stages := []engine.Stage{
		engine.ComputeFields{Fields: []engine.FieldExpr{engine.F("percentage", Percentage())}},
		engine.Select{Where: engine.And(passing...)},
		engine.Sort{Keys: []engine.SortKey{engine.Desc("percentage")}},
	}

	if p.Scope == ScopeUniversity {
		stages = append(stages,
			engine.Group{Key: engine.Lit(nil), Fields: []engine.Accumulator{
				engine.Push("allToppers", engine.Object(topperFields(true)...)),
			}},
			engine.Flatten{Field: "allToppers"},
			engine.Sort{Keys: []engine.SortKey{engine.Desc("allToppers.percentage")}},
			engine.Limit{N: p.Top},
			engine.Project{Fields: liftFields("allToppers", topperFields(true))},
			engine.Branch{Arms: []engine.NamedPipeline{
				{Name: BranchDepartmentToppers},
				{Name: BranchUniversityToppers},
			}},
		)
		return engine.Pipeline{Name: NameTopperRanking, Collection: store.Grades, Stages: stages}, nil
	}

	stages = append(stages,
		engine.Group{Key: engine.Field("departmentName"), Fields: []engine.Accumulator{
			engine.Push("toppers", engine.Object(topperFields(false)...)),
			engine.Avg("overallPassingPercentage", engine.Field("percentage")),
		}},
		engine.Project{Fields: []engine.FieldExpr{
			engine.F("departmentName", engine.Field("_id")),
			engine.F("toppers", engine.Slice(engine.Field("toppers"), p.Top)),
			engine.F("overallPassingPercentage", engine.Round(engine.Field("overallPassingPercentage"), 2)),
		}},
	)
	stages = append(stages, p.Stages(engine.Direction("departmentName", p.Sort))...)
	reRank := []engine.Stage{
		engine.Sort{Keys: []engine.SortKey{engine.Desc("percentage")}},
		engine.Limit{N: p.Top},
	}
	stages = append(stages, engine.Branch{Arms: []engine.NamedPipeline{
		{Name: BranchDepartmentToppers, Stages: reRank},
		{Name: BranchUniversityToppers, Stages: reRank},
	}})
	return engine.Pipeline{Name: NameTopperRanking, Collection: store.Grades, Stages: stages}, nil
}

// liftFields projects the fields of a sub-document to the top level.
func liftFields(from string, fields []engine.FieldExpr) []engine.FieldExpr {
	out := make([]engine.FieldExpr, len(fields))
	for i, f := range fields {
		out[i] = engine.F(f.Name, engine.Field(from+"."+f.Name))
	}
	return out
}
