package recipes

import (
	"strings"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/internal/store"
)

type RevenueParams struct {
	SearchKeyword string `json:"searchKeyword,omitempty" form:"searchKeyword"`
	Page
}

// RevenueRollup totals fees and penalties per department. Students are first rolled
// up per (department, student), with a missing fee record counting as zero and
// unpaid, then per department. Departments without a single paying student are
// dropped; an optional keyword narrows departments by name.
func RevenueRollup(p RevenueParams) (engine.Pipeline, error) {
	hasFee := engine.Exists("studentFees", true)
	feeOrZero := func(field string) engine.Expr {
		return engine.Cond(hasFee, engine.Field("studentFees."+field), engine.Lit(0))
	}

	base := engine.Pipeline{Name: NameRevenueRollup, Collection: store.People, Stages: []engine.Stage{
		engine.Select{Where: engine.Eq("role", string(models.RoleStudent))},
		engine.Join{From: store.Fees, LocalField: "_id", ForeignField: "studentId", As: "studentFees"},
		engine.Flatten{Field: "studentFees", PreserveEmpty: true},
		engine.Join{From: store.Departments, LocalField: "_id", ForeignField: "students.studentId", As: "departmentInfo", AtMostOne: true},
		engine.Flatten{Field: "departmentInfo", PreserveEmpty: true},
		engine.Group{
			Key: engine.Object(
				engine.F("departmentId", engine.Field("departmentInfo._id")),
				engine.F("studentId", engine.Field("_id")),
			),
			Fields: []engine.Accumulator{
				engine.FirstOf("departmentName", engine.Field("departmentInfo.departmentName")),
				engine.Sum("totalFeesCollected", feeOrZero("amount")),
				engine.Sum("totalPenaltyCollected", feeOrZero("penalty")),
				engine.Max("hasPaidFees", engine.Cond(hasFee, engine.Lit(true), engine.Lit(false))),
			},
		},
		engine.Group{
			Key: engine.Field("_id.departmentId"),
			Fields: []engine.Accumulator{
				engine.FirstOf("departmentName", engine.Field("departmentName")),
				engine.Count("totalStudents"),
				engine.Sum("totalFeesCollected", engine.Field("totalFeesCollected")),
				engine.Sum("totalPenaltyCollected", engine.Field("totalPenaltyCollected")),
				engine.Push("students", engine.Object(
					engine.F("studentId", engine.Field("_id.studentId")),
					engine.F("hasPaidFees", engine.Field("hasPaidFees")),
				)),
				engine.Sum("totalPaidStudents", engine.Cond(engine.Truthy(engine.Field("hasPaidFees")), engine.Lit(1), engine.Lit(0))),
			},
		},
		// students outside every department land in the null group
		engine.Select{Where: engine.And(
			engine.Exists("_id", true),
			engine.Gt("totalPaidStudents", 0),
		)},
	}}

	if kw := strings.TrimSpace(p.SearchKeyword); kw != "" {
		base = base.Append(engine.Select{Where: engine.Contains("departmentName", kw)})
	}

	out := base.Append(p.Stages(engine.Direction("departmentName", p.Sort), engine.Asc("_id"))...)
	return out.Append(engine.Project{Fields: []engine.FieldExpr{
		engine.F("departmentId", engine.Field("_id")),
		engine.F("departmentName", nil),
		engine.F("totalStudents", nil),
		engine.F("totalFeesCollected", nil),
		engine.F("totalPenaltyCollected", nil),
		engine.F("totalPaidStudents", paidCount(true)),
		engine.F("totalUnpaidStudents", paidCount(false)),
		engine.F("students", nil),
	}}), nil
}

func paidCount(paid bool) engine.Expr {
	return engine.Size(engine.FilterArray(engine.Field("students"), "student", engine.Eq("student.hasPaidFees", paid)))
}
