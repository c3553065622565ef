package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/pkg/apperror"
	"github.com/campusdesk/analytics/pkg/validation"
)

type GradeStatus string

const (
	StatusPass GradeStatus = "Pass"
	StatusFail GradeStatus = "Fail"
)

// GradeRecord holds the marks of one student. DepartmentName is a copy taken when the
// record was written, not a reference. Percentage is derived and never trusted from
// input; see ComputePercentage.
type GradeRecord struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StudentID      primitive.ObjectID `bson:"studentId" json:"studentId" validate:"required"`
	StudentName    string             `bson:"studentName,omitempty" json:"studentName,omitempty"`
	DepartmentName string             `bson:"departmentName" json:"departmentName" validate:"required"`
	TotalMarks     float64            `bson:"totalMarks" json:"totalMarks" validate:"gt=0"`
	ObtainedMarks  float64            `bson:"obtainedMarks" json:"obtainedMarks" validate:"gte=0,ltefield=TotalMarks"`
	Percentage     float64            `bson:"percentage" json:"percentage"`
	Grade          string             `bson:"grade" json:"grade" validate:"required"`
	Rank           string             `bson:"rank" json:"rank"`
	Status         GradeStatus        `bson:"status" json:"status" validate:"required,oneof=Pass Fail"`
}

// Validate checks the marks invariants: totalMarks > 0 and 0 <= obtainedMarks <= totalMarks.
func (g GradeRecord) Validate() error {
	return validation.Struct(g)
}

// ComputePercentage returns obtainedMarks/totalMarks*100 rounded to two decimals.
func ComputePercentage(obtained, total float64) (float64, error) {
	pct, ok := engine.PercentOf(obtained, total, 2)
	if !ok {
		return 0, apperror.Aggregation("percentage: total marks is zero")
	}
	return pct, nil
}

func (g GradeRecord) Document() engine.Document {
	d := engine.Doc(
		"_id", g.ID,
		"studentId", g.StudentID,
	)
	if g.StudentName != "" {
		d = d.Set("studentName", g.StudentName)
	}
	return append(d, engine.Doc(
		"departmentName", g.DepartmentName,
		"totalMarks", g.TotalMarks,
		"obtainedMarks", g.ObtainedMarks,
		"percentage", g.Percentage,
		"grade", g.Grade,
		"rank", g.Rank,
		"status", string(g.Status),
	)...)
}
