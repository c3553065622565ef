package models

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/pkg/validation"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentFailed  PaymentStatus = "Failed"
)

// FeeRecord is the single fee record of a student.
type FeeRecord struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StudentID   primitive.ObjectID `bson:"studentId" json:"studentId" validate:"required"`
	Amount      float64            `bson:"amount" json:"amount" validate:"gte=0"`
	Penalty     float64            `bson:"penalty" json:"penalty" validate:"gte=0"`
	DaysDelayed int                `bson:"daysDelayed" json:"daysDelayed" validate:"gte=0"`
	PaymentMode string             `bson:"paymentMode,omitempty" json:"paymentMode,omitempty" validate:"omitempty,oneof=Cash Card UPI 'Credit Card' 'Debit Card'"`
	Status      PaymentStatus      `bson:"status" json:"status" validate:"omitempty,oneof=Pending Paid Failed"`
	EndDate     time.Time          `bson:"endDate" json:"endDate" validate:"required"`
}

// DaysLate counts started days between the due date and now; zero when not overdue.
func DaysLate(endDate, now time.Time) int {
	if !now.After(endDate) {
		return 0
	}
	return int(math.Ceil(now.Sub(endDate).Hours() / 24))
}

// PenaltyFor returns the late fee owed at now: 500 for one day, 1000 for two and
// 1500 from the third day on.
func PenaltyFor(endDate, now time.Time) float64 {
	switch days := DaysLate(endDate, now); {
	case days >= 3:
		return 1500
	case days == 2:
		return 1000
	case days == 1:
		return 500
	}
	return 0
}

// ApplyPenalty sets DaysDelayed and Penalty for now and adds the penalty to Amount.
func (f *FeeRecord) ApplyPenalty(now time.Time) {
	f.DaysDelayed = DaysLate(f.EndDate, now)
	f.Penalty = PenaltyFor(f.EndDate, now)
	f.Amount += f.Penalty
}

func (f FeeRecord) Document() engine.Document {
	d := engine.Doc(
		"_id", f.ID,
		"studentId", f.StudentID,
		"amount", f.Amount,
		"penalty", f.Penalty,
		"daysDelayed", int64(f.DaysDelayed),
		"status", string(f.Status),
		"endDate", f.EndDate,
	)
	if f.PaymentMode != "" {
		d = d.Set("paymentMode", f.PaymentMode)
	}
	return d
}

func (f FeeRecord) Validate() error { return validation.Struct(f) }
