package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/pkg/validation"
)

type Role string

const (
	RoleStudent   Role = "Student"
	RoleTeacher   Role = "Teacher"
	RolePrincipal Role = "Principal"
)

// Person is a student, teacher or principal.
type Person struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FirstName   string             `bson:"firstName" json:"firstName" validate:"required"`
	LastName    string             `bson:"lastName" json:"lastName" validate:"required"`
	UserName    string             `bson:"userName" json:"userName" validate:"required,min=3,max=30"`
	Email       string             `bson:"email" json:"email" validate:"required,email"`
	PhoneNumber string             `bson:"phoneNumber" json:"phoneNumber" validate:"required,min=10,max=15,numeric"`
	Address     string             `bson:"address" json:"address" validate:"required,max=100"`
	Gender      string             `bson:"gender,omitempty" json:"gender,omitempty" validate:"omitempty,oneof=Male Female Other"`
	DOB         time.Time          `bson:"dob,omitempty" json:"dob,omitempty"`
	Role        Role               `bson:"role" json:"role" validate:"required,oneof=Student Teacher Principal"`
}

// Document converts the person into an engine document with stable field order.
func (p Person) Document() engine.Document {
	d := engine.Doc(
		"_id", p.ID,
		"firstName", p.FirstName,
		"lastName", p.LastName,
		"userName", p.UserName,
		"email", p.Email,
		"phoneNumber", p.PhoneNumber,
		"address", p.Address,
		"role", string(p.Role),
	)
	if p.Gender != "" {
		d = d.Set("gender", p.Gender)
	}
	if !p.DOB.IsZero() {
		d = d.Set("dob", p.DOB)
	}
	return d
}

func (p Person) Validate() error { return validation.Struct(p) }
