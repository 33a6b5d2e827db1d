package admin

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Entity is a record the admin API addresses by id.
type Entity interface {
	EntityID() string
}

// Tutor is an instructor available for group and private lessons.
type Tutor struct {
	ID         string          `json:"id,omitempty" yaml:"id"`
	Name       string          `json:"name" yaml:"name" validate:"required,max=200"`
	Email      string          `json:"email" yaml:"email" validate:"required,email"`
	Phone      string          `json:"phone,omitempty" yaml:"phone,omitempty"`
	Subjects   []string        `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	HourlyRate decimal.Decimal `json:"hourly_rate" yaml:"hourly_rate"`
	Active     bool            `json:"active" yaml:"active"`
	CreatedAt  time.Time       `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

func (t Tutor) EntityID() string { return t.ID }

// Student is an enrolled learner, optionally assigned to a group.
type Student struct {
	ID            string    `json:"id,omitempty" yaml:"id"`
	Name          string    `json:"name" yaml:"name" validate:"required,max=200"`
	Email         string    `json:"email" yaml:"email" validate:"required,email"`
	Grade         string    `json:"grade,omitempty" yaml:"grade,omitempty"`
	GroupConfigID string    `json:"group_config_id,omitempty" yaml:"group_config_id,omitempty"`
	GuardianPhone string    `json:"guardian_phone,omitempty" yaml:"guardian_phone,omitempty"`
	Active        bool      `json:"active" yaml:"active"`
	CreatedAt     time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

func (s Student) EntityID() string { return s.ID }

// GroupConfig describes a recurring class group and its fee.
type GroupConfig struct {
	ID          string          `json:"id,omitempty" yaml:"id"`
	Name        string          `json:"name" yaml:"name" validate:"required,max=200"`
	MaxStudents int             `json:"max_students" yaml:"max_students" validate:"gte=0"`
	MonthlyFee  decimal.Decimal `json:"monthly_fee" yaml:"monthly_fee"`
	Schedule    string          `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	CreatedAt   time.Time       `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

func (g GroupConfig) EntityID() string { return g.ID }

// User is a console operator account.
type User struct {
	ID          string    `json:"id,omitempty" yaml:"id"`
	Username    string    `json:"username" yaml:"username" validate:"required,min=3,max=100"`
	DisplayName string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Email       string    `json:"email,omitempty" yaml:"email,omitempty" validate:"omitempty,email"`
	Role        string    `json:"role,omitempty" yaml:"role,omitempty" validate:"omitempty,oneof=admin manager viewer"`
	Active      bool      `json:"active" yaml:"active"`
	CreatedAt   time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

func (u User) EntityID() string { return u.ID }

// Validate rejects negative rates.
func (t Tutor) Validate() error {
	if t.HourlyRate.IsNegative() {
		return fmt.Errorf("hourly_rate must not be negative, got %s", t.HourlyRate)
	}
	return nil
}

// Validate rejects negative fees.
func (g GroupConfig) Validate() error {
	if g.MonthlyFee.IsNegative() {
		return fmt.Errorf("monthly_fee must not be negative, got %s", g.MonthlyFee)
	}
	return nil
}
