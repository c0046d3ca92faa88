package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Training registration attendance statuses.
const (
	AttendanceWaiting     = "Waiting for payment"
	AttendanceConfirmed   = "Confirmed"
	AttendanceAttended    = "Attended"
	AttendanceNoShow      = "No-show"
	AttendanceWithdrawn   = "Withdrawn"
	AttendanceRescheduled = "Rescheduled"
)

// Session is a scheduled run of a course with a fixed cost.
type Session struct {
	ID          int             `json:"id" db:"id"`
	CourseName  string          `json:"course_name" db:"course_name"`
	Cost        decimal.Decimal `json:"cost" db:"cost"`
	Datetime    time.Time       `json:"datetime" db:"datetime"`
	IsCancelled bool            `json:"is_cancelled" db:"is_cancelled"`
	MaxStudents *int            `json:"max_students" db:"max_students"`
}

// TrainingRegistration links a member to a session. A registration in the
// waiting state is a valid payment target for the reconciliation engine.
type TrainingRegistration struct {
	ID        int        `json:"id" db:"id"`
	SessionID int        `json:"session_id" db:"session_id"`
	MemberID  int        `json:"member_id" db:"member_id"`
	Status    string     `json:"attendance_status" db:"attendance_status"`
	PaidDate  *time.Time `json:"paid_date" db:"paid_date"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
