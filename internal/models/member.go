package models

import "time"

// Membership status values, derived by the tally from the ledger.
const (
	StatusPrepaid = "Prepaid"
	StatusCurrent = "Current"
	StatusDue     = "Due"
	StatusOverdue = "Overdue"
	StatusFormer  = "Former Member"
)

// Member represents a makerspace member. Status, expiry and paused date are
// cache fields recomputed by the tally; the ledger is the source of truth.
type Member struct {
	ID               int        `json:"id" db:"id"`
	UserID           *int       `json:"user_id" db:"user_id"`
	FirstName        string     `json:"first_name" db:"first_name"`
	LastName         string     `json:"last_name" db:"last_name"`
	PreferredName    string     `json:"preferred_name" db:"preferred_name"`
	Email            string     `json:"email" db:"email"`
	Status           string     `json:"status" db:"status"`
	MonthlyFees      int        `json:"monthly_fees" db:"monthly_fees"` // whole dollars
	CurrentStartDate *time.Time `json:"current_start_date" db:"current_start_date"`
	ExpireDate       *time.Time `json:"expire_date" db:"expire_date"`
	PausedDate       *time.Time `json:"paused_date" db:"paused_date"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Name returns the member's display name.
func (m *Member) Name() string {
	first := m.PreferredName
	if first == "" {
		first = m.FirstName
	}
	return first + " " + m.LastName
}
