package models

import "time"

// Door access card statuses.
const (
	CardStatusActive        = "card_active"
	CardStatusBlocked       = "card_blocked"
	CardStatusInactive      = "card_inactive"
	CardStatusMemberBlocked = "card_member_blocked" // blocked because the member lapsed
)

// AccessCard is a physical door card assigned to a member. The card number is
// what the door controller reads; pausing a member blocks all their cards.
type AccessCard struct {
	ID         int        `json:"id" db:"id"`
	MemberID   int        `json:"member_id" db:"member_id"`
	CardNumber string     `json:"card_number" db:"card_number"`
	Status     string     `json:"status" db:"status"`
	Notes      string     `json:"notes" db:"notes"`
	LastSeenAt *time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
