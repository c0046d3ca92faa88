package models

import "time"

type User struct {
	ID        int        `json:"id" example:"1"`
	Email     string     `json:"email" example:"member@example.com"`
	FirstName string     `json:"first_name" example:"Tanner"`
	LastName  string     `json:"last_name" example:"Collin"`
	MemberID  *int       `json:"member_id"`
	IsStaff   bool       `json:"is_staff"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
}
