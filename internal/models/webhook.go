package models

import "time"

// Webhook processing status strings, one per engine outcome. Written back to
// the raw webhook record for operational audit.
const (
	WebhookReceived           = "Received"
	WebhookMalformed          = "Malformed"
	WebhookVerificationFailed = "Verification Failed"
	WebhookPaymentIncomplete  = "Payment Incomplete"
	WebhookInvalidReceiver    = "Invalid Receiver"
	WebhookInvalidCurrency    = "Invalid Currency"
	WebhookMissingID          = "Missing ID"
	WebhookDuplicate          = "Duplicate"
	WebhookTrainingPayment    = "Training Payment"
	WebhookUnmatchedMember    = "Unmatched Member"
	WebhookCategorized        = "Categorized"
	WebhookMembershipDues     = "Membership Dues"
	WebhookUnmatchedPurchase  = "Unmatched Purchase"
)

// WebhookEvent is the raw, append-only log of every inbound payment
// notification, duplicates and rejects included. Never consulted by the
// reconciliation engine for business decisions.
type WebhookEvent struct {
	ID        string    `json:"id" db:"id"`
	Provider  string    `json:"provider" db:"provider"`
	RawBody   string    `json:"raw_body" db:"raw_body"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PaymentHint maps an external payer account identifier to a member.
// Advisory only: a stale hint degrades auto-matching but never corrupts the
// ledger.
type PaymentHint struct {
	Account   string    `json:"account" db:"account"`
	MemberID  int       `json:"member_id" db:"member_id"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
