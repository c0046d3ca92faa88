package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Payment source accounts.
const (
	AccountPayPal    = "PayPal"
	AccountSquare    = "Square"
	AccountCash      = "Cash"
	AccountProtocoin = "Protocoin"
	AccountDream     = "Dream" // legacy card terminal, entries kept for history
	AccountClearing  = "Clearing"
)

// Ledger entry categories.
const (
	CategoryMembership    = "Membership"
	CategorySnacks        = "Snacks"
	CategoryOnAcct        = "OnAcct"
	CategoryDonation      = "Donation"
	CategoryConsumables   = "Consumables"
	CategoryPurchases     = "Purchases"
	CategoryGarageSale    = "Garage Sale"
	CategoryReimbursement = "Reimbursement"
	CategoryOther         = "Other"
	CategoryFakeMonths    = "Memberships:Fake" // backfill credits with no money behind them
)

// Report types for accepted-but-unresolved payments.
const (
	ReportUnmatchedMember   = "Unmatched Member"
	ReportUnmatchedPurchase = "Unmatched Purchase"
)

// Transaction is a single ledger entry. Entries are immutable once written;
// the reference number is unique among non-null values and is the
// deduplication key for provider webhooks.
type Transaction struct {
	ID               int             `json:"id" db:"id"`
	MemberID         *int            `json:"member_id" db:"member_id"`
	Date             time.Time       `json:"date" db:"date"`
	Amount           decimal.Decimal `json:"amount" db:"amount"` // signed, negative for refunds/debits
	AccountType      string          `json:"account_type" db:"account_type"`
	Category         string          `json:"category" db:"category"`
	Memo             string          `json:"memo" db:"memo"`
	ReferenceNumber  sql.NullString  `json:"reference_number" db:"reference_number"`
	Report           bool            `json:"report" db:"report"`
	ReportType       string          `json:"report_type" db:"report_type"`
	MembershipMonths int             `json:"number_of_membership_months" db:"number_of_membership_months"`
	PayerName        string          `json:"payer_name" db:"payer_name"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}
