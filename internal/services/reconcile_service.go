package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spaceport/backend/internal/models"
)

// Rejection is a rejected-by-design outcome: expected, logged, no ledger
// mutation. Handlers map it to HTTP 200 so the provider stops retrying.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return "payment rejected: " + r.Reason
}

func reject(reason string) *Rejection {
	return &Rejection{Reason: reason}
}

// PaymentNotification is a provider webhook normalized for the engine. Raw
// carries the exact inbound body for logging and PayPal echo-verification.
type PaymentNotification struct {
	Provider     string
	Raw          []byte
	Status       string
	Receiver     string
	Currency     string
	Amount       decimal.Decimal
	TxnID        string
	PayerAccount string
	PayerName    string
	PayerEmail   string
	Note         string
	Custom       string
	Date         time.Time
}

// ProviderConfig holds the per-provider acceptance parameters.
type ProviderConfig struct {
	CompletedStatus string
	Receiver        string
	Currency        string
	Verify          func(pn *PaymentNotification) bool
}

// customFields is the vendor-opaque custom blob attached to a payment.
// Pointer fields make presence explicit; a malformed blob parses to the zero
// value, never an error.
type customFields struct {
	Training *int   `json:"training"`
	Member   *int   `json:"member"`
	Category string `json:"category"`
	Deal     int    `json:"deal"`
	Memo     string `json:"memo"`
}

func parseCustom(raw string) customFields {
	var fields customFields
	if raw == "" {
		return fields
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		log.Printf("[RECONCILE] Ignoring malformed custom blob: %v", err)
		return customFields{}
	}
	return fields
}

// Categories a payer may name in the custom blob.
var customCategories = map[string]string{
	"snacks":      models.CategorySnacks,
	"donation":    models.CategoryDonation,
	"onacct":      models.CategoryOnAcct,
	"consumables": models.CategoryConsumables,
}

// ReconcileService turns verified payment webhooks into ledger entries. One
// webhook produces exactly one entry, or none for a rejection; replayed
// webhooks are rejected on the reference-number dedup check.
type ReconcileService struct {
	db        *sql.DB
	ledger    *LedgerService
	hints     *HintService
	members   *MemberService
	training  *TrainingService
	alerts    *AlertService
	providers map[string]ProviderConfig
}

func NewReconcileService(db *sql.DB, ledger *LedgerService, hints *HintService,
	members *MemberService, training *TrainingService, alerts *AlertService,
	providers map[string]ProviderConfig) *ReconcileService {
	return &ReconcileService{
		db:        db,
		ledger:    ledger,
		hints:     hints,
		members:   members,
		training:  training,
		alerts:    alerts,
		providers: providers,
	}
}

// Process runs the decision pipeline for one webhook. The checks run in a
// fixed order; later steps assume the earlier ones passed. Returns the
// created ledger entry, or a *Rejection for rejected-by-design outcomes.
func (s *ReconcileService) Process(pn *PaymentNotification) (*models.Transaction, error) {
	// The raw webhook is recorded before any validation so nothing is lost
	// even if processing blows up later.
	eventID := s.recordWebhook(pn)

	cfg, ok := s.providers[pn.Provider]
	if !ok {
		s.setWebhookStatus(eventID, models.WebhookVerificationFailed)
		return nil, reject("Verification Failed")
	}

	if !cfg.Verify(pn) {
		log.Printf("[RECONCILE] %s webhook failed verification", pn.Provider)
		s.setWebhookStatus(eventID, models.WebhookVerificationFailed)
		return nil, reject("Verification Failed")
	}

	if pn.Status != cfg.CompletedStatus {
		log.Printf("[RECONCILE] Payment %s has status %q, not processing", pn.TxnID, pn.Status)
		s.setWebhookStatus(eventID, models.WebhookPaymentIncomplete)
		return nil, reject("Payment Incomplete")
	}

	if pn.Receiver != cfg.Receiver {
		log.Printf("[RECONCILE] Payment %s sent to wrong receiver %q", pn.TxnID, pn.Receiver)
		s.setWebhookStatus(eventID, models.WebhookInvalidReceiver)
		return nil, reject("Invalid Receiver")
	}

	if pn.Currency != cfg.Currency {
		log.Printf("[RECONCILE] Payment %s in wrong currency %q", pn.TxnID, pn.Currency)
		s.setWebhookStatus(eventID, models.WebhookInvalidCurrency)
		return nil, reject("Invalid Currency")
	}

	if pn.TxnID == "" {
		s.setWebhookStatus(eventID, models.WebhookMissingID)
		return nil, reject("Missing ID")
	}

	exists, err := s.ledger.ReferenceExists(pn.TxnID)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Printf("[RECONCILE] Duplicate payment %s, ignoring", pn.TxnID)
		s.setWebhookStatus(eventID, models.WebhookDuplicate)
		return nil, reject("Duplicate")
	}

	custom := parseCustom(pn.Custom)

	// A payment aimed at a pending training registration takes priority over
	// member/dues resolution.
	if custom.Training != nil {
		tx, err := s.processTrainingPayment(pn, *custom.Training)
		if err == nil {
			s.setWebhookStatus(eventID, models.WebhookTrainingPayment)
			return tx, nil
		}
		log.Printf("[RECONCILE] Training payment %s not applicable: %v", pn.TxnID, err)
	}

	memberID, resolved, err := s.resolveMember(pn, custom)
	if err != nil {
		return nil, err
	}

	if !resolved {
		tx, err := s.recordUnmatchedMember(pn)
		if err != nil {
			return nil, err
		}
		s.setWebhookStatus(eventID, models.WebhookUnmatchedMember)
		return tx, nil
	}

	if category, ok := customCategories[custom.Category]; ok {
		tx := s.newEntry(pn, &memberID)
		tx.Category = category
		tx.Memo = custom.Memo
		if err := s.ledger.Create(tx); err != nil {
			return nil, err
		}
		log.Printf("[RECONCILE] Payment %s categorized as %s for member %d", pn.TxnID, category, memberID)
		s.setWebhookStatus(eventID, models.WebhookCategorized)
		return tx, nil
	}

	if tx, ok, err := s.processDues(pn, custom, memberID); err != nil {
		return nil, err
	} else if ok {
		s.setWebhookStatus(eventID, models.WebhookMembershipDues)
		return tx, nil
	}

	// Known member, no resolvable reason. Accepted, flagged for follow-up.
	tx := s.newEntry(pn, &memberID)
	tx.Category = models.CategoryOther
	tx.Report = true
	tx.ReportType = models.ReportUnmatchedPurchase
	tx.Memo = fmt.Sprintf("Unmatched purchase from member %d, note: %s", memberID, orUnknown(pn.Note))
	if err := s.ledger.Create(tx); err != nil {
		return nil, err
	}

	log.Printf("[RECONCILE] Payment %s from member %d has no matching reason, flagged", pn.TxnID, memberID)
	s.setWebhookStatus(eventID, models.WebhookUnmatchedPurchase)
	s.alerts.Notify("unmatched_purchase", map[string]any{
		"txn_id":    pn.TxnID,
		"member_id": memberID,
		"amount":    pn.Amount.String(),
	})
	return tx, nil
}

// processTrainingPayment applies a payment to a pending registration. The
// registration must exist, be awaiting payment, belong to a live session and
// cost exactly the paid amount.
func (s *ReconcileService) processTrainingPayment(pn *PaymentNotification, regID int) (*models.Transaction, error) {
	reg, session, err := s.training.MarkPaid(regID, pn.Amount, pn.Date)
	if err != nil {
		return nil, err
	}

	tx := s.newEntry(pn, &reg.MemberID)
	tx.Category = models.CategoryPurchases
	tx.Memo = fmt.Sprintf("Payment for %s session %d", session.CourseName, session.ID)
	if err := s.ledger.Create(tx); err != nil {
		return nil, err
	}

	if err := s.hints.Upsert(pn.PayerAccount, reg.MemberID); err != nil {
		log.Printf("[RECONCILE] Hint upsert failed for training payment %s: %v", pn.TxnID, err)
	}

	log.Printf("[RECONCILE] Payment %s confirmed training registration %d (member %d)",
		pn.TxnID, reg.ID, reg.MemberID)
	return tx, nil
}

// resolveMember finds the paying member: learned hint first, then an explicit
// member id in the custom blob (which also teaches a new hint).
func (s *ReconcileService) resolveMember(pn *PaymentNotification, custom customFields) (int, bool, error) {
	memberID, ok, err := s.hints.Lookup(pn.PayerAccount)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return memberID, true, nil
	}

	if custom.Member != nil {
		if err := s.hints.Upsert(pn.PayerAccount, *custom.Member); err != nil {
			log.Printf("[RECONCILE] Hint upsert failed for payer %s: %v", pn.PayerAccount, err)
		}
		return *custom.Member, true, nil
	}

	return 0, false, nil
}

func (s *ReconcileService) recordUnmatchedMember(pn *PaymentNotification) (*models.Transaction, error) {
	tx := s.newEntry(pn, nil)
	tx.Category = models.CategoryOther
	tx.Report = true
	tx.ReportType = models.ReportUnmatchedMember
	tx.Memo = fmt.Sprintf("Unmatched payment, payer: %s, email: %s, note: %s",
		orUnknown(pn.PayerName), orUnknown(pn.PayerEmail), orUnknown(pn.Note))

	if err := s.ledger.Create(tx); err != nil {
		return nil, err
	}

	log.Printf("[RECONCILE] Payment %s could not be matched to a member, flagged", pn.TxnID)
	s.alerts.Notify("unmatched_member", map[string]any{
		"txn_id": pn.TxnID,
		"payer":  orUnknown(pn.PayerName),
		"amount": pn.Amount.String(),
	})
	return tx, nil
}

// processDues converts an exact multiple of the member's monthly rate into
// that many membership months, applying the sales-promotion overrides, and
// retallies the member.
func (s *ReconcileService) processDues(pn *PaymentNotification, custom customFields, memberID int) (*models.Transaction, bool, error) {
	member, err := s.members.fetchMember(memberID)
	if err != nil {
		return nil, false, err
	}

	if member.MonthlyFees <= 0 {
		return nil, false, nil
	}

	fees := decimal.NewFromInt(int64(member.MonthlyFees))
	if !pn.Amount.Mod(fees).IsZero() {
		return nil, false, nil
	}

	months := int(pn.Amount.Div(fees).IntPart())
	memo := custom.Memo

	// Promotional deals give the last month free, so the raw division
	// undercounts by exactly one.
	switch {
	case custom.Deal == 12 && months == 11:
		months = 12
		memo = appendMemo(memo, "12 for 11 deal")
	case custom.Deal == 3 && months == 2:
		months = 3
		memo = appendMemo(memo, "3 for 2 deal")
	}

	tx := s.newEntry(pn, &memberID)
	tx.Category = models.CategoryMembership
	tx.MembershipMonths = months
	tx.Memo = memo
	if err := s.ledger.Create(tx); err != nil {
		return nil, false, err
	}

	// A first dues payment also starts the membership clock.
	if member.CurrentStartDate == nil {
		_, err := s.db.Exec(`
			UPDATE members SET current_start_date = $1, updated_at = $2 WHERE id = $3`,
			tx.Date, time.Now(), memberID)
		if err != nil {
			return nil, false, err
		}
	}

	if err := s.members.Retally(memberID, time.Now()); err != nil {
		log.Printf("[RECONCILE] Retally failed for member %d after payment %s: %v", memberID, pn.TxnID, err)
	}

	log.Printf("[RECONCILE] Payment %s credited %d months to member %d", pn.TxnID, months, memberID)
	return tx, true, nil
}

func (s *ReconcileService) newEntry(pn *PaymentNotification, memberID *int) *models.Transaction {
	return &models.Transaction{
		MemberID:        memberID,
		Date:            pn.Date,
		Amount:          pn.Amount,
		AccountType:     pn.Provider,
		ReferenceNumber: sql.NullString{String: pn.TxnID, Valid: pn.TxnID != ""},
		PayerName:       pn.PayerName,
	}
}

func (s *ReconcileService) recordWebhook(pn *PaymentNotification) string {
	eventID := uuid.New().String()

	_, err := s.db.Exec(`
		INSERT INTO webhook_events (id, provider, raw_body, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		eventID, pn.Provider, string(pn.Raw), models.WebhookReceived, time.Now())
	if err != nil {
		// The observational log must never block payment processing.
		log.Printf("[RECONCILE] Failed to record %s webhook: %v", pn.Provider, err)
	}

	return eventID
}

// RecordMalformed logs a webhook whose body could not be parsed into a
// notification. The engine never sees these, but the payload is kept so no
// inbound notification is silently lost.
func (s *ReconcileService) RecordMalformed(provider string, raw []byte) {
	_, err := s.db.Exec(`
		INSERT INTO webhook_events (id, provider, raw_body, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), provider, string(raw), models.WebhookMalformed, time.Now())
	if err != nil {
		log.Printf("[RECONCILE] Failed to record malformed %s webhook: %v", provider, err)
	}
}

func (s *ReconcileService) setWebhookStatus(eventID, status string) {
	_, err := s.db.Exec(`UPDATE webhook_events SET status = $1 WHERE id = $2`, status, eventID)
	if err != nil {
		log.Printf("[RECONCILE] Failed to update webhook %s status: %v", eventID, err)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func appendMemo(memo, note string) string {
	if memo == "" {
		return note
	}
	return memo + ", " + note
}
