package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/spaceport/backend/internal/models"
)

const maxSerializableRetries = 10

// LedgerService owns the append-only transaction ledger. Reference numbers
// (provider transaction ids) are unique among non-null values; that
// constraint is the webhook deduplication contract.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// ReferenceExists reports whether a provider transaction id is already in the
// ledger.
func (s *LedgerService) ReferenceExists(reference string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM transactions WHERE reference_number = $1
		)`, reference).Scan(&exists)
	return exists, err
}

// Create inserts a ledger entry and fills in its id and created time.
func (s *LedgerService) Create(tx *models.Transaction) error {
	return s.createWith(s.db, tx)
}

// CreateTx inserts a ledger entry inside an open database transaction.
func (s *LedgerService) CreateTx(dbTx *sql.Tx, tx *models.Transaction) error {
	return s.createWith(dbTx, tx)
}

type execer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (s *LedgerService) createWith(q execer, tx *models.Transaction) error {
	tx.CreatedAt = time.Now()
	if tx.Date.IsZero() {
		tx.Date = tx.CreatedAt
	}

	err := q.QueryRow(`
		INSERT INTO transactions
		(member_id, date, amount, account_type, category, memo, reference_number,
		 report, report_type, number_of_membership_months, payer_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		tx.MemberID, tx.Date, tx.Amount, tx.AccountType, tx.Category, tx.Memo,
		tx.ReferenceNumber, tx.Report, tx.ReportType, tx.MembershipMonths,
		tx.PayerName, tx.CreatedAt).Scan(&tx.ID)

	if err != nil {
		log.Printf("[LEDGER] Failed to create entry (ref %s): %v", tx.ReferenceNumber.String, err)
		return err
	}

	return nil
}

// MonthsSince sums membership-month credits for a member dated on or after
// start. Used by the tally.
func (s *LedgerService) MonthsSince(memberID int, start time.Time) (int, error) {
	var months int
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(number_of_membership_months), 0)
		FROM transactions
		WHERE member_id = $1 AND date >= $2`, memberID, start).Scan(&months)
	return months, err
}

// ProtocoinBalance sums a member's internal-currency entries.
func (s *LedgerService) ProtocoinBalance(memberID int) (decimal.Decimal, error) {
	return s.protocoinBalanceWith(s.db, memberID)
}

// ProtocoinBalanceTx reads the balance inside an open transaction so the
// read-then-write spend path sees a consistent snapshot.
func (s *LedgerService) ProtocoinBalanceTx(dbTx *sql.Tx, memberID int) (decimal.Decimal, error) {
	return s.protocoinBalanceWith(dbTx, memberID)
}

func (s *LedgerService) protocoinBalanceWith(q execer, memberID int) (decimal.Decimal, error) {
	var balance string
	err := q.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)::text
		FROM transactions
		WHERE member_id = $1 AND account_type = $2`,
		memberID, models.AccountProtocoin).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

// MemberTransactions returns a member's ledger entries, newest first.
func (s *LedgerService) MemberTransactions(memberID, limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, member_id, date, amount::text, account_type, category, memo,
		       reference_number, report, report_type, number_of_membership_months,
		       payer_name, created_at
		FROM transactions
		WHERE member_id = $1
		ORDER BY date DESC, id DESC
		LIMIT $2`, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ReportedTransactions returns entries flagged for manual review, newest
// first.
func (s *LedgerService) ReportedTransactions(limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, member_id, date, amount::text, account_type, category, memo,
		       reference_number, report, report_type, number_of_membership_months,
		       payer_name, created_at
		FROM transactions
		WHERE report = true
		ORDER BY date DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// SummaryLine is one account/category bucket of a monthly report.
type SummaryLine struct {
	AccountType string          `json:"account_type"`
	Category    string          `json:"category"`
	Total       decimal.Decimal `json:"total"`
	Count       int             `json:"count"`
}

// MonthlySummary totals ledger entries per account and category for the
// calendar month containing the given date.
func (s *LedgerService) MonthlySummary(month time.Time) ([]SummaryLine, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := s.db.Query(`
		SELECT account_type, category, COALESCE(SUM(amount), 0)::text, COUNT(*)
		FROM transactions
		WHERE date >= $1 AND date < $2
		GROUP BY account_type, category
		ORDER BY account_type, category`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []SummaryLine{}
	for rows.Next() {
		var line SummaryLine
		var totalStr string
		if err := rows.Scan(&line.AccountType, &line.Category, &totalStr, &line.Count); err != nil {
			return nil, err
		}
		total, err := decimal.NewFromString(totalStr)
		if err != nil {
			return nil, err
		}
		line.Total = total
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		var amountStr string
		err := rows.Scan(
			&tx.ID, &tx.MemberID, &tx.Date, &amountStr, &tx.AccountType,
			&tx.Category, &tx.Memo, &tx.ReferenceNumber, &tx.Report,
			&tx.ReportType, &tx.MembershipMonths, &tx.PayerName, &tx.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, err
		}
		tx.Amount = amount
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// RunSerializable executes fn inside a serializable transaction, retrying
// from scratch on a detected serialization conflict (Postgres SQLSTATE
// 40001). Retries are a loop, never recursion.
func RunSerializable(db *sql.DB, fn func(tx *sql.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := runOnce(db, fn)
		if err == nil {
			return nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "40001" && attempt < maxSerializableRetries {
			log.Printf("[LEDGER] Serialization conflict, retrying (attempt %d): %v", attempt, err)
			time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
			continue
		}

		return err
	}
}

func runOnce(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(context.Background(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// ListMemberTransactions returns a member's ledger, newest first
// @Summary List member transactions
// @Description Get a member's ledger entries with optional limit
// @Tags ledger
// @Produce json
// @Param memberId path int true "Member ID"
// @Param limit query int false "Number of entries to return (default: 50)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 500 {object} map[string]string
// @Router /members/{memberId}/transactions [get]
func (s *LedgerService) ListMemberTransactions(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	transactions, err := s.MemberTransactions(memberID, limit)
	if err != nil {
		log.Printf("[LEDGER] Failed to fetch transactions for member %d: %v", memberID, err)
		http.Error(w, "Failed to fetch transactions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetMonthlySummary reports per-account, per-category totals for one month
// @Summary Monthly ledger summary
// @Description Totals per account type and category for a calendar month
// @Tags ledger
// @Produce json
// @Param month query string false "Month in YYYY-MM format (default: current month)"
// @Success 200 {object} object{month=string,lines=[]services.SummaryLine}
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /transactions/summary [get]
func (s *LedgerService) GetMonthlySummary(w http.ResponseWriter, r *http.Request) {
	month := time.Now().UTC()
	if monthStr := r.URL.Query().Get("month"); monthStr != "" {
		parsed, err := time.Parse("2006-01", monthStr)
		if err != nil {
			http.Error(w, "invalid month, expected YYYY-MM", http.StatusBadRequest)
			return
		}
		month = parsed
	}

	lines, err := s.MonthlySummary(month)
	if err != nil {
		log.Printf("[LEDGER] Failed to build summary for %s: %v", month.Format("2006-01"), err)
		http.Error(w, "Failed to build summary", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"month": month.Format("2006-01"),
		"lines": lines,
	})
}

// ListReported returns ledger entries flagged for manual review
// @Summary List reported transactions
// @Description Get accepted-but-unresolved payments queued for follow-up
// @Tags ledger
// @Produce json
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 500 {object} map[string]string
// @Router /transactions/reported [get]
func (s *LedgerService) ListReported(w http.ResponseWriter, r *http.Request) {
	transactions, err := s.ReportedTransactions(100)
	if err != nil {
		log.Printf("[LEDGER] Failed to fetch reported transactions: %v", err)
		http.Error(w, "Failed to fetch transactions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}
