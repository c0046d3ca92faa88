package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spaceport/backend/internal/models"
)

// ProtocoinService manages the internal currency. Every mutation reads the
// member's derived balance and writes new ledger entries, so the whole
// operation runs serializable and retries from scratch on conflict: a
// webhook-driven credit and an API-driven spend can race on the same member.
type ProtocoinService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

// TransferRequest represents a protocoin transfer payload
// @Description Protocoin transfer request structure
type TransferRequest struct {
	ToMemberID int     `json:"toMemberId" validate:"required,gt=0"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
	Memo       string  `json:"memo" validate:"max=200"`
}

// SpendRequest represents a protocoin kiosk spend payload
// @Description Protocoin spend request structure
type SpendRequest struct {
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Category string  `json:"category" validate:"required,oneof=Snacks Consumables OnAcct Other"`
	Memo     string  `json:"memo" validate:"max=200"`
}

func NewProtocoinService(db *sql.DB, ledger *LedgerService) *ProtocoinService {
	return &ProtocoinService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// Transfer moves protocoin between members: a negative entry for the sender
// and a positive one for the recipient, sharing a reference number, written
// in one serializable transaction.
func (s *ProtocoinService) Transfer(fromMemberID, toMemberID int, amount decimal.Decimal, memo string) (string, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("amount must be positive")
	}

	reference := "protocoin-" + uuid.New().String()

	err := RunSerializable(s.db, func(tx *sql.Tx) error {
		balance, err := s.ledger.ProtocoinBalanceTx(tx, fromMemberID)
		if err != nil {
			return err
		}

		if balance.LessThan(amount) {
			return fmt.Errorf("insufficient protocoin balance")
		}

		now := time.Now()
		debit := &models.Transaction{
			MemberID:        &fromMemberID,
			Date:            now,
			Amount:          amount.Neg(),
			AccountType:     models.AccountProtocoin,
			Category:        models.CategoryOther,
			Memo:            memo,
			ReferenceNumber: sql.NullString{String: reference + "-d", Valid: true},
		}
		if err := s.ledger.CreateTx(tx, debit); err != nil {
			return err
		}

		credit := &models.Transaction{
			MemberID:        &toMemberID,
			Date:            now,
			Amount:          amount,
			AccountType:     models.AccountProtocoin,
			Category:        models.CategoryOther,
			Memo:            memo,
			ReferenceNumber: sql.NullString{String: reference + "-c", Valid: true},
		}
		return s.ledger.CreateTx(tx, credit)
	})
	if err != nil {
		return "", err
	}

	log.Printf("[PROTOCOIN] Transferred %s from member %d to member %d (%s)",
		amount.String(), fromMemberID, toMemberID, reference)
	return reference, nil
}

// Spend debits a member's protocoin at a kiosk.
func (s *ProtocoinService) Spend(memberID int, amount decimal.Decimal, category, memo string) (string, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("amount must be positive")
	}

	reference := "protocoin-" + uuid.New().String()

	err := RunSerializable(s.db, func(tx *sql.Tx) error {
		balance, err := s.ledger.ProtocoinBalanceTx(tx, memberID)
		if err != nil {
			return err
		}

		if balance.LessThan(amount) {
			return fmt.Errorf("insufficient protocoin balance")
		}

		entry := &models.Transaction{
			MemberID:        &memberID,
			Date:            time.Now(),
			Amount:          amount.Neg(),
			AccountType:     models.AccountProtocoin,
			Category:        category,
			Memo:            memo,
			ReferenceNumber: sql.NullString{String: reference, Valid: true},
		}
		return s.ledger.CreateTx(tx, entry)
	})
	if err != nil {
		return "", err
	}

	log.Printf("[PROTOCOIN] Member %d spent %s on %s (%s)", memberID, amount.String(), category, reference)
	return reference, nil
}

// BalanceEnquiry returns a member's protocoin balance
// @Summary Get protocoin balance
// @Description Retrieve a member's internal currency balance from the ledger
// @Tags protocoin
// @Produce json
// @Param memberId path int true "Member ID"
// @Success 200 {object} object{memberId=int,balance=string}
// @Failure 500 {object} map[string]string
// @Router /protocoin/{memberId}/balance [get]
func (s *ProtocoinService) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	balance, err := s.ledger.ProtocoinBalance(memberID)
	if err != nil {
		log.Printf("[PROTOCOIN] Balance enquiry failed for member %d: %v", memberID, err)
		http.Error(w, "Failed to fetch balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"memberId": memberID,
		"balance":  balance.String(),
	})
}

// SendTransfer handles a member-to-member protocoin transfer
// @Summary Transfer protocoin
// @Description Send protocoin from the authenticated member to another member
// @Tags protocoin
// @Accept json
// @Produce json
// @Param transfer body TransferRequest true "Transfer data"
// @Success 200 {object} object{success=bool,reference=string}
// @Failure 400 {object} ErrorResponse
// @Router /protocoin/{memberId}/transfer [post]
func (s *ProtocoinService) SendTransfer(w http.ResponseWriter, r *http.Request) {
	fromMemberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TransferRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.ToMemberID == fromMemberID {
		http.Error(w, "Cannot transfer to same member", http.StatusBadRequest)
		return
	}

	reference, err := s.Transfer(fromMemberID, req.ToMemberID, decimal.NewFromFloat(req.Amount), req.Memo)
	if err != nil {
		log.Printf("[PROTOCOIN] Transfer failed from member %d: %v", fromMemberID, err)
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"reference": reference,
	})
}

// SendSpend handles a protocoin kiosk purchase
// @Summary Spend protocoin
// @Description Debit a member's protocoin for a kiosk purchase
// @Tags protocoin
// @Accept json
// @Produce json
// @Param spend body SpendRequest true "Spend data"
// @Success 200 {object} object{success=bool,reference=string}
// @Failure 400 {object} ErrorResponse
// @Router /protocoin/{memberId}/spend [post]
func (s *ProtocoinService) SendSpend(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req SpendRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	reference, err := s.Spend(memberID, decimal.NewFromFloat(req.Amount), req.Category, req.Memo)
	if err != nil {
		log.Printf("[PROTOCOIN] Spend failed for member %d: %v", memberID, err)
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"reference": reference,
	})
}
