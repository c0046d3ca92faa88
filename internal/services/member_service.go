package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spaceport/backend/internal/models"
)

type MemberService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

// MemberRequest represents member creation/update payload
// @Description Member creation request structure
type MemberRequest struct {
	FirstName     string `json:"firstName" validate:"required,min=1" example:"Tanner"`
	LastName      string `json:"lastName" validate:"required,min=1" example:"Collin"`
	PreferredName string `json:"preferredName" validate:"max=50"`
	Email         string `json:"email" validate:"required,email" example:"member@example.com"`
	MonthlyFees   int    `json:"monthlyFees" validate:"required,oneof=35 50 55"` // legacy, regular, new-member rates
}

func NewMemberService(db *sql.DB, ledger *LedgerService) *MemberService {
	return &MemberService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// CreateMember registers a new member record
// @Summary Create a member
// @Description Create a new member; they stay a former member until first dues arrive
// @Tags members
// @Accept json
// @Produce json
// @Param member body MemberRequest true "Member data"
// @Success 201 {object} models.Member
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /members [post]
func (s *MemberService) CreateMember(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req MemberRequest
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

	member := models.Member{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		PreferredName: req.PreferredName,
		Email:         req.Email,
		Status:        models.StatusFormer,
		MonthlyFees:   req.MonthlyFees,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	err := s.db.QueryRow(`
		INSERT INTO members
		(first_name, last_name, preferred_name, email, status, monthly_fees, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		member.FirstName, member.LastName, member.PreferredName, member.Email,
		member.Status, member.MonthlyFees, member.CreatedAt, member.UpdatedAt).Scan(&member.ID)
	if err != nil {
		log.Printf("[MEMBER] Failed to create member %s: %v", req.Email, err)
		SendErrorResponse(w, "Email already registered", http.StatusConflict, nil)
		return
	}

	log.Printf("[MEMBER] Created member %d (%s)", member.ID, member.Email)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(member)
}

// GetMember retrieves a member by id
// @Summary Get member
// @Description Retrieve a member record by ID
// @Tags members
// @Produce json
// @Param memberId path int true "Member ID"
// @Success 200 {object} models.Member
// @Failure 404 {object} map[string]string
// @Router /members/{memberId} [get]
func (s *MemberService) GetMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	member, err := s.fetchMember(memberID)
	if err != nil {
		if err == sql.ErrNoRows {
			http.Error(w, "Member not found", http.StatusNotFound)
		} else {
			log.Printf("[MEMBER] Failed to fetch member %d: %v", memberID, err)
			http.Error(w, "Failed to fetch member", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(member)
}

// ListMembers lists members with optional name prefix search
// @Summary List members
// @Description Get members, optionally filtered by a name/email prefix
// @Tags members
// @Produce json
// @Param q query string false "Name or email prefix"
// @Param status query string false "Filter by status"
// @Success 200 {object} object{members=[]models.Member,count=int}
// @Failure 500 {object} map[string]string
// @Router /members [get]
func (s *MemberService) ListMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	status := r.URL.Query().Get("status")

	query := `
		SELECT id, user_id, first_name, last_name, preferred_name, email, status,
		       monthly_fees, current_start_date, expire_date, paused_date,
		       created_at, updated_at
		FROM members`
	args := []any{}
	argIndex := 1

	conditions := []string{}
	if q != "" {
		conditions = append(conditions,
			"(first_name ILIKE $"+strconv.Itoa(argIndex)+
				" OR last_name ILIKE $"+strconv.Itoa(argIndex)+
				" OR preferred_name ILIKE $"+strconv.Itoa(argIndex)+
				" OR email ILIKE $"+strconv.Itoa(argIndex)+")")
		args = append(args, q+"%")
		argIndex++
	}
	if status != "" {
		conditions = append(conditions, "status = $"+strconv.Itoa(argIndex))
		args = append(args, status)
		argIndex++
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY last_name, first_name LIMIT 100"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[MEMBER] Failed to list members: %v", err)
		http.Error(w, "Failed to fetch members", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	members := []models.Member{}
	for rows.Next() {
		var m models.Member
		err := rows.Scan(
			&m.ID, &m.UserID, &m.FirstName, &m.LastName, &m.PreferredName,
			&m.Email, &m.Status, &m.MonthlyFees, &m.CurrentStartDate,
			&m.ExpireDate, &m.PausedDate, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			log.Printf("[MEMBER] Failed to scan member row: %v", err)
			http.Error(w, "Failed to fetch members", http.StatusInternalServerError)
			return
		}
		members = append(members, m)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"members": members,
		"count":   len(members),
	})
}

// PauseMember pauses a membership
// @Summary Pause member
// @Description Pause a membership as of today; paused members are skipped by the tally
// @Tags members
// @Produce json
// @Param memberId path int true "Member ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /members/{memberId}/pause [post]
func (s *MemberService) PauseMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	result, err := s.db.Exec(`
		UPDATE members
		SET paused_date = $1, status = $2, updated_at = $1
		WHERE id = $3 AND paused_date IS NULL`,
		time.Now(), models.StatusOverdue, memberID)
	if err != nil {
		log.Printf("[MEMBER] Failed to pause member %d: %v", memberID, err)
		http.Error(w, "Failed to pause member", http.StatusInternalServerError)
		return
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		http.Error(w, "Member not found or already paused", http.StatusNotFound)
		return
	}

	log.Printf("[MEMBER] Paused member %d", memberID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "paused"})
}

// UnpauseMember resumes a paused membership
// @Summary Unpause member
// @Description Resume a paused membership; the membership clock restarts today
// @Tags members
// @Produce json
// @Param memberId path int true "Member ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /members/{memberId}/unpause [post]
func (s *MemberService) UnpauseMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	// Restarting the clock today means old ledger months no longer count
	// toward the new period.
	result, err := s.db.Exec(`
		UPDATE members
		SET paused_date = NULL, current_start_date = $1, updated_at = $1
		WHERE id = $2 AND paused_date IS NOT NULL`,
		time.Now(), memberID)
	if err != nil {
		log.Printf("[MEMBER] Failed to unpause member %d: %v", memberID, err)
		http.Error(w, "Failed to unpause member", http.StatusInternalServerError)
		return
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		http.Error(w, "Member not found or not paused", http.StatusNotFound)
		return
	}

	if err := s.Retally(memberID, time.Now()); err != nil {
		log.Printf("[MEMBER] Retally after unpause failed for member %d: %v", memberID, err)
	}

	log.Printf("[MEMBER] Unpaused member %d", memberID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "unpaused"})
}

// RetallyMember recomputes a member's status from the ledger
// @Summary Retally member
// @Description Recompute a member's paid-through date and status from the ledger
// @Tags members
// @Produce json
// @Param memberId path int true "Member ID"
// @Success 200 {object} models.Member
// @Failure 404 {object} map[string]string
// @Router /members/{memberId}/retally [post]
func (s *MemberService) RetallyMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	if err := s.Retally(memberID, time.Now()); err != nil {
		if err == sql.ErrNoRows {
			http.Error(w, "Member not found", http.StatusNotFound)
		} else {
			log.Printf("[MEMBER] Retally failed for member %d: %v", memberID, err)
			http.Error(w, "Failed to retally member", http.StatusInternalServerError)
		}
		return
	}

	member, err := s.fetchMember(memberID)
	if err != nil {
		http.Error(w, "Failed to fetch member", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(member)
}
