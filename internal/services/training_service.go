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
	"github.com/shopspring/decimal"
	"github.com/spaceport/backend/internal/models"
)

type TrainingService struct {
	db        *sql.DB
	validator *ValidationHelper
}

// RegistrationRequest represents a training registration payload
// @Description Training registration request structure
type RegistrationRequest struct {
	SessionID int `json:"sessionId" validate:"required,gt=0"`
	MemberID  int `json:"memberId" validate:"required,gt=0"`
}

// AttendanceRequest updates a registration's attendance status
// @Description Attendance update request structure
type AttendanceRequest struct {
	Status string `json:"status" validate:"required,oneof='Waiting for payment' Confirmed Attended No-show Withdrawn Rescheduled"`
}

func NewTrainingService(db *sql.DB) *TrainingService {
	return &TrainingService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// MarkPaid confirms a pending registration against a payment. The
// registration must exist and be awaiting payment, its session must not be
// cancelled, and the session cost must exactly equal the paid amount.
func (s *TrainingService) MarkPaid(regID int, amount decimal.Decimal, paidAt time.Time) (*models.TrainingRegistration, *models.Session, error) {
	reg := &models.TrainingRegistration{}
	session := &models.Session{}
	var costStr string

	err := s.db.QueryRow(`
		SELECT r.id, r.session_id, r.member_id, r.attendance_status, r.paid_date, r.created_at,
		       s.id, s.course_name, s.cost::text, s.datetime, s.is_cancelled
		FROM training_registrations r
		JOIN sessions s ON r.session_id = s.id
		WHERE r.id = $1`, regID).Scan(
		&reg.ID, &reg.SessionID, &reg.MemberID, &reg.Status, &reg.PaidDate, &reg.CreatedAt,
		&session.ID, &session.CourseName, &costStr, &session.Datetime, &session.IsCancelled,
	)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("registration %d not found", regID)
	}
	if err != nil {
		return nil, nil, err
	}

	cost, err := decimal.NewFromString(costStr)
	if err != nil {
		return nil, nil, err
	}
	session.Cost = cost

	if reg.Status != models.AttendanceWaiting {
		return nil, nil, fmt.Errorf("registration %d is %q, not awaiting payment", regID, reg.Status)
	}
	if session.IsCancelled {
		return nil, nil, fmt.Errorf("session %d is cancelled", session.ID)
	}
	if !session.Cost.Equal(amount) {
		return nil, nil, fmt.Errorf("payment %s does not match session cost %s", amount.String(), session.Cost.String())
	}

	_, err = s.db.Exec(`
		UPDATE training_registrations
		SET attendance_status = $1, paid_date = $2
		WHERE id = $3`,
		models.AttendanceConfirmed, paidAt, regID)
	if err != nil {
		return nil, nil, err
	}

	reg.Status = models.AttendanceConfirmed
	reg.PaidDate = &paidAt

	log.Printf("[TRAINING] Registration %d confirmed paid for session %d", regID, session.ID)
	return reg, session, nil
}

// CreateRegistration signs a member up to a session
// @Summary Register for a session
// @Description Create a training registration in the waiting-for-payment state
// @Tags training
// @Accept json
// @Produce json
// @Param registration body RegistrationRequest true "Registration data"
// @Success 201 {object} models.TrainingRegistration
// @Failure 400 {object} ErrorResponse
// @Router /training/registrations [post]
func (s *TrainingService) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RegistrationRequest
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

	var cancelled bool
	err := s.db.QueryRow(`SELECT is_cancelled FROM sessions WHERE id = $1`, req.SessionID).Scan(&cancelled)
	if err != nil {
		SendErrorResponse(w, "Session not found", http.StatusNotFound, nil)
		return
	}
	if cancelled {
		SendErrorResponse(w, "Session is cancelled", http.StatusBadRequest, nil)
		return
	}

	reg := models.TrainingRegistration{
		SessionID: req.SessionID,
		MemberID:  req.MemberID,
		Status:    models.AttendanceWaiting,
		CreatedAt: time.Now(),
	}

	err = s.db.QueryRow(`
		INSERT INTO training_registrations (session_id, member_id, attendance_status, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		reg.SessionID, reg.MemberID, reg.Status, reg.CreatedAt).Scan(&reg.ID)
	if err != nil {
		log.Printf("[TRAINING] Failed to create registration: %v", err)
		SendErrorResponse(w, "Failed to create registration", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRAINING] Member %d registered for session %d (registration %d)",
		req.MemberID, req.SessionID, reg.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(reg)
}

// ListSessionRegistrations lists registrations for one session
// @Summary List session registrations
// @Description Get all registrations for a session
// @Tags training
// @Produce json
// @Param sessionId path int true "Session ID"
// @Success 200 {object} object{registrations=[]models.TrainingRegistration,count=int}
// @Failure 500 {object} map[string]string
// @Router /training/sessions/{sessionId}/registrations [get]
func (s *TrainingService) ListSessionRegistrations(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.Atoi(chi.URLParam(r, "sessionId"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, member_id, attendance_status, paid_date, created_at
		FROM training_registrations
		WHERE session_id = $1
		ORDER BY created_at`, sessionID)
	if err != nil {
		log.Printf("[TRAINING] Failed to list registrations for session %d: %v", sessionID, err)
		http.Error(w, "Failed to fetch registrations", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	registrations := []models.TrainingRegistration{}
	for rows.Next() {
		var reg models.TrainingRegistration
		err := rows.Scan(&reg.ID, &reg.SessionID, &reg.MemberID, &reg.Status, &reg.PaidDate, &reg.CreatedAt)
		if err != nil {
			http.Error(w, "Failed to fetch registrations", http.StatusInternalServerError)
			return
		}
		registrations = append(registrations, reg)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"registrations": registrations,
		"count":         len(registrations),
	})
}

// UpdateAttendance sets a registration's attendance status
// @Summary Update attendance
// @Description Set the attendance status on a registration
// @Tags training
// @Accept json
// @Produce json
// @Param registrationId path int true "Registration ID"
// @Param attendance body AttendanceRequest true "Attendance data"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /training/registrations/{registrationId}/attendance [put]
func (s *TrainingService) UpdateAttendance(w http.ResponseWriter, r *http.Request) {
	regID, err := strconv.Atoi(chi.URLParam(r, "registrationId"))
	if err != nil {
		http.Error(w, "invalid registration id", http.StatusBadRequest)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req AttendanceRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.db.Exec(`
		UPDATE training_registrations SET attendance_status = $1 WHERE id = $2`,
		req.Status, regID)
	if err != nil {
		log.Printf("[TRAINING] Failed to update attendance for registration %d: %v", regID, err)
		http.Error(w, "Failed to update attendance", http.StatusInternalServerError)
		return
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		http.Error(w, "Registration not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": req.Status})
}
