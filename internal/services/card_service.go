package services

import (
	"bytes"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/spaceport/backend/internal/models"
)

// AccessCardService manages physical door cards and short-lived QR door
// passes for members between cards.
type AccessCardService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

// CardRequest represents card assignment data
// @Description Card assignment request structure
type CardRequest struct {
	MemberID   int    `json:"memberId" validate:"required,gt=0"`
	CardNumber string `json:"cardNumber" validate:"required,len=10,alphanum"`
	Notes      string `json:"notes" validate:"max=200"`
}

func NewAccessCardService(db *sql.DB, redisClient *redis.Client) *AccessCardService {
	return &AccessCardService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// AssignCard registers a door card to a member
// @Summary Assign a door card
// @Description Register a card number to a member and activate it
// @Tags cards
// @Accept json
// @Produce json
// @Param card body CardRequest true "Card assignment data"
// @Success 201 {object} models.AccessCard
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /cards [post]
func (s *AccessCardService) AssignCard(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CardRequest
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

	card := models.AccessCard{
		MemberID:   req.MemberID,
		CardNumber: req.CardNumber,
		Status:     models.CardStatusActive,
		Notes:      req.Notes,
		CreatedAt:  time.Now(),
	}

	err := s.db.QueryRow(`
		INSERT INTO access_cards (member_id, card_number, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		card.MemberID, card.CardNumber, card.Status, card.Notes, card.CreatedAt).Scan(&card.ID)
	if err != nil {
		log.Printf("[CARD] Failed to assign card %s: %v", req.CardNumber, err)
		SendErrorResponse(w, "Card number already assigned", http.StatusConflict, nil)
		return
	}

	log.Printf("[CARD] Assigned card %s to member %d", card.CardNumber, card.MemberID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(card)
}

// ListMemberCards lists a member's door cards
// @Summary List member cards
// @Description Get all door cards registered to a member
// @Tags cards
// @Produce json
// @Param memberId path int true "Member ID"
// @Success 200 {object} object{cards=[]models.AccessCard,count=int}
// @Failure 500 {object} map[string]string
// @Router /members/{memberId}/cards [get]
func (s *AccessCardService) ListMemberCards(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, member_id, card_number, status, notes, last_seen_at, created_at
		FROM access_cards
		WHERE member_id = $1
		ORDER BY created_at`, memberID)
	if err != nil {
		log.Printf("[CARD] Failed to list cards for member %d: %v", memberID, err)
		http.Error(w, "Failed to fetch cards", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	cards := []models.AccessCard{}
	for rows.Next() {
		var c models.AccessCard
		err := rows.Scan(&c.ID, &c.MemberID, &c.CardNumber, &c.Status, &c.Notes, &c.LastSeenAt, &c.CreatedAt)
		if err != nil {
			http.Error(w, "Failed to fetch cards", http.StatusInternalServerError)
			return
		}
		cards = append(cards, c)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"cards": cards,
		"count": len(cards),
	})
}

// BlockCard blocks a door card
// @Summary Block card
// @Description Block a card so the door controller rejects it
// @Tags cards
// @Produce json
// @Param cardId path int true "Card ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /cards/{cardId}/block [put]
func (s *AccessCardService) BlockCard(w http.ResponseWriter, r *http.Request) {
	s.setCardStatus(w, r, models.CardStatusBlocked)
}

// ReinstateCard reactivates a blocked door card
// @Summary Reinstate card
// @Description Reactivate a blocked card
// @Tags cards
// @Produce json
// @Param cardId path int true "Card ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /cards/{cardId}/reinstate [put]
func (s *AccessCardService) ReinstateCard(w http.ResponseWriter, r *http.Request) {
	s.setCardStatus(w, r, models.CardStatusActive)
}

func (s *AccessCardService) setCardStatus(w http.ResponseWriter, r *http.Request, status string) {
	cardID, err := strconv.Atoi(chi.URLParam(r, "cardId"))
	if err != nil {
		http.Error(w, "invalid card id", http.StatusBadRequest)
		return
	}

	result, err := s.db.Exec(`UPDATE access_cards SET status = $1 WHERE id = $2`, status, cardID)
	if err != nil {
		log.Printf("[CARD] Failed to set card %d status: %v", cardID, err)
		http.Error(w, "Failed to update card", http.StatusInternalServerError)
		return
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		http.Error(w, "Card not found", http.StatusNotFound)
		return
	}

	log.Printf("[CARD] Card %d status set to %s", cardID, status)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// GenerateDoorPass issues a short-lived QR door pass
// @Summary Generate door pass
// @Description Generate a five-minute QR pass for the front door scanner
// @Tags cards
// @Produce json
// @Param memberId path int true "Member ID"
// @Success 200 {object} object{pass=string,qrImage=string}
// @Failure 403 {object} map[string]string
// @Router /members/{memberId}/door-pass [post]
func (s *AccessCardService) GenerateDoorPass(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.Atoi(chi.URLParam(r, "memberId"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}

	// Lapsed and paused members don't get in.
	var status string
	var pausedDate sql.NullTime
	err = s.db.QueryRow(`SELECT status, paused_date FROM members WHERE id = $1`, memberID).Scan(&status, &pausedDate)
	if err != nil {
		http.Error(w, "Member not found", http.StatusNotFound)
		return
	}
	if pausedDate.Valid || status == models.StatusOverdue || status == models.StatusFormer {
		log.Printf("[CARD] Door pass denied for member %d (status %s)", memberID, status)
		http.Error(w, "Membership not in good standing", http.StatusForbidden)
		return
	}

	pass, qrImage, err := s.buildPass(r, memberID)
	if err != nil {
		log.Printf("[CARD] Failed to build door pass for member %d: %v", memberID, err)
		http.Error(w, "Failed to generate pass", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"pass":    pass,
		"qrImage": qrImage,
	})
}

// VerifyDoorPass checks a scanned pass
// @Summary Verify door pass
// @Description Validate a scanned QR pass; passes are single-use
// @Tags cards
// @Accept json
// @Produce json
// @Param request body object{pass=string} true "Scanned pass data"
// @Success 200 {object} object{memberId=int}
// @Failure 400 {object} ErrorResponse
// @Router /door/verify-pass [post]
func (s *AccessCardService) VerifyDoorPass(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pass string `json:"pass" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if s.redis == nil {
		SendErrorResponse(w, "Door passes unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	key := fmt.Sprintf("door_pass:%s", req.Pass)
	data, err := s.redis.Get(r.Context(), key).Bytes()
	if err == redis.Nil {
		SendErrorResponse(w, "Invalid or expired pass", http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to verify pass", http.StatusInternalServerError, nil)
		return
	}

	var payload struct {
		MemberID int `json:"memberId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		SendErrorResponse(w, "Invalid pass payload", http.StatusInternalServerError, nil)
		return
	}

	// Single use.
	s.redis.Del(r.Context(), key)

	log.Printf("[CARD] Door pass accepted for member %d", payload.MemberID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"memberId": payload.MemberID,
	})
}

func (s *AccessCardService) buildPass(r *http.Request, memberID int) (string, string, error) {
	if s.redis == nil {
		return "", "", fmt.Errorf("redis unavailable")
	}

	payload := map[string]any{
		"memberId": memberID,
		"issued":   time.Now().Unix(),
		"nonce":    generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	pass := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("door_pass:%s", pass)
	if err := s.redis.Set(r.Context(), key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(pass, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return pass, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
