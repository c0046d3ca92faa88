package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spaceport/backend/internal/models"
	"github.com/spaceport/backend/internal/services"
)

const maxWebhookBody = 1_048_576 // 1 MB

// WebhookHandler receives provider payment notifications and feeds them to
// the reconciliation engine. Rejected-by-design outcomes answer 200 so the
// provider stops retrying; only infrastructure failures answer 500.
type WebhookHandler struct {
	reconcile *services.ReconcileService
}

func NewWebhookHandler(reconcile *services.ReconcileService) *WebhookHandler {
	return &WebhookHandler{reconcile: reconcile}
}

// HandlePayPal processes a PayPal IPN notification
// @Summary PayPal IPN webhook
// @Description Receive a PayPal Instant Payment Notification and reconcile it against the ledger
// @Tags webhooks
// @Accept x-www-form-urlencoded
// @Produce json
// @Success 200 {object} map[string]string "Notification processed or rejected"
// @Failure 400 {string} string "Unreadable notification"
// @Failure 500 {string} string "Internal server error"
// @Router /webhooks/paypal [post]
func (h *WebhookHandler) HandlePayPal(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		log.Printf("[WEBHOOK] Failed to read PayPal IPN body: %v", err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	values, err := url.ParseQuery(string(raw))
	if err != nil {
		log.Printf("[WEBHOOK] Failed to parse PayPal IPN body: %v", err)
		h.reconcile.RecordMalformed(models.AccountPayPal, raw)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	date, err := services.ParsePayPalDate(values.Get("payment_date"))
	if err != nil {
		log.Printf("[WEBHOOK] PayPal IPN has malformed payment_date %q", values.Get("payment_date"))
		h.reconcile.RecordMalformed(models.AccountPayPal, raw)
		http.Error(w, "Malformed payment date", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(values.Get("mc_gross"))
	if err != nil {
		log.Printf("[WEBHOOK] PayPal IPN has malformed mc_gross %q", values.Get("mc_gross"))
		h.reconcile.RecordMalformed(models.AccountPayPal, raw)
		http.Error(w, "Malformed amount", http.StatusBadRequest)
		return
	}

	note := values.Get("memo")
	if note == "" {
		note = values.Get("note")
	}

	pn := &services.PaymentNotification{
		Provider:     models.AccountPayPal,
		Raw:          raw,
		Status:       values.Get("payment_status"),
		Receiver:     values.Get("receiver_email"),
		Currency:     values.Get("mc_currency"),
		Amount:       amount,
		TxnID:        values.Get("txn_id"),
		PayerAccount: values.Get("payer_id"),
		PayerName:    strings.TrimSpace(values.Get("first_name") + " " + values.Get("last_name")),
		PayerEmail:   values.Get("payer_email"),
		Note:         note,
		Custom:       values.Get("custom"),
		Date:         date,
	}

	h.respond(w, pn)
}

// HandleSquare processes a Square payment notification
// @Summary Square payment webhook
// @Description Receive a Square payment notification and reconcile it against the ledger
// @Tags webhooks
// @Accept json
// @Produce json
// @Param request body services.SquareNotification true "Square payment notification"
// @Success 200 {object} map[string]string "Notification processed or rejected"
// @Failure 400 {string} string "Unreadable notification"
// @Failure 500 {string} string "Internal server error"
// @Router /webhooks/square [post]
func (h *WebhookHandler) HandleSquare(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		log.Printf("[WEBHOOK] Failed to read Square webhook body: %v", err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	var n services.SquareNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		log.Printf("[WEBHOOK] Failed to parse Square webhook body: %v", err)
		h.reconcile.RecordMalformed(models.AccountSquare, raw)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	date, err := services.ParseSquareDate(n.CreatedAt)
	if err != nil {
		log.Printf("[WEBHOOK] Square webhook has malformed created_at %q", n.CreatedAt)
		h.reconcile.RecordMalformed(models.AccountSquare, raw)
		http.Error(w, "Malformed payment date", http.StatusBadRequest)
		return
	}

	pn := &services.PaymentNotification{
		Provider:     models.AccountSquare,
		Raw:          raw,
		Status:       n.State,
		Receiver:     n.MerchantID,
		Currency:     n.Currency,
		Amount:       decimal.New(n.AmountCents, -2),
		TxnID:        n.PaymentID,
		PayerAccount: n.BuyerID,
		PayerEmail:   n.BuyerEmail,
		Note:         n.Note,
		Custom:       n.Custom,
		Date:         date,
	}

	h.respond(w, pn)
}

func (h *WebhookHandler) respond(w http.ResponseWriter, pn *services.PaymentNotification) {
	tx, err := h.reconcile.Process(pn)

	w.Header().Set("Content-Type", "application/json")

	var rejection *services.Rejection
	if errors.As(err, &rejection) {
		json.NewEncoder(w).Encode(map[string]string{
			"status": "rejected",
			"reason": rejection.Reason,
		})
		return
	}
	if err != nil {
		log.Printf("[WEBHOOK] Processing %s payment %s failed: %v", pn.Provider, pn.TxnID, err)
		http.Error(w, "Failed to process notification", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"status":   "processed",
		"entry_id": tx.ID,
	})
}
