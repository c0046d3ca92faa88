package services

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// SquareVerifier performs no cryptographic check. Trust is structural: the
// notification's own state, merchant, location and currency fields stand in
// for verification. This is a deliberately weaker boundary than the PayPal
// round-trip and is kept as its own implementation so the asymmetry stays
// visible.
type SquareVerifier struct {
	merchantID string
	locationID string
	currency   string
}

func NewSquareVerifier() *SquareVerifier {
	viper.SetDefault("square.currency", "CAD")

	return &SquareVerifier{
		merchantID: viper.GetString("square.merchant_id"),
		locationID: viper.GetString("square.location_id"),
		currency:   viper.GetString("square.currency"),
	}
}

// SquareNotification is the subset of Square's payment webhook the engine
// reads.
type SquareNotification struct {
	PaymentID  string `json:"payment_id"`
	State      string `json:"state"`
	MerchantID string `json:"merchant_id"`
	LocationID string `json:"location_id"`
	Currency   string `json:"currency"`
	AmountCents int64 `json:"amount_cents"`
	BuyerEmail string `json:"buyer_email"`
	BuyerID    string `json:"buyer_id"`
	Note       string `json:"note"`
	Custom     string `json:"custom"`
	CreatedAt  string `json:"created_at"`
}

// Accepts reports whether the notification's structural fields match the
// configured merchant. State and currency are rechecked by the engine's own
// pipeline steps; this covers the merchant/location identity only.
func (v *SquareVerifier) Accepts(n *SquareNotification) bool {
	if n.MerchantID != v.merchantID || n.LocationID != v.locationID {
		log.Printf("[SQUARE] Notification for unknown merchant %s / location %s", n.MerchantID, n.LocationID)
		return false
	}
	return true
}

// ParseSquareDate parses Square's RFC 3339 created_at timestamps into UTC. An
// empty string means the provider omitted the field and is treated as now.
func ParseSquareDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ErrMalformedDate
	}

	return t.UTC(), nil
}
