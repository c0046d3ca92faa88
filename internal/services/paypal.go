package services

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMalformedDate is returned for a provider date string that is not the
// expected five-token format or carries an unrecognized zone abbreviation.
var ErrMalformedDate = errors.New("malformed payment date")

// PayPal sends timestamps only in Pacific time.
var paypalZones = map[string]*time.Location{
	"PST": time.FixedZone("PST", -8*60*60),
	"PDT": time.FixedZone("PDT", -7*60*60),
}

// PayPalVerifier validates IPN authenticity by echoing the exact payload back
// to PayPal with cmd=_notify-validate. The client timeout is short because
// this call sits in the webhook response path.
type PayPalVerifier struct {
	client    *http.Client
	verifyURL string
}

func NewPayPalVerifier() *PayPalVerifier {
	viper.SetDefault("paypal.verify_url", "https://ipnpb.paypal.com/cgi-bin/webscr")
	viper.SetDefault("paypal.verify_timeout", 4*time.Second)

	return &PayPalVerifier{
		client:    &http.Client{Timeout: viper.GetDuration("paypal.verify_timeout")},
		verifyURL: viper.GetString("paypal.verify_url"),
	}
}

// Verify returns true only if PayPal answers the echoed payload with the
// literal body VERIFIED. Any network failure, non-200 status or other body is
// a failed verification.
func (v *PayPalVerifier) Verify(rawBody []byte) bool {
	body := append([]byte("cmd=_notify-validate&"), rawBody...)

	resp, err := v.client.Post(v.verifyURL, "application/x-www-form-urlencoded", bytes.NewReader(body))
	if err != nil {
		log.Printf("[PAYPAL] IPN verification request failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[PAYPAL] IPN verification returned status %d", resp.StatusCode)
		return false
	}

	answer, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		log.Printf("[PAYPAL] Failed to read IPN verification response: %v", err)
		return false
	}

	if string(answer) != "VERIFIED" {
		log.Printf("[PAYPAL] IPN verification answered %q", string(answer))
		return false
	}

	return true
}

// ParsePayPalDate parses PayPal's "HH:MM:SS Mon DD, YYYY TZ" timestamps into
// UTC. An empty string means the provider omitted the field and is treated as
// now, not an error.
func ParsePayPalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}

	tokens := strings.Split(s, " ")
	if len(tokens) != 5 {
		return time.Time{}, ErrMalformedDate
	}

	zone, ok := paypalZones[tokens[4]]
	if !ok {
		return time.Time{}, ErrMalformedDate
	}

	naive := strings.Join(tokens[:4], " ")
	t, err := time.ParseInLocation("15:04:05 Jan 2, 2006", naive, zone)
	if err != nil {
		return time.Time{}, ErrMalformedDate
	}

	return t.UTC(), nil
}
