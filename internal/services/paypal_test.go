package services

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayPalDate(t *testing.T) {
	t.Run("PST timestamp converts to UTC", func(t *testing.T) {
		got, err := ParsePayPalDate("20:12:59 Jan 13, 2009 PST")
		require.NoError(t, err)

		// PST is UTC-8, so the UTC instant lands on the next day.
		want := time.Date(2009, time.January, 14, 4, 12, 59, 0, time.UTC)
		assert.True(t, got.Equal(want), "got %s, want %s", got, want)
	})

	t.Run("PDT timestamp converts to UTC", func(t *testing.T) {
		got, err := ParsePayPalDate("10:30:00 Jul 1, 2023 PDT")
		require.NoError(t, err)

		want := time.Date(2023, time.July, 1, 17, 30, 0, 0, time.UTC)
		assert.True(t, got.Equal(want), "got %s, want %s", got, want)
	})

	t.Run("empty string means now", func(t *testing.T) {
		before := time.Now().UTC()
		got, err := ParsePayPalDate("")
		after := time.Now().UTC()

		require.NoError(t, err)
		assert.False(t, got.Before(before))
		assert.False(t, got.After(after))
	})

	t.Run("unknown zone abbreviation", func(t *testing.T) {
		_, err := ParsePayPalDate("20:12:59 Jan 13, 2009 QOT")
		assert.ErrorIs(t, err, ErrMalformedDate)
	})

	t.Run("wrong token count", func(t *testing.T) {
		_, err := ParsePayPalDate("Jan 13, 2009 PST")
		assert.ErrorIs(t, err, ErrMalformedDate)
	})

	t.Run("garbage input", func(t *testing.T) {
		_, err := ParsePayPalDate("aa:bb:cc Foo 99, 20xx PST")
		assert.ErrorIs(t, err, ErrMalformedDate)
	})
}

func TestPayPalVerifier_Verify(t *testing.T) {
	newVerifier := func(url string) *PayPalVerifier {
		return &PayPalVerifier{
			client:    &http.Client{Timeout: time.Second},
			verifyURL: url,
		}
	}

	t.Run("echoes payload with validate command prefix", func(t *testing.T) {
		var received string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			received = string(body)
			w.Write([]byte("VERIFIED"))
		}))
		defer server.Close()

		ok := newVerifier(server.URL).Verify([]byte("txn_id=TX1&payment_status=Completed"))
		assert.True(t, ok)
		assert.Equal(t, "cmd=_notify-validate&txn_id=TX1&payment_status=Completed", received)
	})

	t.Run("INVALID answer fails verification", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("INVALID"))
		}))
		defer server.Close()

		assert.False(t, newVerifier(server.URL).Verify([]byte("txn_id=TX1")))
	})

	t.Run("non-200 status fails verification", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		assert.False(t, newVerifier(server.URL).Verify([]byte("txn_id=TX1")))
	})

	t.Run("network failure fails verification", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		assert.False(t, newVerifier(server.URL).Verify([]byte("txn_id=TX1")))
	})
}

func TestParseSquareDate(t *testing.T) {
	t.Run("RFC 3339 timestamp converts to UTC", func(t *testing.T) {
		got, err := ParseSquareDate("2023-07-01T10:30:00-06:00")
		require.NoError(t, err)

		want := time.Date(2023, time.July, 1, 16, 30, 0, 0, time.UTC)
		assert.True(t, got.Equal(want))
	})

	t.Run("empty string means now", func(t *testing.T) {
		got, err := ParseSquareDate("")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), got, time.Second)
	})

	t.Run("garbage input", func(t *testing.T) {
		_, err := ParseSquareDate("July 1st")
		assert.ErrorIs(t, err, ErrMalformedDate)
	})
}
