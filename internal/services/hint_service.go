package services

import (
	"database/sql"
	"log"
	"time"
)

// HintService remembers which member an external payment account belongs to,
// learned whenever a payment is matched explicitly. Hints are advisory: a
// wrong hint only degrades future auto-matching.
type HintService struct {
	db *sql.DB
}

func NewHintService(db *sql.DB) *HintService {
	return &HintService{db: db}
}

// Upsert records account -> memberID, last write wins.
func (s *HintService) Upsert(account string, memberID int) error {
	if account == "" {
		return nil
	}

	_, err := s.db.Exec(`
		INSERT INTO payment_hints (account, member_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account) DO UPDATE SET member_id = $2, updated_at = $3`,
		account, memberID, time.Now())

	if err != nil {
		log.Printf("[HINT] Failed to upsert hint for account %s: %v", account, err)
		return err
	}

	log.Printf("[HINT] Learned hint: account %s -> member %d", account, memberID)
	return nil
}

// Lookup resolves an external payer account to a member id.
func (s *HintService) Lookup(account string) (int, bool, error) {
	if account == "" {
		return 0, false, nil
	}

	var memberID int
	err := s.db.QueryRow(`SELECT member_id FROM payment_hints WHERE account = $1`, account).Scan(&memberID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return memberID, true, nil
}
