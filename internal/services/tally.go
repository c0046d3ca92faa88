package services

import (
	"log"
	"time"

	"github.com/spaceport/backend/internal/models"
)

// pauseAfterMonths is how many whole calendar months a member can be overdue
// before they are automatically paused.
const pauseAfterMonths = 3

// Retally recomputes a member's expiry date and status from the ledger as of
// asOf. Paused members and members with no recorded start date are valid,
// common states: the tally returns without touching them.
func (s *MemberService) Retally(memberID int, asOf time.Time) error {
	member, err := s.fetchMember(memberID)
	if err != nil {
		return err
	}

	if member.PausedDate != nil {
		log.Printf("[TALLY] Member %d is paused, skipping", memberID)
		return nil
	}
	if member.CurrentStartDate == nil {
		log.Printf("[TALLY] Member %d has no start date, skipping", memberID)
		return nil
	}

	months, err := s.ledger.MonthsSince(memberID, *member.CurrentStartDate)
	if err != nil {
		return err
	}

	expiry := addMonths(*member.CurrentStartDate, months)
	status, pause := classifyStatus(expiry, asOf)

	if pause {
		log.Printf("[TALLY] Member %d is %d+ months overdue, pausing as of %s",
			memberID, pauseAfterMonths, expiry.Format("2006-01-02"))
		_, err = s.db.Exec(`
			UPDATE members
			SET expire_date = $1, status = $2, paused_date = $1, updated_at = $3
			WHERE id = $4`,
			expiry, status, time.Now(), memberID)
	} else {
		_, err = s.db.Exec(`
			UPDATE members
			SET expire_date = $1, status = $2, updated_at = $3
			WHERE id = $4`,
			expiry, status, time.Now(), memberID)
	}

	if err != nil {
		log.Printf("[TALLY] Failed to persist tally for member %d: %v", memberID, err)
		return err
	}

	log.Printf("[TALLY] Member %d: %d months credited, expires %s, status %s",
		memberID, months, expiry.Format("2006-01-02"), status)
	return nil
}

// classifyStatus maps the gap between expiry and asOf onto a status band.
// The second return value is true when the member should be auto-paused.
func classifyStatus(expiry, asOf time.Time) (string, bool) {
	days := daysBetween(asOf, expiry)

	switch {
	case days > 29:
		return models.StatusPrepaid, false
	case days >= 0:
		return models.StatusCurrent, false
	case days >= -29:
		return models.StatusDue, false
	}

	if wholeMonthsBetween(expiry, asOf) >= pauseAfterMonths {
		return models.StatusOverdue, true
	}
	return models.StatusOverdue, false
}

// daysBetween counts whole days from a to b, negative when b is before a.
func daysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// addMonths adds n calendar months, clamping the day to the end of the target
// month (Jan 31 + 1 month = Feb 28).
func addMonths(t time.Time, n int) time.Time {
	year := t.Year()
	month := int(t.Month()) + n
	for month > 12 {
		month -= 12
		year++
	}
	for month < 1 {
		month += 12
		year--
	}

	day := t.Day()
	if last := daysInMonth(year, time.Month(month)); day > last {
		day = last
	}

	return time.Date(year, time.Month(month), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// wholeMonthsBetween returns the signed count of complete calendar months
// from a to b, day-clamped so Jan 31 -> Feb 28 counts as one month.
func wholeMonthsBetween(a, b time.Time) int {
	if b.Before(a) {
		return -wholeMonthsBetween(b, a)
	}

	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if months > 0 && addMonths(a, months).After(b) {
		months--
	}
	return months
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (s *MemberService) fetchMember(memberID int) (*models.Member, error) {
	member := &models.Member{}
	err := s.db.QueryRow(`
		SELECT id, user_id, first_name, last_name, preferred_name, email, status,
		       monthly_fees, current_start_date, expire_date, paused_date,
		       created_at, updated_at
		FROM members
		WHERE id = $1`, memberID).Scan(
		&member.ID, &member.UserID, &member.FirstName, &member.LastName,
		&member.PreferredName, &member.Email, &member.Status, &member.MonthlyFees,
		&member.CurrentStartDate, &member.ExpireDate, &member.PausedDate,
		&member.CreatedAt, &member.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return member, nil
}
