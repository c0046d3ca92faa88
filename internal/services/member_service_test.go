package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spaceport/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemberFixture(t *testing.T) (*MemberService, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMemberService(db, NewLedgerService(db)), mock
}

func TestMemberService_CreateMember(t *testing.T) {
	insertSQL := regexp.QuoteMeta(`INSERT INTO members`)

	t.Run("new member starts as a former member", func(t *testing.T) {
		svc, mock := newMemberFixture(t)

		mock.ExpectQuery(insertSQL).
			WithArgs("Tanner", "Collin", "", "tanner@example.com",
				models.StatusFormer, 55, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

		body, _ := json.Marshal(map[string]any{
			"firstName":   "Tanner",
			"lastName":    "Collin",
			"email":       "tanner@example.com",
			"monthlyFees": 55,
		})
		req := httptest.NewRequest("POST", "/members", bytes.NewReader(body))
		w := httptest.NewRecorder()

		svc.CreateMember(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var member models.Member
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &member))
		assert.Equal(t, 42, member.ID)
		assert.Equal(t, models.StatusFormer, member.Status)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects an unoffered monthly rate", func(t *testing.T) {
		svc, mock := newMemberFixture(t)

		body, _ := json.Marshal(map[string]any{
			"firstName":   "Tanner",
			"lastName":    "Collin",
			"email":       "tanner@example.com",
			"monthlyFees": 40,
		})
		req := httptest.NewRequest("POST", "/members", bytes.NewReader(body))
		w := httptest.NewRecorder()

		svc.CreateMember(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		svc, mock := newMemberFixture(t)

		req := httptest.NewRequest("POST", "/members",
			bytes.NewReader([]byte(`{"firstName":"T","lastName":"C","email":"t@example.com","monthlyFees":55,"role":"admin"}`)))
		w := httptest.NewRecorder()

		svc.CreateMember(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMemberService_PauseUnpause(t *testing.T) {
	t.Run("pause stamps paused_date once", func(t *testing.T) {
		svc, mock := newMemberFixture(t)

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE members`)).
			WithArgs(sqlmock.AnyArg(), models.StatusOverdue, 42).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := withURLParam(httptest.NewRequest("POST", "/members/42/pause", nil), "memberId", "42")
		w := httptest.NewRecorder()

		svc.PauseMember(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pausing an already paused member is a 404", func(t *testing.T) {
		svc, mock := newMemberFixture(t)

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE members`)).
			WithArgs(sqlmock.AnyArg(), models.StatusOverdue, 42).
			WillReturnResult(sqlmock.NewResult(0, 0))

		req := withURLParam(httptest.NewRequest("POST", "/members/42/pause", nil), "memberId", "42")
		w := httptest.NewRecorder()

		svc.PauseMember(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unpause restarts the membership clock", func(t *testing.T) {
		svc, mock := newMemberFixture(t)

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE members`)).
			WithArgs(sqlmock.AnyArg(), 42).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// The follow-up retally sees no credited months yet.
		start := date(2023, time.June, 1)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, first_name, last_name, preferred_name, email, status,`)).
			WithArgs(42).
			WillReturnRows(memberRows(&models.Member{
				ID: 42, Status: models.StatusCurrent, MonthlyFees: 55, CurrentStartDate: &start,
			}))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(number_of_membership_months), 0)`)).
			WithArgs(42, start).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE members`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := withURLParam(httptest.NewRequest("POST", "/members/42/unpause", nil), "memberId", "42")
		w := httptest.NewRecorder()

		svc.UnpauseMember(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
