package services

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/spaceport/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	insertWebhookSQL = regexp.QuoteMeta(`INSERT INTO webhook_events`)
	updateWebhookSQL = regexp.QuoteMeta(`UPDATE webhook_events SET status = $1 WHERE id = $2`)
	hintLookupSQL    = regexp.QuoteMeta(`SELECT member_id FROM payment_hints WHERE account = $1`)
	hintUpsertSQL    = regexp.QuoteMeta(`INSERT INTO payment_hints`)
	selectMemberSQL  = regexp.QuoteMeta(`SELECT id, user_id, first_name, last_name, preferred_name, email, status,`)
	sumMonthsSQL     = regexp.QuoteMeta(`SELECT COALESCE(SUM(number_of_membership_months), 0)`)
	updateMembersSQL = regexp.QuoteMeta(`UPDATE members`)
)

func newReconcileFixture(t *testing.T, verifyOK bool) (*ReconcileService, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger := NewLedgerService(db)
	svc := NewReconcileService(db,
		ledger,
		NewHintService(db),
		NewMemberService(db, ledger),
		NewTrainingService(db),
		NewAlertService(nil),
		map[string]ProviderConfig{
			models.AccountPayPal: {
				CompletedStatus: "Completed",
				Receiver:        "space@example.com",
				Currency:        "CAD",
				Verify:          func(pn *PaymentNotification) bool { return verifyOK },
			},
		})
	return svc, mock
}

func paypalNotification(amount string) *PaymentNotification {
	return &PaymentNotification{
		Provider:     models.AccountPayPal,
		Raw:          []byte("txn_id=TXN001"),
		Status:       "Completed",
		Receiver:     "space@example.com",
		Currency:     "CAD",
		Amount:       decimal.RequireFromString(amount),
		TxnID:        "TXN001",
		PayerAccount: "PAYER123",
		PayerName:    "Tanner Collin",
		PayerEmail:   "tanner@example.com",
		Date:         time.Date(2023, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
}

func expectWebhookRecorded(mock sqlmock.Sqlmock) {
	mock.ExpectExec(insertWebhookSQL).
		WithArgs(sqlmock.AnyArg(), models.AccountPayPal, sqlmock.AnyArg(), models.WebhookReceived, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func expectWebhookStatus(mock sqlmock.Sqlmock, status string) {
	mock.ExpectExec(updateWebhookSQL).
		WithArgs(status, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func assertRejected(t *testing.T, err error, reason string) {
	t.Helper()
	var rejection *Rejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, reason, rejection.Reason)
}

func TestReconcileService_Rejections(t *testing.T) {
	t.Run("failed verification", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, false)
		expectWebhookRecorded(mock)
		expectWebhookStatus(mock, models.WebhookVerificationFailed)

		_, err := svc.Process(paypalNotification("55"))
		assertRejected(t, err, "Verification Failed")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown provider", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("55")
		pn.Provider = "Stripe"

		mock.ExpectExec(insertWebhookSQL).
			WithArgs(sqlmock.AnyArg(), "Stripe", sqlmock.AnyArg(), models.WebhookReceived, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectWebhookStatus(mock, models.WebhookVerificationFailed)

		_, err := svc.Process(pn)
		assertRejected(t, err, "Verification Failed")
	})

	t.Run("incomplete payment", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("55")
		pn.Status = "Pending"

		expectWebhookRecorded(mock)
		expectWebhookStatus(mock, models.WebhookPaymentIncomplete)

		_, err := svc.Process(pn)
		assertRejected(t, err, "Payment Incomplete")
	})

	t.Run("wrong receiver", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("55")
		pn.Receiver = "attacker@example.com"

		expectWebhookRecorded(mock)
		expectWebhookStatus(mock, models.WebhookInvalidReceiver)

		_, err := svc.Process(pn)
		assertRejected(t, err, "Invalid Receiver")
	})

	t.Run("wrong currency", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("55")
		pn.Currency = "USD"

		expectWebhookRecorded(mock)
		expectWebhookStatus(mock, models.WebhookInvalidCurrency)

		_, err := svc.Process(pn)
		assertRejected(t, err, "Invalid Currency")
	})

	t.Run("missing transaction id", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("55")
		pn.TxnID = ""

		expectWebhookRecorded(mock)
		expectWebhookStatus(mock, models.WebhookMissingID)

		_, err := svc.Process(pn)
		assertRejected(t, err, "Missing ID")
	})

	t.Run("replayed webhook is a duplicate", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		expectWebhookStatus(mock, models.WebhookDuplicate)

		_, err := svc.Process(paypalNotification("55"))
		assertRejected(t, err, "Duplicate")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReconcileService_MembershipDues(t *testing.T) {
	memberWithFees := func(fees int) *sqlmock.Rows {
		start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
		return memberRows(&models.Member{
			ID: 42, FirstName: "Tanner", LastName: "Collin",
			Status: models.StatusCurrent, MonthlyFees: fees, CurrentStartDate: &start,
		})
	}

	expectDuesTail := func(mock sqlmock.Sqlmock, months int) {
		// Ledger entry, then the retally reads and writes the member row.
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
		mock.ExpectQuery(selectMemberSQL).WithArgs(42).WillReturnRows(memberWithFees(55))
		mock.ExpectQuery(sumMonthsSQL).
			WithArgs(42, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(months))
		mock.ExpectExec(updateMembersSQL).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectWebhookStatus(mock, models.WebhookMembershipDues)
	}

	t.Run("exact multiple of the rate buys that many months", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(hintLookupSQL).
			WithArgs("PAYER123").
			WillReturnRows(sqlmock.NewRows([]string{"member_id"}).AddRow(42))
		mock.ExpectQuery(selectMemberSQL).WithArgs(42).WillReturnRows(memberWithFees(55))
		expectDuesTail(mock, 2)

		tx, err := svc.Process(paypalNotification("110"))
		require.NoError(t, err)
		assert.Equal(t, models.CategoryMembership, tx.Category)
		assert.Equal(t, 2, tx.MembershipMonths)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("11 months with the annual deal credits 12", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("605") // 11 x 55
		pn.Custom = `{"deal": 12}`

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(hintLookupSQL).
			WithArgs("PAYER123").
			WillReturnRows(sqlmock.NewRows([]string{"member_id"}).AddRow(42))
		mock.ExpectQuery(selectMemberSQL).WithArgs(42).WillReturnRows(memberWithFees(55))
		expectDuesTail(mock, 12)

		tx, err := svc.Process(pn)
		require.NoError(t, err)
		assert.Equal(t, 12, tx.MembershipMonths)
		assert.Contains(t, tx.Memo, "12 for 11 deal")
	})

	t.Run("2 months with the quarterly deal credits 3", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("110") // 2 x 55
		pn.Custom = `{"deal": 3}`

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(hintLookupSQL).
			WithArgs("PAYER123").
			WillReturnRows(sqlmock.NewRows([]string{"member_id"}).AddRow(42))
		mock.ExpectQuery(selectMemberSQL).WithArgs(42).WillReturnRows(memberWithFees(55))
		expectDuesTail(mock, 3)

		tx, err := svc.Process(pn)
		require.NoError(t, err)
		assert.Equal(t, 3, tx.MembershipMonths)
		assert.Contains(t, tx.Memo, "3 for 2 deal")
	})

	t.Run("non-multiple amount is an unmatched purchase", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(hintLookupSQL).
			WithArgs("PAYER123").
			WillReturnRows(sqlmock.NewRows([]string{"member_id"}).AddRow(42))
		mock.ExpectQuery(selectMemberSQL).WithArgs(42).WillReturnRows(memberWithFees(55))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
		expectWebhookStatus(mock, models.WebhookUnmatchedPurchase)

		tx, err := svc.Process(paypalNotification("100"))
		require.NoError(t, err)
		assert.True(t, tx.Report)
		assert.Equal(t, models.ReportUnmatchedPurchase, tx.ReportType)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReconcileService_MemberResolution(t *testing.T) {
	t.Run("no hint and no custom id flags an unmatched member", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(hintLookupSQL).
			WithArgs("PAYER123").
			WillReturnRows(sqlmock.NewRows([]string{"member_id"}))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
		expectWebhookStatus(mock, models.WebhookUnmatchedMember)

		tx, err := svc.Process(paypalNotification("55"))
		require.NoError(t, err)
		assert.Nil(t, tx.MemberID)
		assert.True(t, tx.Report)
		assert.Equal(t, models.ReportUnmatchedMember, tx.ReportType)
		assert.Contains(t, tx.Memo, "Tanner Collin")
	})

	t.Run("explicit member id teaches a hint", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("55")
		pn.Custom = `{"member": 42, "category": "snacks"}`

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(hintLookupSQL).
			WithArgs("PAYER123").
			WillReturnRows(sqlmock.NewRows([]string{"member_id"}))
		mock.ExpectExec(hintUpsertSQL).
			WithArgs("PAYER123", 42, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
		expectWebhookStatus(mock, models.WebhookCategorized)

		tx, err := svc.Process(pn)
		require.NoError(t, err)
		require.NotNil(t, tx.MemberID)
		assert.Equal(t, 42, *tx.MemberID)
		assert.Equal(t, models.CategorySnacks, tx.Category)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed custom blob is ignored", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("55")
		pn.Custom = `{not json`

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(hintLookupSQL).
			WithArgs("PAYER123").
			WillReturnRows(sqlmock.NewRows([]string{"member_id"}))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
		expectWebhookStatus(mock, models.WebhookUnmatchedMember)

		tx, err := svc.Process(pn)
		require.NoError(t, err)
		assert.True(t, tx.Report)
	})
}

func TestReconcileService_TrainingPayment(t *testing.T) {
	joinRegSQL := regexp.QuoteMeta(`SELECT r.id, r.session_id, r.member_id, r.attendance_status, r.paid_date, r.created_at,`)

	regRow := func(status string, cost string, cancelled bool) *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "session_id", "member_id", "attendance_status", "paid_date", "created_at",
			"s_id", "course_name", "cost", "datetime", "is_cancelled",
		}).AddRow(
			5, 9, 42, status, nil, time.Now(),
			9, "Laser Cutting 101", cost, time.Now(), cancelled,
		)
	}

	t.Run("payment confirms a waiting registration", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("40")
		pn.Custom = `{"training": 5}`

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(joinRegSQL).
			WithArgs(5).
			WillReturnRows(regRow(models.AttendanceWaiting, "40", false))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE training_registrations`)).
			WithArgs(models.AttendanceConfirmed, pn.Date, 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
		mock.ExpectExec(hintUpsertSQL).
			WithArgs("PAYER123", 42, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectWebhookStatus(mock, models.WebhookTrainingPayment)

		tx, err := svc.Process(pn)
		require.NoError(t, err)
		assert.Equal(t, models.CategoryPurchases, tx.Category)
		assert.Contains(t, tx.Memo, "Laser Cutting 101")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("registration wins over an existing dues hint", func(t *testing.T) {
		// The payer already has a hint pointing at member 7, but the payment
		// names registration 5 which belongs to member 42. The registration
		// must win: the hint table is never consulted (ordered mock, no
		// lookup expected) and the entry lands on member 42.
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("40")
		pn.Custom = `{"training": 5}`

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(joinRegSQL).
			WithArgs(5).
			WillReturnRows(regRow(models.AttendanceWaiting, "40", false))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE training_registrations`)).
			WithArgs(models.AttendanceConfirmed, pn.Date, 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
		mock.ExpectExec(hintUpsertSQL).
			WithArgs("PAYER123", 42, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectWebhookStatus(mock, models.WebhookTrainingPayment)

		tx, err := svc.Process(pn)
		require.NoError(t, err)
		require.NotNil(t, tx.MemberID)
		assert.Equal(t, 42, *tx.MemberID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cost mismatch falls through to member resolution", func(t *testing.T) {
		svc, mock := newReconcileFixture(t, true)
		pn := paypalNotification("55")
		pn.Custom = `{"training": 5}`

		expectWebhookRecorded(mock)
		mock.ExpectQuery(referenceExistsSQL).
			WithArgs("TXN001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(joinRegSQL).
			WithArgs(5).
			WillReturnRows(regRow(models.AttendanceWaiting, "40", false))

		// Falls through: the member is unknown so the payment is flagged.
		mock.ExpectQuery(hintLookupSQL).
			WithArgs("PAYER123").
			WillReturnRows(sqlmock.NewRows([]string{"member_id"}))
		mock.ExpectQuery(insertEntrySQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
		expectWebhookStatus(mock, models.WebhookUnmatchedMember)

		tx, err := svc.Process(pn)
		require.NoError(t, err)
		assert.True(t, tx.Report)
	})
}
