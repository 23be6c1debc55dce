package store

import (
	"path/filepath"
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaspk/lendbook/pkg/models"
	"github.com/tomaspk/lendbook/pkg/money"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCustomer(t *testing.T, s *SQLiteStore, name string) int64 {
	t.Helper()
	now := time.Now().UTC()
	id, err := s.CreateCustomer(&models.Customer{
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	return id
}

func seedLoan(t *testing.T, s *SQLiteStore, customerID int64, principal string) *models.Loan {
	t.Helper()
	now := time.Now().UTC()
	l := &models.Loan{
		CustomerID: customerID,
		Type:       models.LoanTypeWeekly,
		Principal:  money.MustParse(principal),
		Tenure:     10,
		LoanDate:   now,
		Status:     models.StatusActive,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.TotalAmount = l.Principal
	l.SetTotalPaid(money.Zero)
	_, err := s.CreateLoan(l)
	require.NoError(t, err)
	return l
}

func seedPayment(t *testing.T, s *SQLiteStore, l *models.Loan, amount string, date time.Time) *models.Payment {
	t.Helper()
	p := &models.Payment{
		LoanID:      l.ID,
		CustomerID:  l.CustomerID,
		Reference:   "ref-" + amount,
		Amount:      money.MustParse(amount),
		PaymentDate: date,
		Method:      models.MethodCash,
		IsActive:    true,
		CreatedAt:   date,
		UpdatedAt:   date,
	}
	l.SetTotalPaid(l.TotalPaid.Add(p.Amount))
	_, err := s.InsertPaymentWithLoan(p, l)
	require.NoError(t, err)
	return p
}

func TestLoanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	custID := seedCustomer(t, s, "Asha")

	// A fractional principal must survive the TEXT column exactly.
	loan := seedLoan(t, s, custID, "1234.567")

	got, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.ID, got.ID)
	assert.Equal(t, models.LoanTypeWeekly, got.Type)
	assert.Equal(t, "1234.567", got.Principal.String())
	assert.True(t, got.RemainingAmount.Equal(got.Principal))
	assert.Nil(t, got.LastPaymentDate)
	assert.True(t, got.IsActive)
}

func TestGetLoanNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetLoan(12345)
	assert.ErrorIs(t, err, models.ErrLoanNotFound)
}

func TestInsertPaymentWithLoanAtomic(t *testing.T) {
	s := newTestStore(t)
	custID := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, custID, "1000")

	now := time.Now().UTC()
	seedPayment(t, s, loan, "100.10", now)

	// Both the payment row and the loan totals landed.
	got, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.1", got.TotalPaid.String())
	assert.Equal(t, "899.9", got.RemainingAmount.String())

	payments, err := s.PaymentsForLoan(loan.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "100.1", payments[0].Amount.String())
}

func TestSoftDeleteLoanScopedToLoan(t *testing.T) {
	s := newTestStore(t)
	custID := seedCustomer(t, s, "Asha")
	first := seedLoan(t, s, custID, "1000")
	second := seedLoan(t, s, custID, "2000")

	now := time.Now().UTC()
	seedPayment(t, s, first, "100", now)
	seedPayment(t, s, second, "200", now)

	require.NoError(t, s.SoftDeleteLoan(first.ID, now))

	got, err := s.GetLoan(first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	for _, p := range mustPayments(t, s, first.ID) {
		assert.False(t, p.IsActive)
	}

	// Same customer's other loan and its payments stay live.
	got, err = s.GetLoan(second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	for _, p := range mustPayments(t, s, second.ID) {
		assert.True(t, p.IsActive)
	}

	// Already soft-deleted: not found.
	assert.ErrorIs(t, s.SoftDeleteLoan(first.ID, now), models.ErrLoanNotFound)
}

func mustPayments(t *testing.T, s *SQLiteStore, loanID int64) []*models.Payment {
	t.Helper()
	payments, err := s.PaymentsForLoan(loanID)
	require.NoError(t, err)
	require.NotEmpty(t, payments)
	return payments
}

func TestHardDeleteLoanRemovesPayments(t *testing.T) {
	s := newTestStore(t)
	custID := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, custID, "1000")
	seedPayment(t, s, loan, "100", time.Now().UTC())

	require.NoError(t, s.HardDeleteLoan(loan.ID))

	_, err := s.GetLoan(loan.ID)
	assert.ErrorIs(t, err, models.ErrLoanNotFound)

	payments, err := s.PaymentsForLoan(loan.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestSoftDeletePaymentOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	custID := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, custID, "1000")
	p := seedPayment(t, s, loan, "100", time.Now().UTC())

	now := time.Now().UTC()
	loan.SetTotalPaid(money.Zero)
	require.NoError(t, s.SoftDeletePaymentWithLoan(p.ID, loan, now))

	got, err := s.GetPayment(p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// Second soft delete of the same row reports not found.
	assert.ErrorIs(t, s.SoftDeletePaymentWithLoan(p.ID, loan, now), models.ErrPaymentNotFound)
}

func TestSumPayments(t *testing.T) {
	s := newTestStore(t)
	custID := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, custID, "1000")

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	seedPayment(t, s, loan, "100.50", base)
	seedPayment(t, s, loan, "200.25", base.AddDate(0, 0, 1))
	seedPayment(t, s, loan, "50", base.AddDate(0, 0, 5))

	sums, err := s.SumPayments(PaymentFilter{})
	require.NoError(t, err)
	assert.Equal(t, "350.75", sums.Amount.String())

	// Date window is half-open: [from, to).
	from := base
	to := base.AddDate(0, 0, 2)
	sums, err = s.SumPayments(PaymentFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, "300.75", sums.Amount.String())

	// Soft-deleted payments drop out of the totals. Listings are ordered by
	// date descending, so the last element is the earliest payment.
	payments := mustPayments(t, s, loan.ID)
	require.NoError(t, s.SoftDeletePaymentWithLoan(payments[len(payments)-1].ID, loan, base))
	sums, err = s.SumPayments(PaymentFilter{})
	require.NoError(t, err)
	assert.Equal(t, "250.25", sums.Amount.String())
}

func TestSumLoans(t *testing.T) {
	s := newTestStore(t)
	custID := seedCustomer(t, s, "Asha")
	first := seedLoan(t, s, custID, "1000")
	seedLoan(t, s, custID, "2500.50")

	seedPayment(t, s, first, "400", time.Now().UTC())

	sums, err := s.SumLoans(LoanFilter{})
	require.NoError(t, err)
	assert.Equal(t, "3500.5", sums.Disbursed.String())
	assert.Equal(t, "3100.5", sums.Outstanding.String())
}

func TestListLoansFilters(t *testing.T) {
	s := newTestStore(t)
	ashaID := seedCustomer(t, s, "Asha Okafor")
	bintaID := seedCustomer(t, s, "Binta Diallo")

	first := seedLoan(t, s, ashaID, "1000")
	seedLoan(t, s, bintaID, "2000")

	first.Status = models.StatusOverdue
	require.NoError(t, s.UpdateLoan(first))

	// Search matches the joined customer name, case-insensitively.
	loans, err := s.ListLoans(LoanFilter{Search: "OKAFOR"})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, ashaID, loans[0].CustomerID)

	overdue := models.StatusOverdue
	loans, err = s.ListLoans(LoanFilter{Status: &overdue})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, first.ID, loans[0].ID)

	loans, err = s.ListLoans(LoanFilter{CustomerID: &bintaID})
	require.NoError(t, err)
	require.Len(t, loans, 1)

	count, err := s.CountLoans(LoanFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Terminal statuses drop out of the sweep listing.
	first.Status = models.StatusDefaulted
	require.NoError(t, s.UpdateLoan(first))
	loans, err = s.ListLoans(LoanFilter{NonTerminalOnly: true})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.NotEqual(t, first.ID, loans[0].ID)
}

func TestLastPaymentDatePersists(t *testing.T) {
	s := newTestStore(t)
	custID := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, custID, "1000")

	paidAt := time.Date(2024, 3, 2, 15, 4, 5, 0, time.UTC)
	loan.LastPaymentDate = &paidAt
	require.NoError(t, s.UpdateLoan(loan))

	got, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastPaymentDate)
	assert.True(t, got.LastPaymentDate.Equal(paidAt))
}

func TestCustomerLifecycle(t *testing.T) {
	s := newTestStore(t)
	id := seedCustomer(t, s, "Asha")

	c, err := s.GetCustomer(id)
	require.NoError(t, err)
	assert.Equal(t, "Asha", c.Name)

	c.Phone = "0700000000"
	require.NoError(t, s.UpdateCustomer(c))

	customers, err := s.ListCustomers()
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "0700000000", customers[0].Phone)

	require.NoError(t, s.SoftDeleteCustomer(id, time.Now().UTC()))
	customers, err = s.ListCustomers()
	require.NoError(t, err)
	assert.Empty(t, customers)

	_, err = s.GetCustomer(999)
	assert.ErrorIs(t, err, models.ErrCustomerNotFound)
}

func TestInsertAuditEntry(t *testing.T) {
	s := newTestStore(t)
	custID := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, custID, "1000")

	err := s.InsertAuditEntry(&models.AuditEntry{
		EntryType:   models.AuditDebit,
		CustomerID:  custID,
		LoanID:      loan.ID,
		Amount:      loan.Principal,
		Description: "loan disbursement",
		EntryDate:   time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
}
