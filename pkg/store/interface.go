package store

import (
	"time"

	"github.com/tomaspk/lendbook/pkg/models"
	"github.com/tomaspk/lendbook/pkg/money"
)

// LoanFilter narrows loan queries. Zero value matches every active loan.
type LoanFilter struct {
	CustomerID *int64
	Status     *models.LoanStatus
	// Search matches against the owning customer's name, case-insensitively.
	Search string
	// IncludeInactive also returns soft-deleted loans.
	IncludeInactive bool
	// NonTerminalOnly restricts to statuses the overdue sweep may change.
	NonTerminalOnly bool
}

// PaymentFilter narrows payment queries and aggregate sums. Soft-deleted
// payments are always excluded unless IncludeInactive is set.
type PaymentFilter struct {
	LoanID          *int64
	CustomerID      *int64
	From            *time.Time
	To              *time.Time
	IncludeInactive bool
}

// PaymentSums is the aggregate result of SumPayments, split the same way the
// rows are: principal portion and interest portion.
type PaymentSums struct {
	Amount   money.Money
	Interest money.Money
}

// LoanSums aggregates loan columns for the dashboard.
type LoanSums struct {
	Disbursed   money.Money
	Outstanding money.Money
}

// Storage is the persistence boundary for the ledger. The multi-record
// mutation methods (payment plus loan, loan plus cascade) each execute as one
// SQL transaction so a crash cannot leave a payment and its loan totals out
// of sync.
type Storage interface {
	// Customers.
	CreateCustomer(c *models.Customer) (int64, error)
	GetCustomer(id int64) (*models.Customer, error)
	ListCustomers() ([]*models.Customer, error)
	UpdateCustomer(c *models.Customer) error
	SoftDeleteCustomer(id int64, now time.Time) error

	// Loans.
	CreateLoan(l *models.Loan) (int64, error)
	GetLoan(id int64) (*models.Loan, error)
	ListLoans(f LoanFilter) ([]*models.Loan, error)
	CountLoans(f LoanFilter) (int64, error)
	UpdateLoan(l *models.Loan) error
	SoftDeleteLoan(id int64, now time.Time) error
	HardDeleteLoan(id int64) error
	SumLoans(f LoanFilter) (LoanSums, error)

	// Payments.
	GetPayment(id int64) (*models.Payment, error)
	PaymentsForLoan(loanID int64) ([]*models.Payment, error)
	PaymentsByDateRange(from, to time.Time) ([]*models.Payment, error)
	SumPayments(f PaymentFilter) (PaymentSums, error)

	// Transactional payment mutations; the loan row is persisted in the same
	// transaction as the payment row.
	InsertPaymentWithLoan(p *models.Payment, l *models.Loan) (int64, error)
	UpdatePaymentWithLoan(p *models.Payment, l *models.Loan) error
	SoftDeletePaymentWithLoan(paymentID int64, l *models.Loan, now time.Time) error
	HardDeletePaymentWithLoan(paymentID int64, l *models.Loan) error

	// Audit trail.
	InsertAuditEntry(e *models.AuditEntry) error

	Close() error
}
