package models

import (
	"errors"
	"time"

	"github.com/tomaspk/lendbook/pkg/money"
)

// Sentinel errors returned across the ledger boundary. Handlers map these to
// HTTP status codes; anything storage-related is wrapped before it gets here.
var (
	ErrInvalidAmount       = money.ErrInvalidAmount
	ErrLoanNotFound        = errors.New("loan not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrCustomerResolution  = errors.New("could not resolve customer for payment")
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	ErrCustomerNameEmpty = errors.New("customer name is required")
	ErrInvalidLoanType   = errors.New("unknown loan type")
	ErrInvalidTenure     = errors.New("tenure must be at least 1")
	ErrInvalidPrincipal  = errors.New("principal must be positive")
	ErrInvalidCustomer   = errors.New("customer reference is required")
	ErrInvalidMethod     = errors.New("unknown payment method")
)

type LoanType string

const (
	LoanTypeWeekly          LoanType = "weekly"
	LoanTypeMonthlyInterest LoanType = "monthlyInterest"
)

func (t LoanType) Valid() bool {
	return t == LoanTypeWeekly || t == LoanTypeMonthlyInterest
}

type LoanStatus string

const (
	StatusPending   LoanStatus = "pending"
	StatusActive    LoanStatus = "active"
	StatusOverdue   LoanStatus = "overdue"
	StatusCompleted LoanStatus = "completed"
	StatusClosed    LoanStatus = "closed"
	StatusCancelled LoanStatus = "cancelled"
	StatusDefaulted LoanStatus = "defaulted"
)

// Administrative returns true for the states that only an explicit
// administrative action can enter or leave. The automatic transition rule
// (active, overdue, completed) never touches them.
func (s LoanStatus) Administrative() bool {
	return s == StatusClosed || s == StatusCancelled || s == StatusDefaulted
}

// Terminal reports whether no automatic transition leaves the state.
func (s LoanStatus) Terminal() bool {
	return s == StatusCompleted || s.Administrative()
}

type PaymentMethod string

const (
	MethodCash       PaymentMethod = "cash"
	MethodTransfer   PaymentMethod = "transfer"
	MethodElectronic PaymentMethod = "electronic"
	MethodOther      PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodTransfer, MethodElectronic, MethodOther:
		return true
	}
	return false
}

// Loan is one disbursement to a customer. For weekly loans TotalAmount equals
// Principal (no interest component baked into the schedule); for
// monthly-interest loans interest is collected separately and tracked in
// TotalInterestCollected, never in TotalPaid.
type Loan struct {
	ID         int64    `json:"id"`
	CustomerID int64    `json:"customer_id"`
	Type       LoanType `json:"type"`

	Principal              money.Money `json:"principal"`
	TotalAmount            money.Money `json:"total_amount"`
	TotalPaid              money.Money `json:"total_paid"`
	RemainingAmount        money.Money `json:"remaining_amount"`
	TotalInterestCollected money.Money `json:"total_interest_collected"`
	MonthlyInterestAmount  money.Money `json:"monthly_interest_amount"`

	Tenure   int       `json:"tenure"`
	LoanDate time.Time `json:"loan_date"`
	DueDate  time.Time `json:"due_date"`

	Status          LoanStatus `json:"status"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (l *Loan) Validate() error {
	if l.CustomerID <= 0 {
		return ErrInvalidCustomer
	}
	if !l.Type.Valid() {
		return ErrInvalidLoanType
	}
	if !l.Principal.IsPositive() {
		return ErrInvalidPrincipal
	}
	if l.Tenure < 1 {
		return ErrInvalidTenure
	}
	return nil
}

// SetTotalPaid updates the paid total and keeps the derived remaining balance
// in step: remaining = max(0, principal - totalPaid).
func (l *Loan) SetTotalPaid(paid money.Money) {
	l.TotalPaid = paid
	l.RemainingAmount = l.Principal.Sub(paid).ClampZero()
}

// Payment is one collection event against a loan. Amount is the principal
// portion; InterestAmount is the interest portion for monthly-interest loans
// (zero for weekly loans). A combined collection records both on one row.
type Payment struct {
	ID         int64  `json:"id"`
	LoanID     int64  `json:"loan_id"`
	CustomerID int64  `json:"customer_id"`
	Reference  string `json:"reference"`

	Amount         money.Money   `json:"amount"`
	InterestAmount money.Money   `json:"interest_amount"`
	PaymentDate    time.Time     `json:"payment_date"`
	Method         PaymentMethod `json:"method"`
	Notes          string        `json:"notes,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Collected is the total cash movement of the payment, principal plus
// interest.
func (p *Payment) Collected() money.Money {
	return p.Amount.Add(p.InterestAmount)
}

func (p *Payment) Validate() error {
	if p.Amount.IsNegative() || p.InterestAmount.IsNegative() {
		return ErrInvalidAmount
	}
	if !p.Collected().IsPositive() {
		return ErrInvalidAmount
	}
	if !p.Method.Valid() {
		return ErrInvalidMethod
	}
	return nil
}

// Customer is reference data; the engine only needs it to resolve payment
// ownership.
type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Customer) Validate() error {
	if c.Name == "" {
		return ErrCustomerNameEmpty
	}
	return nil
}

type AuditEntryType string

const (
	AuditCredit AuditEntryType = "credit"
	AuditDebit  AuditEntryType = "debit"
)

// AuditEntry is one row of the double-entry audit trail. It is written after
// a successful ledger mutation and is never consulted for balance math.
type AuditEntry struct {
	ID          int64          `json:"id"`
	EntryType   AuditEntryType `json:"entry_type"`
	CustomerID  int64          `json:"customer_id"`
	LoanID      int64          `json:"loan_id"`
	Amount      money.Money    `json:"amount"`
	Description string         `json:"description"`
	EntryDate   time.Time      `json:"entry_date"`
	CreatedAt   time.Time      `json:"created_at"`
}
