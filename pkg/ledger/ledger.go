// Package ledger implements the loan ledger engine: it applies money-moving
// events (disbursement, payment, edit, reversal) to a loan's running totals,
// classifies delinquency, and keeps the aggregate cache consistent with the
// underlying stores.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomaspk/lendbook/pkg/models"
	"github.com/tomaspk/lendbook/pkg/money"
	"github.com/tomaspk/lendbook/pkg/store"
)

// Ledger orchestrates loan and payment mutations. Mutations against the same
// loan id are serialized by a per-loan mutex so concurrent payment
// applications cannot lose a read-modify-write of the running totals.
type Ledger struct {
	storage  store.Storage
	audit    AuditRecorder
	log      *zap.Logger
	now      func() time.Time
	cache    *AggregateCache
	ttl      time.Duration
	debounce time.Duration

	mu        sync.Mutex
	loanLocks map[int64]*sync.Mutex
}

type Option func(*Ledger)

// WithClock replaces the time source, mainly for tests that advance time.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithAudit wires the double-entry audit recorder. Its failures are logged
// and swallowed; it never affects a committed mutation.
func WithAudit(a AuditRecorder) Option {
	return func(l *Ledger) { l.audit = a }
}

func WithCacheTTL(d time.Duration) Option {
	return func(l *Ledger) { l.ttl = d }
}

func WithRefreshDebounce(d time.Duration) Option {
	return func(l *Ledger) { l.debounce = d }
}

// New creates a Ledger over the given Storage implementation.
func New(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:   s,
		audit:     NopAudit{},
		log:       zap.NewNop(),
		now:       time.Now,
		ttl:       defaultCacheTTL,
		debounce:  defaultRefreshDebounce,
		loanLocks: make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.cache = newAggregateCache(s, l.log, l.now, l.ttl, l.debounce)
	return l
}

// Close stops the cache's background refresh. The storage is owned by the
// caller and closed separately.
func (l *Ledger) Close() {
	l.cache.Stop()
}

func (l *Ledger) lockLoan(id int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.loanLocks[id]
	if !ok {
		m = &sync.Mutex{}
		l.loanLocks[id] = m
	}
	return m
}

func (l *Ledger) recordAudit(t models.AuditEntryType, customerID, loanID int64, amount money.Money, description string, date time.Time) {
	var err error
	if t == models.AuditCredit {
		err = l.audit.RecordCredit(customerID, loanID, amount, description, date)
	} else {
		err = l.audit.RecordDebit(customerID, loanID, amount, description, date)
	}
	if err != nil {
		l.log.Warn("audit trail write failed",
			zap.Int64("loan_id", loanID),
			zap.String("entry_type", string(t)),
			zap.Error(err))
	}
}

// CreateLoanInput carries the terms of a new disbursement.
type CreateLoanInput struct {
	CustomerID            int64                `json:"customer_id"`
	Type                  models.LoanType      `json:"type"`
	Principal             money.Money          `json:"principal"`
	Tenure                int                  `json:"tenure"`
	LoanDate              time.Time            `json:"loan_date"`
	DueDate               time.Time            `json:"due_date"`
	MonthlyInterestAmount money.Money          `json:"monthly_interest_amount"`
}

// CreateLoan validates and persists a new loan. Loans are created already
// active; the pending status exists in the enum but is not reachable from
// here.
func (l *Ledger) CreateLoan(in CreateLoanInput) (*models.Loan, error) {
	now := l.now()
	loanDate := in.LoanDate
	if loanDate.IsZero() {
		loanDate = now
	}

	loan := &models.Loan{
		CustomerID:            in.CustomerID,
		Type:                  in.Type,
		Principal:             in.Principal,
		TotalAmount:           in.Principal,
		MonthlyInterestAmount: in.MonthlyInterestAmount,
		Tenure:                in.Tenure,
		LoanDate:              loanDate,
		DueDate:               in.DueDate,
		Status:                models.StatusActive,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	loan.SetTotalPaid(money.Zero)

	if err := loan.Validate(); err != nil {
		return nil, err
	}
	if _, err := l.storage.GetCustomer(in.CustomerID); err != nil {
		return nil, err
	}
	if _, err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.recordAudit(models.AuditDebit, loan.CustomerID, loan.ID, loan.Principal, "loan disbursement", loan.LoanDate)
	l.cache.Invalidate()
	return loan, nil
}

// ApplyPaymentInput carries one collection event. Amount is the principal
// portion; InterestAmount is the interest portion for monthly-interest loans.
// CustomerID is resolved from the loan when nil.
type ApplyPaymentInput struct {
	LoanID         int64                `json:"loan_id"`
	Amount         money.Money          `json:"amount"`
	InterestAmount money.Money          `json:"interest_amount"`
	PaymentDate    time.Time            `json:"payment_date"`
	Method         models.PaymentMethod `json:"method"`
	Notes          string               `json:"notes"`
	CustomerID     *int64               `json:"customer_id,omitempty"`
}

// ApplyPayment records a payment against a loan, recomputes the loan's
// totals and delinquency status, and persists both in one transaction.
func (l *Ledger) ApplyPayment(in ApplyPaymentInput) (*models.Payment, error) {
	now := l.now()
	if in.Method == "" {
		in.Method = models.MethodCash
	}
	paymentDate := in.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}

	p := &models.Payment{
		LoanID:         in.LoanID,
		Reference:      uuid.NewString(),
		Amount:         in.Amount,
		InterestAmount: in.InterestAmount,
		PaymentDate:    paymentDate,
		Method:         in.Method,
		Notes:          in.Notes,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	mu := l.lockLoan(in.LoanID)
	mu.Lock()
	defer mu.Unlock()

	loan, err := l.storage.GetLoan(in.LoanID)
	if err != nil {
		return nil, err
	}

	customerID := loan.CustomerID
	if in.CustomerID != nil {
		customerID = *in.CustomerID
	}
	if customerID <= 0 {
		return nil, models.ErrCustomerResolution
	}
	if _, err := l.storage.GetCustomer(customerID); err != nil {
		if errors.Is(err, models.ErrCustomerNotFound) {
			return nil, models.ErrCustomerResolution
		}
		return nil, err
	}
	p.CustomerID = customerID

	loan.SetTotalPaid(loan.TotalPaid.Add(in.Amount))
	loan.TotalInterestCollected = loan.TotalInterestCollected.Add(in.InterestAmount)
	loan.Status = EvaluateStatus(loan, loan.TotalPaid, now)
	loan.LastPaymentDate = &paymentDate
	loan.UpdatedAt = now

	if _, err := l.storage.InsertPaymentWithLoan(p, loan); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	l.recordAudit(models.AuditCredit, customerID, loan.ID, p.Collected(), "payment received", paymentDate)
	l.cache.Invalidate()
	return p, nil
}

// EditPaymentInput holds the editable payment fields; nil means "leave as
// is".
type EditPaymentInput struct {
	Amount         *money.Money          `json:"amount,omitempty"`
	InterestAmount *money.Money          `json:"interest_amount,omitempty"`
	PaymentDate    *time.Time            `json:"payment_date,omitempty"`
	Method         *models.PaymentMethod `json:"method,omitempty"`
	Notes          *string               `json:"notes,omitempty"`
}

// EditPayment applies the amount delta to the loan's totals, re-evaluates
// status, and persists payment and loan in one transaction.
func (l *Ledger) EditPayment(paymentID int64, in EditPaymentInput) (*models.Payment, error) {
	probe, err := l.storage.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}

	mu := l.lockLoan(probe.LoanID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the loan lock so the delta is computed against current
	// state.
	p, err := l.storage.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	loan, err := l.storage.GetLoan(p.LoanID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	updated := *p
	if in.Amount != nil {
		updated.Amount = *in.Amount
	}
	if in.InterestAmount != nil {
		updated.InterestAmount = *in.InterestAmount
	}
	if in.PaymentDate != nil {
		updated.PaymentDate = *in.PaymentDate
	}
	if in.Method != nil {
		updated.Method = *in.Method
	}
	if in.Notes != nil {
		updated.Notes = *in.Notes
	}
	updated.UpdatedAt = now
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	deltaPaid := updated.Amount.Sub(p.Amount)
	deltaInterest := updated.InterestAmount.Sub(p.InterestAmount)

	if p.IsActive {
		loan.SetTotalPaid(loan.TotalPaid.Add(deltaPaid).ClampZero())
		loan.TotalInterestCollected = loan.TotalInterestCollected.Add(deltaInterest).ClampZero()
	}
	loan.Status = EvaluateStatus(loan, loan.TotalPaid, now)
	loan.UpdatedAt = now

	if err := l.storage.UpdatePaymentWithLoan(&updated, loan); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}

	l.cache.Invalidate()
	return &updated, nil
}

// DeletePayment reverses a payment's contribution to its loan. Soft delete
// flips the active flag and remains recoverable; hard delete removes the row
// permanently. LastPaymentDate is recomputed from the loan's remaining active
// payments.
func (l *Ledger) DeletePayment(paymentID int64, hard bool) error {
	probe, err := l.storage.GetPayment(paymentID)
	if err != nil {
		return err
	}

	mu := l.lockLoan(probe.LoanID)
	mu.Lock()
	defer mu.Unlock()

	p, err := l.storage.GetPayment(paymentID)
	if err != nil {
		return err
	}
	if !hard && !p.IsActive {
		return models.ErrPaymentNotFound
	}
	loan, err := l.storage.GetLoan(p.LoanID)
	if err != nil {
		return err
	}

	now := l.now()
	if p.IsActive {
		loan.SetTotalPaid(loan.TotalPaid.Sub(p.Amount).ClampZero())
		loan.TotalInterestCollected = loan.TotalInterestCollected.Sub(p.InterestAmount).ClampZero()
	}
	loan.Status = EvaluateStatus(loan, loan.TotalPaid, now)

	payments, err := l.storage.PaymentsForLoan(loan.ID)
	if err != nil {
		return fmt.Errorf("failed to load payments for loan %d: %w", loan.ID, err)
	}
	var last *time.Time
	for _, other := range payments {
		if other.ID == p.ID || !other.IsActive {
			continue
		}
		if last == nil || other.PaymentDate.After(*last) {
			t := other.PaymentDate
			last = &t
		}
	}
	loan.LastPaymentDate = last
	loan.UpdatedAt = now

	if hard {
		err = l.storage.HardDeletePaymentWithLoan(p.ID, loan)
	} else {
		err = l.storage.SoftDeletePaymentWithLoan(p.ID, loan, now)
	}
	if err != nil {
		return err
	}

	if p.IsActive {
		l.recordAudit(models.AuditDebit, p.CustomerID, loan.ID, p.Collected(), "payment reversed", now)
	}
	l.cache.Invalidate()
	return nil
}

// DeleteLoan removes a loan and cascades to its payments only; other loans of
// the same customer are untouched. Soft delete is recoverable, hard delete is
// permanent and atomic.
func (l *Ledger) DeleteLoan(loanID int64, hard bool) error {
	mu := l.lockLoan(loanID)
	mu.Lock()
	defer mu.Unlock()

	var err error
	if hard {
		err = l.storage.HardDeleteLoan(loanID)
	} else {
		err = l.storage.SoftDeleteLoan(loanID, l.now())
	}
	if err != nil {
		return err
	}

	if hard {
		// AUTOINCREMENT ids are never reused, so the lock entry for a
		// hard-deleted loan can be dropped. Soft-deleted loans keep theirs;
		// they remain addressable.
		l.mu.Lock()
		delete(l.loanLocks, loanID)
		l.mu.Unlock()
	}

	l.cache.Invalidate()
	return nil
}

// RunOverdueSweep re-evaluates every non-terminal loan and persists status
// changes. It only ever touches status and updatedAt, so running it twice in
// a row is a no-op the second time.
func (l *Ledger) RunOverdueSweep() (int, error) {
	loans, err := l.storage.ListLoans(store.LoanFilter{NonTerminalOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to load loans for sweep: %w", err)
	}

	now := l.now()
	changed := 0
	for _, stale := range loans {
		mu := l.lockLoan(stale.ID)
		mu.Lock()

		loan, err := l.storage.GetLoan(stale.ID)
		if err != nil {
			mu.Unlock()
			if errors.Is(err, models.ErrLoanNotFound) {
				continue
			}
			return changed, err
		}

		status := EvaluateStatus(loan, loan.TotalPaid, now)
		if status != loan.Status {
			prev := loan.Status
			loan.Status = status
			loan.UpdatedAt = now
			if err := l.storage.UpdateLoan(loan); err != nil {
				mu.Unlock()
				return changed, fmt.Errorf("failed to persist sweep status for loan %d: %w", loan.ID, err)
			}
			changed++
			l.log.Info("sweep changed loan status",
				zap.Int64("loan_id", loan.ID),
				zap.String("from", string(prev)),
				zap.String("to", string(status)))
		}
		mu.Unlock()
	}

	if changed > 0 {
		l.cache.Invalidate()
	}
	return changed, nil
}

// --- Read paths ---

func (l *Ledger) GetLoan(id int64) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// Loans serves filtered loan listings through the aggregate cache.
func (l *Ledger) Loans(f store.LoanFilter) ([]*models.Loan, error) {
	return l.cache.Loans(f)
}

func (l *Ledger) PaymentsForLoan(loanID int64) ([]*models.Payment, error) {
	return l.storage.PaymentsForLoan(loanID)
}

func (l *Ledger) PaymentsByDateRange(from, to time.Time) ([]*models.Payment, error) {
	return l.storage.PaymentsByDateRange(from, to)
}

// DashboardStats serves the cached dashboard aggregates.
func (l *Ledger) DashboardStats() (DashboardStats, error) {
	return l.cache.Stats()
}
