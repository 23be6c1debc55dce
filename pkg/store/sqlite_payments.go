package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tomaspk/lendbook/pkg/models"
	"github.com/tomaspk/lendbook/pkg/money"
)

const paymentColumns = `id, loan_id, customer_id, reference, amount, interest_amount,
	payment_date, method, notes, is_active, created_at, updated_at`

func scanPayment(r rowScanner) (*models.Payment, error) {
	var p models.Payment
	err := r.Scan(&p.ID, &p.LoanID, &p.CustomerID, &p.Reference, &p.Amount, &p.InterestAmount,
		&p.PaymentDate, &p.Method, &p.Notes, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetPayment(id int64) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) PaymentsForLoan(loanID int64) ([]*models.Payment, error) {
	rows, err := s.db.Query(
		`SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? ORDER BY payment_date DESC, id DESC`,
		loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %d: %w", loanID, err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (s *SQLiteStore) PaymentsByDateRange(from, to time.Time) ([]*models.Payment, error) {
	rows, err := s.db.Query(
		`SELECT `+paymentColumns+` FROM payments
		WHERE is_active = 1 AND payment_date >= ? AND payment_date < ?
		ORDER BY payment_date ASC, id ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments by date range: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func collectPayments(rows *sql.Rows) ([]*models.Payment, error) {
	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during payment rows iteration: %w", err)
	}
	return payments, nil
}

// SumPayments totals the principal and interest portions of payments matching
// the filter. Sums are computed in Go over the TEXT decimal columns.
func (s *SQLiteStore) SumPayments(f PaymentFilter) (PaymentSums, error) {
	var conds []string
	var args []any
	if !f.IncludeInactive {
		conds = append(conds, "is_active = 1")
	}
	if f.LoanID != nil {
		conds = append(conds, "loan_id = ?")
		args = append(args, *f.LoanID)
	}
	if f.CustomerID != nil {
		conds = append(conds, "customer_id = ?")
		args = append(args, *f.CustomerID)
	}
	if f.From != nil {
		conds = append(conds, "payment_date >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		conds = append(conds, "payment_date < ?")
		args = append(args, *f.To)
	}
	query := `SELECT amount, interest_amount FROM payments`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return PaymentSums{}, fmt.Errorf("failed to sum payments: %w", err)
	}
	defer rows.Close()

	var sums PaymentSums
	for rows.Next() {
		var amount, interest money.Money
		if err := rows.Scan(&amount, &interest); err != nil {
			return PaymentSums{}, fmt.Errorf("failed to scan payment sums row: %w", err)
		}
		sums.Amount = sums.Amount.Add(amount)
		sums.Interest = sums.Interest.Add(interest)
	}
	if err := rows.Err(); err != nil {
		return PaymentSums{}, fmt.Errorf("error during payment sums iteration: %w", err)
	}
	return sums, nil
}

func updateLoanTx(tx *sql.Tx, l *models.Loan) error {
	res, err := tx.Exec(
		`UPDATE loans SET customer_id = ?, loan_type = ?, principal = ?, total_amount = ?,
			total_paid = ?, remaining_amount = ?, total_interest_collected = ?,
			monthly_interest_amount = ?, tenure = ?, loan_date = ?, due_date = ?, status = ?,
			last_payment_date = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		l.CustomerID, l.Type, l.Principal, l.TotalAmount,
		l.TotalPaid, l.RemainingAmount, l.TotalInterestCollected,
		l.MonthlyInterestAmount, l.Tenure, l.LoanDate, l.DueDate, l.Status,
		l.LastPaymentDate, l.IsActive, l.UpdatedAt, l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return requireAffected(res, models.ErrLoanNotFound)
}

// InsertPaymentWithLoan persists a new payment row and the recomputed loan
// totals as one transaction.
func (s *SQLiteStore) InsertPaymentWithLoan(p *models.Payment, l *models.Loan) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO payments (loan_id, customer_id, reference, amount, interest_amount,
				payment_date, method, notes, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.LoanID, p.CustomerID, p.Reference, p.Amount, p.InterestAmount,
			p.PaymentDate, p.Method, p.Notes, p.IsActive, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read payment id: %w", err)
		}
		return updateLoanTx(tx, l)
	})
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// UpdatePaymentWithLoan persists an edited payment and the recomputed loan
// totals as one transaction.
func (s *SQLiteStore) UpdatePaymentWithLoan(p *models.Payment, l *models.Loan) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE payments SET amount = ?, interest_amount = ?, payment_date = ?,
				method = ?, notes = ?, is_active = ?, updated_at = ?
			WHERE id = ?`,
			p.Amount, p.InterestAmount, p.PaymentDate,
			p.Method, p.Notes, p.IsActive, p.UpdatedAt, p.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if err := requireAffected(res, models.ErrPaymentNotFound); err != nil {
			return err
		}
		return updateLoanTx(tx, l)
	})
}

// SoftDeletePaymentWithLoan flips the payment's active flag and persists the
// reversed loan totals as one transaction.
func (s *SQLiteStore) SoftDeletePaymentWithLoan(paymentID int64, l *models.Loan, now time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE payments SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`,
			now, paymentID)
		if err != nil {
			return fmt.Errorf("failed to soft-delete payment: %w", err)
		}
		if err := requireAffected(res, models.ErrPaymentNotFound); err != nil {
			return err
		}
		return updateLoanTx(tx, l)
	})
}

// HardDeletePaymentWithLoan removes the payment row permanently and persists
// the reversed loan totals as one transaction.
func (s *SQLiteStore) HardDeletePaymentWithLoan(paymentID int64, l *models.Loan) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM payments WHERE id = ?`, paymentID)
		if err != nil {
			return fmt.Errorf("failed to delete payment: %w", err)
		}
		if err := requireAffected(res, models.ErrPaymentNotFound); err != nil {
			return err
		}
		return updateLoanTx(tx, l)
	})
}

// --- Audit trail ---

func (s *SQLiteStore) InsertAuditEntry(e *models.AuditEntry) error {
	res, err := s.db.Exec(
		`INSERT INTO audit_entries (entry_type, customer_id, loan_id, amount, description, entry_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EntryType, e.CustomerID, e.LoanID, e.Amount, e.Description, e.EntryDate, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read audit entry id: %w", err)
	}
	e.ID = id
	return nil
}
