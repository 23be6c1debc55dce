package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tomaspk/lendbook/pkg/models"
	"github.com/tomaspk/lendbook/pkg/money"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Storage over a SQLite database.
// Monetary columns are stored as TEXT so no decimal precision is lost.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dataSourceName and
// ensures the schema exists.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		loan_type TEXT NOT NULL,
		principal TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		total_paid TEXT NOT NULL DEFAULT '0',
		remaining_amount TEXT NOT NULL,
		total_interest_collected TEXT NOT NULL DEFAULT '0',
		monthly_interest_amount TEXT NOT NULL DEFAULT '0',
		tenure INTEGER NOT NULL,
		loan_date DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		last_payment_date DATETIME,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(customer_id) REFERENCES customers(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		loan_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL DEFAULT '0',
		payment_date DATETIME NOT NULL,
		method TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_type TEXT NOT NULL,
		customer_id INTEGER NOT NULL,
		loan_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		entry_date DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_id);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id);
	CREATE INDEX IF NOT EXISTS idx_payments_date ON payments(payment_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// rowScanner lets scan helpers accept both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// --- Customers ---

func (s *SQLiteStore) CreateCustomer(c *models.Customer) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO customers (name, phone, address, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.Name, c.Phone, c.Address, c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create customer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read customer id: %w", err)
	}
	c.ID = id
	return id, nil
}

func (s *SQLiteStore) GetCustomer(id int64) (*models.Customer, error) {
	var c models.Customer
	row := s.db.QueryRow(
		`SELECT id, name, phone, address, is_active, created_at, updated_at
		FROM customers WHERE id = ?`, id)
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListCustomers() ([]*models.Customer, error) {
	rows, err := s.db.Query(
		`SELECT id, name, phone, address, is_active, created_at, updated_at
		FROM customers WHERE is_active = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer row: %w", err)
		}
		customers = append(customers, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during customer rows iteration: %w", err)
	}
	return customers, nil
}

func (s *SQLiteStore) UpdateCustomer(c *models.Customer) error {
	res, err := s.db.Exec(
		`UPDATE customers SET name = ?, phone = ?, address = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Phone, c.Address, c.IsActive, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	return requireAffected(res, models.ErrCustomerNotFound)
}

func (s *SQLiteStore) SoftDeleteCustomer(id int64, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE customers SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return requireAffected(res, models.ErrCustomerNotFound)
}

// --- Loans ---

const loanColumns = `loans.id, loans.customer_id, loans.loan_type, loans.principal,
	loans.total_amount, loans.total_paid, loans.remaining_amount,
	loans.total_interest_collected, loans.monthly_interest_amount, loans.tenure,
	loans.loan_date, loans.due_date, loans.status, loans.last_payment_date,
	loans.is_active, loans.created_at, loans.updated_at`

func scanLoan(r rowScanner) (*models.Loan, error) {
	var l models.Loan
	var lastPayment sql.NullTime
	err := r.Scan(&l.ID, &l.CustomerID, &l.Type, &l.Principal,
		&l.TotalAmount, &l.TotalPaid, &l.RemainingAmount,
		&l.TotalInterestCollected, &l.MonthlyInterestAmount, &l.Tenure,
		&l.LoanDate, &l.DueDate, &l.Status, &lastPayment,
		&l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastPayment.Valid {
		t := lastPayment.Time
		l.LastPaymentDate = &t
	}
	return &l, nil
}

func (s *SQLiteStore) CreateLoan(l *models.Loan) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO loans (customer_id, loan_type, principal, total_amount, total_paid,
			remaining_amount, total_interest_collected, monthly_interest_amount, tenure,
			loan_date, due_date, status, last_payment_date, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.CustomerID, l.Type, l.Principal, l.TotalAmount, l.TotalPaid,
		l.RemainingAmount, l.TotalInterestCollected, l.MonthlyInterestAmount, l.Tenure,
		l.LoanDate, l.DueDate, l.Status, l.LastPaymentDate, l.IsActive, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create loan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read loan id: %w", err)
	}
	l.ID = id
	return id, nil
}

func (s *SQLiteStore) GetLoan(id int64) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE loans.id = ?`, id)
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// loanFilterClause builds the WHERE clause (and JOIN, when searching by
// customer name) for a LoanFilter.
func loanFilterClause(f LoanFilter) (join, where string, args []any) {
	var conds []string
	if !f.IncludeInactive {
		conds = append(conds, "loans.is_active = 1")
	}
	if f.CustomerID != nil {
		conds = append(conds, "loans.customer_id = ?")
		args = append(args, *f.CustomerID)
	}
	if f.Status != nil {
		conds = append(conds, "loans.status = ?")
		args = append(args, *f.Status)
	}
	if f.NonTerminalOnly {
		conds = append(conds, "loans.status IN (?, ?, ?)")
		args = append(args, models.StatusPending, models.StatusActive, models.StatusOverdue)
	}
	if f.Search != "" {
		join = " JOIN customers ON customers.id = loans.customer_id"
		conds = append(conds, "LOWER(customers.name) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
	}
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return join, where, args
}

func (s *SQLiteStore) ListLoans(f LoanFilter) ([]*models.Loan, error) {
	join, where, args := loanFilterClause(f)
	query := `SELECT ` + loanColumns + ` FROM loans` + join + where +
		` ORDER BY loans.loan_date DESC, loans.id DESC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during loan rows iteration: %w", err)
	}
	return loans, nil
}

func (s *SQLiteStore) CountLoans(f LoanFilter) (int64, error) {
	join, where, args := loanFilterClause(f)
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM loans`+join+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count loans: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateLoan(l *models.Loan) error {
	res, err := s.db.Exec(
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

// SoftDeleteLoan deactivates the loan and every payment that belongs to it,
// scoped strictly to this loan id, in one transaction.
func (s *SQLiteStore) SoftDeleteLoan(id int64, now time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE loans SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`, now, id)
		if err != nil {
			return fmt.Errorf("failed to soft-delete loan: %w", err)
		}
		if err := requireAffected(res, models.ErrLoanNotFound); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE payments SET is_active = 0, updated_at = ? WHERE loan_id = ?`, now, id); err != nil {
			return fmt.Errorf("failed to soft-delete loan payments: %w", err)
		}
		return nil
	})
}

// HardDeleteLoan removes the loan row and all its payment rows permanently in
// one transaction.
func (s *SQLiteStore) HardDeleteLoan(id int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM payments WHERE loan_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete loan payments: %w", err)
		}
		res, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		return requireAffected(res, models.ErrLoanNotFound)
	})
}

// SumLoans aggregates principal and remaining balance for the dashboard. The
// decimal columns are TEXT, so the summing happens here instead of in SQL to
// keep SQLite from coercing them to floats.
func (s *SQLiteStore) SumLoans(f LoanFilter) (LoanSums, error) {
	join, where, args := loanFilterClause(f)
	rows, err := s.db.Query(`SELECT loans.principal, loans.remaining_amount FROM loans`+join+where, args...)
	if err != nil {
		return LoanSums{}, fmt.Errorf("failed to sum loans: %w", err)
	}
	defer rows.Close()

	var sums LoanSums
	for rows.Next() {
		var principal, remaining money.Money
		if err := rows.Scan(&principal, &remaining); err != nil {
			return LoanSums{}, fmt.Errorf("failed to scan loan sums row: %w", err)
		}
		sums.Disbursed = sums.Disbursed.Add(principal)
		sums.Outstanding = sums.Outstanding.Add(remaining)
	}
	if err := rows.Err(); err != nil {
		return LoanSums{}, fmt.Errorf("error during loan sums iteration: %w", err)
	}
	return sums, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
