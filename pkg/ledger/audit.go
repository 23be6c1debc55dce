package ledger

import (
	"time"

	"github.com/tomaspk/lendbook/pkg/models"
	"github.com/tomaspk/lendbook/pkg/money"
	"github.com/tomaspk/lendbook/pkg/store"
)

// AuditRecorder receives double-entry audit notifications after a successful
// ledger mutation. It is fire-and-forget from the engine's perspective: a
// recording failure is logged and swallowed, never rolled back into the
// already-committed mutation.
type AuditRecorder interface {
	RecordCredit(customerID, loanID int64, amount money.Money, description string, date time.Time) error
	RecordDebit(customerID, loanID int64, amount money.Money, description string, date time.Time) error
}

// NopAudit discards all entries. It is the default when no recorder is wired.
type NopAudit struct{}

func (NopAudit) RecordCredit(int64, int64, money.Money, string, time.Time) error { return nil }
func (NopAudit) RecordDebit(int64, int64, money.Money, string, time.Time) error  { return nil }

// StorageAudit persists audit entries through the same persistence boundary
// as the ledger, into their own table.
type StorageAudit struct {
	storage store.Storage
	now     func() time.Time
}

func NewStorageAudit(s store.Storage) *StorageAudit {
	return &StorageAudit{storage: s, now: time.Now}
}

func (a *StorageAudit) RecordCredit(customerID, loanID int64, amount money.Money, description string, date time.Time) error {
	return a.record(models.AuditCredit, customerID, loanID, amount, description, date)
}

func (a *StorageAudit) RecordDebit(customerID, loanID int64, amount money.Money, description string, date time.Time) error {
	return a.record(models.AuditDebit, customerID, loanID, amount, description, date)
}

func (a *StorageAudit) record(t models.AuditEntryType, customerID, loanID int64, amount money.Money, description string, date time.Time) error {
	return a.storage.InsertAuditEntry(&models.AuditEntry{
		EntryType:   t,
		CustomerID:  customerID,
		LoanID:      loanID,
		Amount:      amount,
		Description: description,
		EntryDate:   date,
		CreatedAt:   a.now(),
	})
}
