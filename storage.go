package banking

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Table names — the authoritative list from spec §6.
const (
	TableAccounts                = "accounts"
	TableAccountHolds             = "account_holds"
	TableJournalEntries           = "journal_entries"
	TableTransactions             = "transactions"
	TableIdempotencyKeys          = "idempotency_keys"
	TableInterestRateConfigs      = "interest_rate_configs"
	TableInterestAccruals         = "interest_accruals"
	TableGracePeriods             = "grace_periods"
	TableCreditStatements         = "credit_statements"
	TableCreditTransactions       = "credit_transactions"
	TableLoans                    = "loans"
	TableLoanPayments             = "loan_payments"
	TableAmortizationSchedules    = "amortization_schedules"
	TableComplianceViolations     = "compliance_violations"
	TableSuspiciousActivityAlerts = "suspicious_activity_alerts"
	TableLargeTransactionReports  = "large_transaction_reports"
	TableAuditEvents              = "audit_events"
)

var allTables = []string{
	TableAccounts, TableAccountHolds, TableJournalEntries, TableTransactions,
	TableIdempotencyKeys, TableInterestRateConfigs, TableInterestAccruals,
	TableGracePeriods, TableCreditStatements, TableCreditTransactions,
	TableLoans, TableLoanPayments, TableAmortizationSchedules,
	TableComplianceViolations, TableSuspiciousActivityAlerts,
	TableLargeTransactionReports, TableAuditEvents,
}

// Record is the schemaless dictionary view every table presents. Each
// entity's owning module is responsible for its own ToRecord/FromRecord
// conversion; Storage itself has no knowledge of entity shapes.
type Record map[string]interface{}

// Storage is a table-oriented key/value abstraction backed by an embedded
// bbolt database, one bucket per table, with a transactional atomic scope.
// All records are persisted schemaless still — see Record — matching the
// storage-layer encoding the rest of the pack uses for event payloads.
type Storage struct {
	db *bbolt.DB
}

// NewStorage opens (creating if absent) the bbolt database at path and
// initializes every table bucket used by the core.
func NewStorage(path string) (*Storage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to open database at %s", path)
	}
	s := &Storage{db: db}
	if err := s.initBuckets(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) initBuckets() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, table := range allTables {
			if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return wrapErr(KindStorageFailure, err, "failed to initialize storage buckets")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// AtomicScope is a transactional boundary: every write against it commits
// together, or none do, mirroring spec §5's "atomic { ... }" block. Scopes
// are explicit and passed down the call chain rather than implicit on a
// goroutine, which is how nesting is modeled in this Go rendition: an
// operation that needs atomicity either opens a new top-level scope (when
// called with scope == nil) or reuses the caller's scope (when one is
// already open), so a nested call always "joins the outermost" by
// construction rather than by a second, would-deadlock bbolt transaction.
type AtomicScope struct {
	tx *bbolt.Tx
}

// Atomic runs fn inside a single bbolt read-write transaction. Any error
// returned by fn rolls back every write made through the scope.
func (s *Storage) Atomic(fn func(scope *AtomicScope) error) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&AtomicScope{tx: tx})
	})
	if err != nil {
		if de, ok := err.(*DomainError); ok {
			return de
		}
		return wrapErr(KindStorageFailure, err, "atomic scope failed")
	}
	return nil
}

// WithScope runs op with scope if scope is already open, otherwise opens a
// fresh top-level atomic scope and runs op inside it. This is the "join the
// outermost" mechanism described on AtomicScope.
func (s *Storage) WithScope(scope *AtomicScope, op func(scope *AtomicScope) error) error {
	if scope != nil {
		return op(scope)
	}
	return s.Atomic(op)
}

func marshalRecord(record Record) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to marshal record")
	}
	return data, nil
}

func unmarshalRecord(data []byte) (Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to unmarshal record")
	}
	return record, nil
}

// --- non-atomic convenience operations (open their own transaction) ---

func (s *Storage) Save(table, id string, record Record) error {
	return s.Atomic(func(scope *AtomicScope) error {
		return scope.Save(table, id, record)
	})
}

func (s *Storage) Load(table, id string) (Record, bool, error) {
	var record Record
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return fmt.Errorf("unknown table: %s", table)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		rec, err := unmarshalRecord(data)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, false, wrapErr(KindStorageFailure, err, "load %s/%s failed", table, id)
	}
	return record, found, nil
}

func (s *Storage) LoadAll(table string) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return fmt.Errorf("unknown table: %s", table)
		}
		return b.ForEach(func(k, v []byte) error {
			rec, err := unmarshalRecord(v)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "load_all %s failed", table)
	}
	return records, nil
}

func recordMatches(record Record, filter Record) bool {
	for field, want := range filter {
		got, ok := record[field]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func (s *Storage) Find(table string, filter Record) ([]Record, error) {
	all, err := s.LoadAll(table)
	if err != nil {
		return nil, err
	}
	var matched []Record
	for _, rec := range all {
		if recordMatches(rec, filter) {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

func (s *Storage) Delete(table, id string) (bool, error) {
	var deleted bool
	err := s.Atomic(func(scope *AtomicScope) error {
		var err error
		deleted, err = scope.Delete(table, id)
		return err
	})
	return deleted, err
}

func (s *Storage) Exists(table, id string) (bool, error) {
	_, found, err := s.Load(table, id)
	return found, err
}

func (s *Storage) Count(table string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return fmt.Errorf("unknown table: %s", table)
		}
		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, wrapErr(KindStorageFailure, err, "count %s failed", table)
	}
	return count, nil
}

func (s *Storage) ClearTable(table string) error {
	return s.Atomic(func(scope *AtomicScope) error {
		return scope.ClearTable(table)
	})
}

// --- scope-bound operations (share the caller's transaction) ---

func (a *AtomicScope) Save(table, id string, record Record) error {
	b := a.tx.Bucket([]byte(table))
	if b == nil {
		return fmt.Errorf("unknown table: %s", table)
	}
	data, err := marshalRecord(record)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func (a *AtomicScope) Load(table, id string) (Record, bool, error) {
	b := a.tx.Bucket([]byte(table))
	if b == nil {
		return nil, false, fmt.Errorf("unknown table: %s", table)
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, false, nil
	}
	rec, err := unmarshalRecord(data)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (a *AtomicScope) LoadAll(table string) ([]Record, error) {
	b := a.tx.Bucket([]byte(table))
	if b == nil {
		return nil, fmt.Errorf("unknown table: %s", table)
	}
	var records []Record
	err := b.ForEach(func(k, v []byte) error {
		rec, err := unmarshalRecord(v)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

func (a *AtomicScope) Find(table string, filter Record) ([]Record, error) {
	all, err := a.LoadAll(table)
	if err != nil {
		return nil, err
	}
	var matched []Record
	for _, rec := range all {
		if recordMatches(rec, filter) {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

func (a *AtomicScope) Delete(table, id string) (bool, error) {
	b := a.tx.Bucket([]byte(table))
	if b == nil {
		return false, fmt.Errorf("unknown table: %s", table)
	}
	existing := b.Get([]byte(id))
	if existing == nil {
		return false, nil
	}
	if err := b.Delete([]byte(id)); err != nil {
		return false, err
	}
	return true, nil
}

func (a *AtomicScope) Exists(table, id string) (bool, error) {
	_, found, err := a.Load(table, id)
	return found, err
}

func (a *AtomicScope) Count(table string) (int, error) {
	b := a.tx.Bucket([]byte(table))
	if b == nil {
		return 0, fmt.Errorf("unknown table: %s", table)
	}
	return b.Stats().KeyN, nil
}

func (a *AtomicScope) ClearTable(table string) error {
	if err := a.tx.DeleteBucket([]byte(table)); err != nil && err != bbolt.ErrBucketNotFound {
		return err
	}
	_, err := a.tx.CreateBucketIfNotExists([]byte(table))
	return err
}
