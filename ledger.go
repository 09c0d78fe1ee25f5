package banking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType is the accounting-model classifier that determines the sign
// convention used when deriving balances from posted journal entries.
type AccountType string

const (
	Asset     AccountType = "ASSET"
	Liability AccountType = "LIABILITY"
	Equity    AccountType = "EQUITY"
	Revenue   AccountType = "REVENUE"
	Expense   AccountType = "EXPENSE"
)

// JournalEntryState is the posting state machine: PENDING -> POSTED -> REVERSED.
type JournalEntryState string

const (
	EntryPending  JournalEntryState = "PENDING"
	EntryPosted   JournalEntryState = "POSTED"
	EntryReversed JournalEntryState = "REVERSED"
)

// JournalEntryLine is one (account, debit xor credit) leg of a journal entry.
type JournalEntryLine struct {
	AccountID   string
	Debit       Money
	Credit      Money
	Description string
}

func (l JournalEntryLine) validate() error {
	debitSet := !l.Debit.Amount.IsZero()
	creditSet := !l.Credit.Amount.IsZero()
	if debitSet == creditSet {
		return newErr(KindLineMalformed, "line for account %s must have exactly one of debit/credit non-zero", l.AccountID)
	}
	if debitSet && creditSet && l.Debit.Currency.Code != l.Credit.Currency.Code {
		return newErr(KindLineMalformed, "line for account %s mixes currencies %s/%s", l.AccountID, l.Debit.Currency.Code, l.Credit.Currency.Code)
	}
	return nil
}

// currency returns whichever of Debit/Credit is non-zero's currency.
func (l JournalEntryLine) currency() Currency {
	if !l.Debit.Amount.IsZero() {
		return l.Debit.Currency
	}
	return l.Credit.Currency
}

// JournalEntry is an ordered set of balanced lines recording one economic event.
type JournalEntry struct {
	ID                 string
	Reference           string
	Description         string
	Lines               []JournalEntryLine
	State               JournalEntryState
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ReversesEntryID     *string // set on a reversing entry: the entry it reverses
	ReversedByEntryID   *string // set on a reversed entry: the reversing entry's id
}

// validateBalance checks that, per currency appearing in the lines, debits == credits.
func (e *JournalEntry) validateBalance() error {
	if len(e.Lines) == 0 {
		return newErr(KindEmptyEntry, "journal entry %s has no lines", e.ID)
	}
	totals := map[string]decimal.Decimal{}
	for _, line := range e.Lines {
		if err := line.validate(); err != nil {
			return err
		}
		c := line.currency().Code
		totals[c] = totals[c].Add(line.Debit.Amount).Sub(line.Credit.Amount)
	}
	for code, net := range totals {
		if !net.IsZero() {
			return newErr(KindUnbalanced, "entry %s unbalanced in %s: net %s", e.ID, code, net.String())
		}
	}
	return nil
}

// Ledger is the balanced-journal engine: it is the sole authority on
// account balances, which are always derived by replaying posted entries,
// never cached.
type Ledger struct {
	storage *Storage
	audit   *AuditTrail
}

// NewLedger constructs a Ledger over storage, logging to audit.
func NewLedger(storage *Storage, audit *AuditTrail) *Ledger {
	return &Ledger{storage: storage, audit: audit}
}

// CreateEntry validates balance per currency and persists a new entry in PENDING.
func (l *Ledger) CreateEntry(scope *AtomicScope, reference, description string, lines []JournalEntryLine) (*JournalEntry, error) {
	now := time.Now().UTC()
	entry := &JournalEntry{
		ID:          uuid.New().String(),
		Reference:   reference,
		Description: description,
		Lines:       lines,
		State:       EntryPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := entry.validateBalance(); err != nil {
		return nil, err
	}

	err := l.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableJournalEntries, entry.ID, journalEntryToRecord(entry)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save journal entry %s", entry.ID)
		}
		_, err := l.audit.LogEvent(s, EventJournalEntryCreated, "journal_entry", entry.ID, map[string]interface{}{
			"reference":   reference,
			"description": description,
			"line_count":  len(lines),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PostEntry requires PENDING and transitions the entry to POSTED atomically.
func (l *Ledger) PostEntry(scope *AtomicScope, id string) (*JournalEntry, error) {
	var entry *JournalEntry
	err := l.storage.WithScope(scope, func(s *AtomicScope) error {
		e, err := l.load(s, id)
		if err != nil {
			return err
		}
		if e.State != EntryPending {
			return newErr(KindBadState, "cannot post entry %s: state is %s, want PENDING", id, e.State)
		}
		e.State = EntryPosted
		e.UpdatedAt = time.Now().UTC()
		if err := s.Save(TableJournalEntries, e.ID, journalEntryToRecord(e)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save posted entry %s", id)
		}
		if _, err := l.audit.LogEvent(s, EventJournalEntryPosted, "journal_entry", e.ID, map[string]interface{}{
			"reference": e.Reference,
		}); err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ReverseEntry requires POSTED. It builds a second entry with every line's
// debit/credit swapped and "REVERSAL:" prefixed onto the description, posts
// it, and transitions the original to REVERSED — all in one atomic scope.
func (l *Ledger) ReverseEntry(scope *AtomicScope, id, reason string) (*JournalEntry, error) {
	var reversing *JournalEntry
	err := l.storage.WithScope(scope, func(s *AtomicScope) error {
		original, err := l.load(s, id)
		if err != nil {
			return err
		}
		if original.State != EntryPosted {
			return newErr(KindBadState, "cannot reverse entry %s: state is %s, want POSTED", id, original.State)
		}

		reversedLines := make([]JournalEntryLine, len(original.Lines))
		for i, line := range original.Lines {
			reversedLines[i] = JournalEntryLine{
				AccountID:   line.AccountID,
				Debit:       line.Credit,
				Credit:      line.Debit,
				Description: line.Description,
			}
		}

		now := time.Now().UTC()
		originalID := original.ID
		reversing = &JournalEntry{
			ID:              uuid.New().String(),
			Reference:       original.Reference,
			Description:     fmt.Sprintf("REVERSAL: %s", original.Description),
			Lines:           reversedLines,
			State:           EntryPending,
			CreatedAt:       now,
			UpdatedAt:       now,
			ReversesEntryID: &originalID,
		}
		if err := reversing.validateBalance(); err != nil {
			return wrapErr(KindInvariant, err, "reversal of entry %s failed to balance", id)
		}
		if err := s.Save(TableJournalEntries, reversing.ID, journalEntryToRecord(reversing)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save reversing entry")
		}

		reversing.State = EntryPosted
		reversing.UpdatedAt = time.Now().UTC()
		if err := s.Save(TableJournalEntries, reversing.ID, journalEntryToRecord(reversing)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to post reversing entry")
		}

		reversingID := reversing.ID
		original.State = EntryReversed
		original.ReversedByEntryID = &reversingID
		original.UpdatedAt = time.Now().UTC()
		if err := s.Save(TableJournalEntries, original.ID, journalEntryToRecord(original)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to mark original entry reversed")
		}

		_, err = l.audit.LogEvent(s, EventJournalEntryReversed, "journal_entry", original.ID, map[string]interface{}{
			"reversing_entry_id": reversing.ID,
			"reason":              reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return reversing, nil
}

func (l *Ledger) load(s *AtomicScope, id string) (*JournalEntry, error) {
	var rec Record
	var found bool
	var err error
	if s != nil {
		rec, found, err = s.Load(TableJournalEntries, id)
	} else {
		rec, found, err = l.storage.Load(TableJournalEntries, id)
	}
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to load journal entry %s", id)
	}
	if !found {
		return nil, newErr(KindNotFound, "journal entry %s not found", id)
	}
	return journalEntryFromRecord(rec)
}

// GetEntry loads a journal entry by id (read-only).
func (l *Ledger) GetEntry(id string) (*JournalEntry, error) {
	return l.load(nil, id)
}

// balanceMultiplier implements the normal-balance sign convention: Asset and
// Expense accounts are debit-positive; Liability, Equity, and Revenue
// accounts are credit-positive.
func balanceMultiplier(accountType AccountType, isDebitLine bool) int64 {
	switch accountType {
	case Asset, Expense:
		if isDebitLine {
			return 1
		}
		return -1
	case Liability, Equity, Revenue:
		if isDebitLine {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// DeriveAccountBalance replays every POSTED entry touching accountID up to
// asOf (inclusive), summing per the account's normal-balance sign
// convention. Balances are never cached: this is the sole source of truth.
func (l *Ledger) DeriveAccountBalance(accountID string, accountType AccountType, currency Currency, asOf *time.Time) (Money, error) {
	entries, err := l.EntriesForAccount(accountID, nil, nil)
	if err != nil {
		return Money{}, err
	}

	total := decimal.Zero
	for _, entry := range entries {
		if entry.State != EntryPosted {
			continue
		}
		if asOf != nil && entry.UpdatedAt.After(*asOf) {
			continue
		}
		for _, line := range entry.Lines {
			if line.AccountID != accountID {
				continue
			}
			if line.currency().Code != currency.Code {
				continue
			}
			isDebit := !line.Debit.Amount.IsZero()
			var amount decimal.Decimal
			if isDebit {
				amount = line.Debit.Amount
			} else {
				amount = line.Credit.Amount
			}
			mult := balanceMultiplier(accountType, isDebit)
			total = total.Add(amount.Mul(decimal.NewFromInt(mult)))
		}
	}
	return NewMoney(total, currency), nil
}

// EntriesForAccount returns every journal entry with at least one line on
// accountID, optionally filtered by state and by entries created on/after
// sinceState time bound.
func (l *Ledger) EntriesForAccount(accountID string, state *JournalEntryState, since *time.Time) ([]*JournalEntry, error) {
	all, err := l.storage.LoadAll(TableJournalEntries)
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to load journal entries")
	}
	var matched []*JournalEntry
	for _, rec := range all {
		entry, err := journalEntryFromRecord(rec)
		if err != nil {
			return nil, err
		}
		touches := false
		for _, line := range entry.Lines {
			if line.AccountID == accountID {
				touches = true
				break
			}
		}
		if !touches {
			continue
		}
		if state != nil && entry.State != *state {
			continue
		}
		if since != nil && entry.CreatedAt.Before(*since) {
			continue
		}
		matched = append(matched, entry)
	}
	return matched, nil
}

// TrialBalance applies DeriveAccountBalance to every account in accountTypes.
func (l *Ledger) TrialBalance(accountTypes map[string]AccountType, currency Currency, asOf *time.Time) (map[string]Money, error) {
	result := make(map[string]Money, len(accountTypes))
	for accountID, accountType := range accountTypes {
		balance, err := l.DeriveAccountBalance(accountID, accountType, currency, asOf)
		if err != nil {
			return nil, err
		}
		result[accountID] = balance
	}
	return result, nil
}

// --- serialization (ledger owns JournalEntry's record shape) ---

func journalEntryToRecord(e *JournalEntry) Record {
	lines := make([]interface{}, len(e.Lines))
	for i, line := range e.Lines {
		lines[i] = map[string]interface{}{
			"account_id":  line.AccountID,
			"debit":       line.Debit.ToRecord(),
			"credit":      line.Credit.ToRecord(),
			"description": line.Description,
		}
	}
	r := Record{
		"id":          e.ID,
		"reference":   e.Reference,
		"description": e.Description,
		"lines":       lines,
		"state":       string(e.State),
		"created_at":  timeToRecord(e.CreatedAt),
		"updated_at":  timeToRecord(e.UpdatedAt),
	}
	if e.ReversesEntryID != nil {
		r["reverses_entry_id"] = *e.ReversesEntryID
	}
	if e.ReversedByEntryID != nil {
		r["reversed_by_entry_id"] = *e.ReversedByEntryID
	}
	return r
}

func journalEntryFromRecord(r Record) (*JournalEntry, error) {
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "journal entry has malformed created_at")
	}
	updatedAt, err := asTime(r["updated_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "journal entry has malformed updated_at")
	}

	rawLines, _ := r["lines"].([]interface{})
	lines := make([]JournalEntryLine, 0, len(rawLines))
	for _, rl := range rawLines {
		lm, ok := rl.(map[string]interface{})
		if !ok {
			return nil, newErr(KindInvariant, "journal entry line has unexpected shape")
		}
		debit, err := moneyFromAny(lm["debit"])
		if err != nil {
			return nil, err
		}
		credit, err := moneyFromAny(lm["credit"])
		if err != nil {
			return nil, err
		}
		lines = append(lines, JournalEntryLine{
			AccountID:   asString(lm["account_id"]),
			Debit:       debit,
			Credit:      credit,
			Description: asString(lm["description"]),
		})
	}

	return &JournalEntry{
		ID:                asString(r["id"]),
		Reference:         asString(r["reference"]),
		Description:       asString(r["description"]),
		Lines:             lines,
		State:             JournalEntryState(asString(r["state"])),
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
		ReversesEntryID:   asStringPtr(r["reverses_entry_id"]),
		ReversedByEntryID: asStringPtr(r["reversed_by_entry_id"]),
	}, nil
}

// moneyFromAny decodes a Money value that round-tripped through JSON as
// map[string]interface{} (when read back from bbolt) rather than the
// original MoneyRecord struct (when still in-process).
func moneyFromAny(v interface{}) (Money, error) {
	switch t := v.(type) {
	case MoneyRecord:
		return MoneyFromRecord(t)
	case map[string]interface{}:
		return MoneyFromRecord(MoneyRecord{
			Amount:   asString(t["amount"]),
			Currency: asString(t["currency"]),
		})
	case nil:
		return Money{}, nil
	default:
		return Money{}, fmt.Errorf("unexpected money representation %T", v)
	}
}
