package banking

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the kind of money movement a Transaction represents.
type TransactionType string

const (
	TxnDeposit          TransactionType = "DEPOSIT"
	TxnWithdrawal       TransactionType = "WITHDRAWAL"
	TxnTransferInternal TransactionType = "TRANSFER_INTERNAL"
	TxnPayment          TransactionType = "PAYMENT"
	TxnFee              TransactionType = "FEE"
	TxnInterestCredit   TransactionType = "INTEREST_CREDIT"
	TxnInterestDebit    TransactionType = "INTEREST_DEBIT"
	// TxnLoanFeeAssessment credits the target account instead of debiting it.
	// TxnFee's debit direction only reads as "more owed" on accounts whose
	// book balance flips sign (CREDIT_LINE); a loan account carries no such
	// flip, so a fee assessed against it has to increase the raw balance
	// directly via a credit, the same direction DisburseLoan uses.
	TxnLoanFeeAssessment TransactionType = "LOAN_FEE_ASSESSMENT"
	TxnReversal          TransactionType = "REVERSAL"
)

// TransactionState is the processing state machine.
type TransactionState string

const (
	TxnPending    TransactionState = "PENDING"
	TxnProcessing TransactionState = "PROCESSING"
	TxnCompleted  TransactionState = "COMPLETED"
	TxnFailed     TransactionState = "FAILED"
	TxnReversed   TransactionState = "REVERSED"
)

// TransactionChannel tags the origin of a transaction for reporting and
// for deciding whether the compliance gate applies.
type TransactionChannel string

const (
	ChannelBranch TransactionChannel = "BRANCH"
	ChannelOnline TransactionChannel = "ONLINE"
	ChannelMobile TransactionChannel = "MOBILE"
	ChannelATM    TransactionChannel = "ATM"
	ChannelAPI    TransactionChannel = "API"
	ChannelSystem TransactionChannel = "SYSTEM"
)

// Reserved GL placeholder account ids. These never appear in the accounts
// table; their account type is fixed here so the ledger's sign convention
// still applies when a journal line touches one.
const (
	glCashSource        = "GL-CASH-SOURCE"
	glFeeRevenue        = "GL-FEE-REVENUE"
	glInterestExpense   = "GL-INTEREST-EXPENSE"
	glInterestRevenue   = "GL-INTEREST-REVENUE"
	glLoanFeeReceivable = "GL-LOAN-FEE-RECEIVABLE"
)

var glAccountTypes = map[string]AccountType{
	glCashSource:        Asset,
	glFeeRevenue:        Revenue,
	glInterestExpense:   Expense,
	glInterestRevenue:   Revenue,
	glLoanFeeReceivable: Asset,
}

// Transaction is an intent to move money, tracked independently of the
// journal entry it eventually posts.
type Transaction struct {
	ID                    string
	Type                  TransactionType
	FromAccountID         *string
	ToAccountID           *string
	Amount                Money
	Description           string
	IdempotencyKey        string
	Channel               TransactionChannel
	InitiatedByCustomer   bool
	State                 TransactionState
	ComplianceDecision    *ComplianceAction
	ErrorMessage          *string
	JournalEntryID        *string
	Reference             string
	OriginalTransactionID *string
	ReversalTransactionID *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ProcessedAt           *time.Time
}

// TransactionProcessor is the hot path: a two-phase create (durable,
// idempotent intent) then process (compliance, balance check, ledger
// posting, state update — all atomic) model.
type TransactionProcessor struct {
	storage    *Storage
	ledger     *Ledger
	accounts   *AccountManager
	compliance *ComplianceGate
	audit      *AuditTrail
}

// NewTransactionProcessor constructs a TransactionProcessor. compliance may
// be nil during bootstrap wiring but must be set before ProcessTransaction
// is called for a customer-initiated transaction.
func NewTransactionProcessor(storage *Storage, ledger *Ledger, accounts *AccountManager, compliance *ComplianceGate, audit *AuditTrail) *TransactionProcessor {
	return &TransactionProcessor{storage: storage, ledger: ledger, accounts: accounts, compliance: compliance, audit: audit}
}

// CreateTransactionParams bundles CreateTransaction's inputs.
type CreateTransactionParams struct {
	Type                TransactionType
	Amount              Money
	Description         string
	Channel             TransactionChannel
	FromAccountID       string
	ToAccountID         string
	Reference           string
	IdempotencyKey      string // optional; generated if empty
	InitiatedByCustomer bool
}

func requiredAccountsFor(t TransactionType, p CreateTransactionParams) error {
	switch t {
	case TxnDeposit, TxnInterestCredit, TxnLoanFeeAssessment:
		if p.ToAccountID == "" {
			return newErr(KindInvariant, "%s requires a `to` account", t)
		}
	case TxnWithdrawal, TxnFee, TxnInterestDebit:
		if p.FromAccountID == "" {
			return newErr(KindInvariant, "%s requires a `from` account", t)
		}
	case TxnTransferInternal:
		if p.FromAccountID == "" || p.ToAccountID == "" {
			return newErr(KindInvariant, "TRANSFER_INTERNAL requires both `from` and `to` accounts")
		}
	case TxnPayment:
		if p.ToAccountID == "" && p.FromAccountID == "" {
			return newErr(KindInvariant, "PAYMENT requires at least one account")
		}
	case TxnReversal:
		// built internally by ReverseTransaction, never via CreateTransaction.
		return newErr(KindInvariant, "REVERSAL transactions cannot be created directly")
	default:
		return newErr(KindInvariant, "unknown transaction type %q", t)
	}
	return nil
}

func (p *TransactionProcessor) validateAccountCurrency(accountID string, amount Money) error {
	if accountID == "" {
		return nil
	}
	if _, isGL := glAccountTypes[accountID]; isGL {
		return nil
	}
	acct, err := p.accounts.GetAccount(accountID)
	if err != nil {
		return err
	}
	if acct.Currency.Code != amount.Currency.Code {
		return newErr(KindCurrencyMismatch, "account %s currency %s does not match transaction currency %s", accountID, acct.Currency.Code, amount.Currency.Code)
	}
	return nil
}

// CreateTransaction validates type-specific account requirements and
// currency consistency, resolves idempotency (first-writer-wins on a
// supplied key), and persists the transaction in PENDING.
func (p *TransactionProcessor) CreateTransaction(scope *AtomicScope, params CreateTransactionParams) (*Transaction, error) {
	if err := requiredAccountsFor(params.Type, params); err != nil {
		return nil, err
	}
	if err := p.validateAccountCurrency(params.FromAccountID, params.Amount); err != nil {
		return nil, err
	}
	if err := p.validateAccountCurrency(params.ToAccountID, params.Amount); err != nil {
		return nil, err
	}

	key := params.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	var result *Transaction
	err := p.storage.WithScope(scope, func(s *AtomicScope) error {
		existingMapping, found, err := s.Load(TableIdempotencyKeys, key)
		if err != nil {
			return wrapErr(KindStorageFailure, err, "failed to query idempotency key %s", key)
		}
		if found {
			existing, err := p.load(s, asString(existingMapping["transaction_id"]))
			if err != nil {
				return err
			}
			result = existing
			return nil
		}

		now := time.Now().UTC()
		txn := &Transaction{
			ID:                  uuid.New().String(),
			Type:                params.Type,
			Amount:              params.Amount,
			Description:         params.Description,
			IdempotencyKey:      key,
			Channel:             params.Channel,
			InitiatedByCustomer: params.InitiatedByCustomer,
			State:               TxnPending,
			Reference:           params.Reference,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if params.FromAccountID != "" {
			from := params.FromAccountID
			txn.FromAccountID = &from
		}
		if params.ToAccountID != "" {
			to := params.ToAccountID
			txn.ToAccountID = &to
		}

		if err := s.Save(TableTransactions, txn.ID, transactionToRecord(txn)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save transaction %s", txn.ID)
		}
		if err := s.Save(TableIdempotencyKeys, key, Record{"transaction_id": txn.ID}); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save idempotency mapping")
		}
		if _, err := p.audit.LogEvent(s, EventTransactionCreated, "transaction", txn.ID, map[string]interface{}{
			"type":   string(txn.Type),
			"amount": txn.Amount.String(),
		}); err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// buildJournalLines constructs the two balanced lines for txn per the
// processor's type→account table. The GL side is always whichever
// placeholder account matches the transaction type's external leg.
func buildJournalLines(txn *Transaction) ([]JournalEntryLine, error) {
	amount := txn.Amount
	zero := Zero(amount.Currency)
	line := func(accountID string, debit bool) JournalEntryLine {
		if debit {
			return JournalEntryLine{AccountID: accountID, Debit: amount, Credit: zero, Description: txn.Description}
		}
		return JournalEntryLine{AccountID: accountID, Debit: zero, Credit: amount, Description: txn.Description}
	}

	switch txn.Type {
	case TxnDeposit:
		return []JournalEntryLine{line(*txn.ToAccountID, true), line(glCashSource, false)}, nil
	case TxnWithdrawal:
		return []JournalEntryLine{line(glCashSource, true), line(*txn.FromAccountID, false)}, nil
	case TxnTransferInternal:
		return []JournalEntryLine{line(*txn.ToAccountID, true), line(*txn.FromAccountID, false)}, nil
	case TxnPayment:
		source := glCashSource
		if txn.FromAccountID != nil {
			source = *txn.FromAccountID
		}
		return []JournalEntryLine{line(source, true), line(*txn.ToAccountID, false)}, nil
	case TxnFee:
		return []JournalEntryLine{line(*txn.FromAccountID, true), line(glFeeRevenue, false)}, nil
	case TxnLoanFeeAssessment:
		return []JournalEntryLine{line(glLoanFeeReceivable, true), line(*txn.ToAccountID, false)}, nil
	case TxnInterestCredit:
		return []JournalEntryLine{line(glInterestExpense, true), line(*txn.ToAccountID, false)}, nil
	case TxnInterestDebit:
		return []JournalEntryLine{line(*txn.FromAccountID, true), line(glInterestRevenue, false)}, nil
	default:
		return nil, newErr(KindInvariant, "no journal line mapping for transaction type %q", txn.Type)
	}
}

func (p *TransactionProcessor) lineAccountType(accountID string) (AccountType, error) {
	if t, ok := glAccountTypes[accountID]; ok {
		return t, nil
	}
	acct, err := p.accounts.GetAccount(accountID)
	if err != nil {
		return "", err
	}
	return acct.AccountType, nil
}

// checkAvailableBalance verifies, for every line whose normal-balance
// effect decreases a real account's balance, that the account's available
// balance (which already folds in any credit line) covers the line amount.
// FEE lines are exempt: a fee is routinely charged precisely because an
// account is already at or past its limit (overlimit fees, late fees), so
// gating it on the same available-balance check it's meant to react to
// would make the fee uncollectable.
func (p *TransactionProcessor) checkAvailableBalance(txnType TransactionType, lines []JournalEntryLine) error {
	if txnType == TxnFee {
		return nil
	}
	for _, ln := range lines {
		if _, isGL := glAccountTypes[ln.AccountID]; isGL {
			continue
		}
		accountType, err := p.lineAccountType(ln.AccountID)
		if err != nil {
			return err
		}
		isDebit := !ln.Debit.IsZero()
		if balanceMultiplier(accountType, isDebit) >= 0 {
			continue
		}
		acct, err := p.accounts.GetAccount(ln.AccountID)
		if err != nil {
			return err
		}
		if !acct.CanDebit() {
			return newErr(KindBadState, "account %s cannot be debited in state %s", acct.ID, acct.State)
		}
		available, err := p.accounts.GetAvailableBalance(acct)
		if err != nil {
			return err
		}
		amount := ln.nonZeroAmount()
		if available.LessThan(amount) {
			return newErr(KindInsufficientFunds, "account %s available balance %s is less than %s", acct.ID, available.String(), amount.String())
		}
	}
	return nil
}

// nonZeroAmount returns whichever side of the line is non-zero.
func (l JournalEntryLine) nonZeroAmount() Money {
	if !l.Debit.IsZero() {
		return l.Debit
	}
	return l.Credit
}

func (p *TransactionProcessor) fail(s *AtomicScope, txn *Transaction, err error) (*Transaction, error) {
	msg := err.Error()
	txn.State = TxnFailed
	txn.ErrorMessage = &msg
	txn.UpdatedAt = time.Now().UTC()
	if saveErr := s.Save(TableTransactions, txn.ID, transactionToRecord(txn)); saveErr != nil {
		return nil, wrapErr(KindStorageFailure, saveErr, "failed to save failed transaction %s", txn.ID)
	}
	if _, auditErr := p.audit.LogEvent(s, EventTransactionFailed, "transaction", txn.ID, map[string]interface{}{
		"error": msg,
	}); auditErr != nil {
		return nil, auditErr
	}
	return txn, err
}

// ProcessTransaction drives a PENDING transaction through compliance,
// balance checks, and journal posting, all within one atomic scope.
func (p *TransactionProcessor) ProcessTransaction(scope *AtomicScope, id string) (*Transaction, error) {
	var result *Transaction
	var resultErr error

	err := p.storage.WithScope(scope, func(s *AtomicScope) error {
		txn, err := p.load(s, id)
		if err != nil {
			return err
		}
		if txn.State != TxnPending {
			return newErr(KindBadState, "cannot process transaction %s: state is %s, want PENDING", id, txn.State)
		}

		if txn.InitiatedByCustomer {
			customerID, err := p.resolveCustomerID(txn)
			if err != nil {
				return err
			}
			if customerID != "" && p.compliance != nil {
				decision, _, err := p.compliance.CheckTransaction(s, txn, customerID)
				if err != nil {
					return err
				}
				txn.ComplianceDecision = &decision
				switch decision {
				case ComplianceAllow, ComplianceReport:
					// continue; REPORT is a non-blocking advisory, filed by the gate itself.
				case ComplianceReview:
					txn.UpdatedAt = time.Now().UTC()
					if err := s.Save(TableTransactions, txn.ID, transactionToRecord(txn)); err != nil {
						return wrapErr(KindStorageFailure, err, "failed to save transaction %s pending review", txn.ID)
					}
					result = txn
					return nil
				case ComplianceBlock, ComplianceFreeze:
					result, resultErr = p.fail(s, txn, newErr(KindComplianceBlocked, "transaction %s blocked by compliance", id))
					return nil
				}
			}
		}

		lines, err := buildJournalLines(txn)
		if err != nil {
			result, resultErr = p.fail(s, txn, err)
			return nil
		}
		if err := p.checkAvailableBalance(txn.Type, lines); err != nil {
			result, resultErr = p.fail(s, txn, err)
			return nil
		}

		entry, err := p.ledger.CreateEntry(s, txn.Reference, txn.Description, lines)
		if err != nil {
			result, resultErr = p.fail(s, txn, err)
			return nil
		}
		if _, err := p.ledger.PostEntry(s, entry.ID); err != nil {
			result, resultErr = p.fail(s, txn, err)
			return nil
		}

		now := time.Now().UTC()
		txn.State = TxnCompleted
		txn.JournalEntryID = &entry.ID
		txn.ProcessedAt = &now
		txn.UpdatedAt = now
		if err := s.Save(TableTransactions, txn.ID, transactionToRecord(txn)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save completed transaction %s", txn.ID)
		}
		if _, err := p.audit.LogEvent(s, EventTransactionPosted, "transaction", txn.ID, map[string]interface{}{
			"journal_entry_id": entry.ID,
		}); err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	// A failure is recorded as FAILED inside the scope, which commits; the
	// failure itself is returned only after the scope has closed.
	if resultErr != nil {
		return nil, resultErr
	}
	return result, nil
}

func (p *TransactionProcessor) resolveCustomerID(txn *Transaction) (string, error) {
	id := txn.FromAccountID
	if id == nil {
		id = txn.ToAccountID
	}
	if id == nil {
		return "", nil
	}
	if _, isGL := glAccountTypes[*id]; isGL {
		return "", nil
	}
	acct, err := p.accounts.GetAccount(*id)
	if err != nil {
		return "", err
	}
	return acct.CustomerID, nil
}

// ReverseTransaction requires a COMPLETED transaction with a posted journal
// entry. It creates a linked REVERSAL transaction, reverses the journal
// entry, and transitions both transactions' states, all in one scope.
func (p *TransactionProcessor) ReverseTransaction(scope *AtomicScope, id, reason string) (*Transaction, error) {
	var reversal *Transaction
	err := p.storage.WithScope(scope, func(s *AtomicScope) error {
		original, err := p.load(s, id)
		if err != nil {
			return err
		}
		if original.State != TxnCompleted {
			return newErr(KindBadState, "cannot reverse transaction %s: state is %s, want COMPLETED", id, original.State)
		}
		if original.JournalEntryID == nil {
			return newErr(KindInvariant, "transaction %s has no journal entry to reverse", id)
		}

		reversedEntry, err := p.ledger.ReverseEntry(s, *original.JournalEntryID, reason)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		originalID := original.ID
		reversal = &Transaction{
			ID:                    uuid.New().String(),
			Type:                  TxnReversal,
			FromAccountID:         original.FromAccountID,
			ToAccountID:           original.ToAccountID,
			Amount:                original.Amount,
			Description:           "REVERSAL: " + original.Description,
			IdempotencyKey:        uuid.New().String(),
			Channel:               original.Channel,
			State:                 TxnCompleted,
			JournalEntryID:        &reversedEntry.ID,
			Reference:             original.Reference,
			OriginalTransactionID: &originalID,
			CreatedAt:             now,
			UpdatedAt:             now,
			ProcessedAt:           &now,
		}
		if err := s.Save(TableTransactions, reversal.ID, transactionToRecord(reversal)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save reversal transaction")
		}

		reversalID := reversal.ID
		original.State = TxnReversed
		original.ReversalTransactionID = &reversalID
		original.UpdatedAt = now
		if err := s.Save(TableTransactions, original.ID, transactionToRecord(original)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to mark transaction %s reversed", id)
		}

		_, err = p.audit.LogEvent(s, EventTransactionReversed, "transaction", original.ID, map[string]interface{}{
			"reversal_transaction_id": reversal.ID,
			"reason":                  reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

func (p *TransactionProcessor) load(s *AtomicScope, id string) (*Transaction, error) {
	var rec Record
	var found bool
	var err error
	if s != nil {
		rec, found, err = s.Load(TableTransactions, id)
	} else {
		rec, found, err = p.storage.Load(TableTransactions, id)
	}
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to load transaction %s", id)
	}
	if !found {
		return nil, newErr(KindNotFound, "transaction %s not found", id)
	}
	return transactionFromRecord(rec)
}

// GetTransaction loads a transaction by id (read-only).
func (p *TransactionProcessor) GetTransaction(id string) (*Transaction, error) {
	return p.load(nil, id)
}

// --- serialization ---

func transactionToRecord(t *Transaction) Record {
	r := Record{
		"id":                    t.ID,
		"type":                  string(t.Type),
		"amount":                t.Amount.ToRecord(),
		"description":           t.Description,
		"idempotency_key":       t.IdempotencyKey,
		"channel":               string(t.Channel),
		"initiated_by_customer": t.InitiatedByCustomer,
		"state":                 string(t.State),
		"reference":             t.Reference,
		"created_at":            timeToRecord(t.CreatedAt),
		"updated_at":            timeToRecord(t.UpdatedAt),
	}
	if t.FromAccountID != nil {
		r["from_account_id"] = *t.FromAccountID
	}
	if t.ToAccountID != nil {
		r["to_account_id"] = *t.ToAccountID
	}
	if t.ComplianceDecision != nil {
		r["compliance_decision"] = string(*t.ComplianceDecision)
	}
	if t.ErrorMessage != nil {
		r["error_message"] = *t.ErrorMessage
	}
	if t.JournalEntryID != nil {
		r["journal_entry_id"] = *t.JournalEntryID
	}
	if t.OriginalTransactionID != nil {
		r["original_transaction_id"] = *t.OriginalTransactionID
	}
	if t.ReversalTransactionID != nil {
		r["reversal_transaction_id"] = *t.ReversalTransactionID
	}
	if t.ProcessedAt != nil {
		r["processed_at"] = timeToRecord(*t.ProcessedAt)
	}
	return r
}

func transactionFromRecord(r Record) (*Transaction, error) {
	amount, err := moneyFromAny(r["amount"])
	if err != nil {
		return nil, err
	}
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "transaction has malformed created_at")
	}
	updatedAt, err := asTime(r["updated_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "transaction has malformed updated_at")
	}
	processedAt, err := asTimePtr(r["processed_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "transaction has malformed processed_at")
	}

	var decision *ComplianceAction
	if raw, ok := r["compliance_decision"]; ok {
		d := ComplianceAction(asString(raw))
		decision = &d
	}

	return &Transaction{
		ID:                    asString(r["id"]),
		Type:                  TransactionType(asString(r["type"])),
		FromAccountID:         asStringPtr(r["from_account_id"]),
		ToAccountID:           asStringPtr(r["to_account_id"]),
		Amount:                amount,
		Description:           asString(r["description"]),
		IdempotencyKey:        asString(r["idempotency_key"]),
		Channel:               TransactionChannel(asString(r["channel"])),
		InitiatedByCustomer:   asBool(r["initiated_by_customer"]),
		State:                 TransactionState(asString(r["state"])),
		ComplianceDecision:    decision,
		ErrorMessage:          asStringPtr(r["error_message"]),
		JournalEntryID:        asStringPtr(r["journal_entry_id"]),
		Reference:             asString(r["reference"]),
		OriginalTransactionID: asStringPtr(r["original_transaction_id"]),
		ReversalTransactionID: asStringPtr(r["reversal_transaction_id"]),
		CreatedAt:             createdAt,
		UpdatedAt:             updatedAt,
		ProcessedAt:           processedAt,
	}, nil
}
