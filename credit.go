package banking

import (
	"time"

	"github.com/google/uuid"
)

// StatementStatus tracks a credit statement's payment lifecycle.
type StatementStatus string

const (
	StatementCurrent     StatementStatus = "CURRENT"
	StatementPaidFull    StatementStatus = "PAID_FULL"
	StatementPaidMinimum StatementStatus = "PAID_MINIMUM"
	StatementOverdue     StatementStatus = "OVERDUE"
	StatementClosed      StatementStatus = "CLOSED"
)

// TransactionCategory classifies a credit-line transaction for statement
// aggregation and grace-period eligibility.
type TransactionCategory string

const (
	CategoryPurchase        TransactionCategory = "PURCHASE"
	CategoryCashAdvance     TransactionCategory = "CASH_ADVANCE"
	CategoryBalanceTransfer TransactionCategory = "BALANCE_TRANSFER"
	CategoryFee             TransactionCategory = "FEE"
	CategoryPayment         TransactionCategory = "PAYMENT"
	CategoryInterest        TransactionCategory = "INTEREST"
	CategoryReversal        TransactionCategory = "REVERSAL"
)

// CreditStatement is one monthly billing cycle snapshot for a credit line.
type CreditStatement struct {
	ID                 string
	AccountID          string
	StatementDate      time.Time
	DueDate            time.Time
	PreviousBalance    Money
	NewCharges         Money
	PaymentsCredits    Money
	InterestCharged    Money
	FeesCharged        Money
	CurrentBalance     Money
	MinimumPaymentDue  Money
	AvailableCredit    Money
	CreditLimit        Money
	GracePeriodActive  bool
	Status             StatementStatus
	PaidAmount         Money
	PaidDate           *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsOverdue reports whether today is past due_date with a non-zero balance.
func (s *CreditStatement) IsOverdue(asOf time.Time) bool {
	return asOf.After(s.DueDate) && !s.CurrentBalance.IsZero()
}

// IsMinimumPaid reports whether paid_amount has reached minimum_payment_due.
func (s *CreditStatement) IsMinimumPaid() bool {
	return s.PaidAmount.GreaterThanOrEqual(s.MinimumPaymentDue)
}

// IsPaidFull reports whether paid_amount has reached current_balance.
func (s *CreditStatement) IsPaidFull() bool {
	return s.PaidAmount.GreaterThanOrEqual(s.CurrentBalance)
}

// CreditTransaction classifies one underlying Transaction by credit-line
// category and tracks its grace-period eligibility.
type CreditTransaction struct {
	ID                 string
	AccountID          string
	TransactionID      string
	Category           TransactionCategory
	Amount             Money
	TransactionDate    time.Time
	PostDate           time.Time
	Description        string
	EligibleForGrace   bool
	GracePeriodApplies bool
	InterestCharged    Money
	StatementID        *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CreditEngine manages statement generation, grace-period application,
// minimum-payment calculation, and overdue late-fee assessment for
// revolving credit lines.
type CreditEngine struct {
	storage      *Storage
	accounts     *AccountManager
	transactions *TransactionProcessor
	interest     *InterestEngine
	audit        *AuditTrail
	cfg          *Config
}

// NewCreditEngine constructs a CreditEngine.
func NewCreditEngine(storage *Storage, accounts *AccountManager, transactions *TransactionProcessor, interest *InterestEngine, audit *AuditTrail, cfg *Config) *CreditEngine {
	return &CreditEngine{storage: storage, accounts: accounts, transactions: transactions, interest: interest, audit: audit, cfg: cfg}
}

func (e *CreditEngine) requireCreditLine(accountID string) (*Account, error) {
	acct, err := e.accounts.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if acct.ProductType != ProductCreditLine {
		return nil, newErr(KindInvariant, "account %s is not a credit line", accountID)
	}
	return acct, nil
}

// ProcessCreditTransaction classifies an already-posted Transaction by
// category, charges an overlimit fee first if a PURCHASE/CASH_ADVANCE
// exceeds available credit, determines grace-period eligibility from the
// prior statement's payment history, and persists the classification.
func (e *CreditEngine) ProcessCreditTransaction(scope *AtomicScope, accountID, transactionID string, category TransactionCategory, amount Money, description string, transactionDate, postDate time.Time) (*CreditTransaction, error) {
	acct, err := e.requireCreditLine(accountID)
	if err != nil {
		return nil, err
	}

	if category == CategoryPurchase || category == CategoryCashAdvance {
		// The purchase is already on the ledger, so it exceeded the credit
		// available before it exactly when what is left is negative.
		available, err := e.accounts.GetAvailableBalance(acct)
		if err != nil {
			return nil, err
		}
		if available.IsNegative() {
			if _, err := e.chargeFee(scope, accountID, NewMoney(e.cfg.Credit.OverlimitFeeUSD, USD), "Overlimit fee", ChannelSystem); err != nil {
				return nil, err
			}
		}
	}

	now := time.Now().UTC()
	eligible := category != CategoryCashAdvance && category != CategoryFee
	txn := &CreditTransaction{
		ID:               uuid.New().String(),
		AccountID:        accountID,
		TransactionID:    transactionID,
		Category:         category,
		Amount:           amount,
		TransactionDate:  transactionDate,
		PostDate:         postDate,
		Description:      description,
		EligibleForGrace: eligible,
		InterestCharged:  Zero(amount.Currency),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	previous, err := e.latestStatement(accountID)
	if err != nil {
		return nil, err
	}
	switch {
	case previous == nil:
		txn.GracePeriodApplies = txn.EligibleForGrace
	case previous.IsPaidFull():
		txn.GracePeriodApplies = txn.EligibleForGrace
	default:
		txn.GracePeriodApplies = false
	}

	err = e.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableCreditTransactions, txn.ID, creditTransactionToRecord(txn)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save credit transaction")
		}
		_, err := e.audit.LogEvent(s, EventTransactionCreated, "credit_account", accountID, map[string]interface{}{
			"credit_transaction_id": txn.ID,
			"transaction_id":        transactionID,
			"category":              string(category),
			"amount":                amount.String(),
			"eligible_for_grace":    txn.EligibleForGrace,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (e *CreditEngine) chargeFee(scope *AtomicScope, accountID string, fee Money, description string, channel TransactionChannel) (string, error) {
	var txnID string
	err := e.storage.WithScope(scope, func(s *AtomicScope) error {
		created, err := e.transactions.CreateTransaction(s, CreateTransactionParams{
			Type:          TxnFee,
			Amount:        fee,
			Description:   description,
			Channel:       channel,
			FromAccountID: accountID,
			Reference:     "FEE-" + accountID + "-" + time.Now().UTC().Format("20060102150405"),
		})
		if err != nil {
			return err
		}
		processed, err := e.transactions.ProcessTransaction(s, created.ID)
		if err != nil {
			return err
		}
		if _, err := e.processCreditTransactionUnscoped(s, accountID, processed.ID, CategoryFee, fee, description, time.Now().UTC(), time.Now().UTC()); err != nil {
			return err
		}
		txnID = processed.ID
		return nil
	})
	return txnID, err
}

// processCreditTransactionUnscoped avoids recursing through the public
// ProcessCreditTransaction's overlimit check (fees are never overlimit-checked).
func (e *CreditEngine) processCreditTransactionUnscoped(s *AtomicScope, accountID, transactionID string, category TransactionCategory, amount Money, description string, transactionDate, postDate time.Time) (*CreditTransaction, error) {
	now := time.Now().UTC()
	txn := &CreditTransaction{
		ID:               uuid.New().String(),
		AccountID:        accountID,
		TransactionID:    transactionID,
		Category:         category,
		Amount:           amount,
		TransactionDate:  transactionDate,
		PostDate:         postDate,
		Description:      description,
		EligibleForGrace: false,
		InterestCharged:  Zero(amount.Currency),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Save(TableCreditTransactions, txn.ID, creditTransactionToRecord(txn)); err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to save credit transaction")
	}
	return txn, nil
}

// MakePayment issues a PAYMENT transaction crediting the liability account,
// records it as a credit transaction, updates grace-period status, and
// applies it against the current statement, all in one atomic scope.
func (e *CreditEngine) MakePayment(scope *AtomicScope, accountID string, amount Money, paymentDate time.Time) (string, error) {
	if _, err := e.requireCreditLine(accountID); err != nil {
		return "", err
	}

	var txnID string
	err := e.storage.WithScope(scope, func(s *AtomicScope) error {
		created, err := e.transactions.CreateTransaction(s, CreateTransactionParams{
			Type:        TxnPayment,
			Amount:      amount,
			Description: "Credit line payment",
			Channel:     ChannelOnline,
			ToAccountID: accountID,
			Reference:   "PAY-" + accountID + "-" + paymentDate.Format("20060102"),
		})
		if err != nil {
			return err
		}
		processed, err := e.transactions.ProcessTransaction(s, created.ID)
		if err != nil {
			return err
		}
		if _, err := e.ProcessCreditTransaction(s, accountID, processed.ID, CategoryPayment, amount, "Payment received", paymentDate, paymentDate); err != nil {
			return err
		}
		if _, err := e.interest.UpdateGracePeriodStatus(s, accountID, amount, paymentDate); err != nil {
			return err
		}
		if err := e.applyPaymentToStatement(s, accountID, amount, paymentDate); err != nil {
			return err
		}
		txnID = processed.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return txnID, nil
}

func (e *CreditEngine) applyPaymentToStatement(s *AtomicScope, accountID string, amount Money, paymentDate time.Time) error {
	statement, err := e.CurrentStatement(accountID)
	if err != nil {
		return err
	}
	if statement == nil {
		return nil
	}
	statement.PaidAmount = statement.PaidAmount.MustAdd(amount)
	statement.PaidDate = &paymentDate
	statement.UpdatedAt = time.Now().UTC()
	switch {
	case statement.IsPaidFull():
		statement.Status = StatementPaidFull
	case statement.IsMinimumPaid():
		statement.Status = StatementPaidMinimum
	}
	return s.Save(TableCreditStatements, statement.ID, statementToRecord(statement))
}

// GenerateMonthlyStatement aggregates every credit transaction posted since
// the previous statement into new_charges/payments_credits/interest/fees,
// derives current_balance, minimum_payment_due and available_credit, and
// opens a grace-period tracker when the balance is non-zero.
func (e *CreditEngine) GenerateMonthlyStatement(scope *AtomicScope, accountID string, statementDate time.Time) (*CreditStatement, error) {
	acct, err := e.requireCreditLine(accountID)
	if err != nil {
		return nil, err
	}

	previous, err := e.latestStatement(accountID)
	if err != nil {
		return nil, err
	}
	previousBalance := Zero(acct.Currency)
	since := time.Time{}
	if previous != nil {
		previousBalance = previous.CurrentBalance
		since = previous.StatementDate
	}

	txns, err := e.creditTransactionsSince(accountID, since)
	if err != nil {
		return nil, err
	}

	newCharges := Zero(acct.Currency)
	paymentsCredits := Zero(acct.Currency)
	interestCharged := Zero(acct.Currency)
	feesCharged := Zero(acct.Currency)
	for _, txn := range txns {
		switch txn.Category {
		case CategoryPurchase, CategoryCashAdvance, CategoryBalanceTransfer:
			newCharges = newCharges.MustAdd(txn.Amount)
		case CategoryPayment:
			paymentsCredits = paymentsCredits.MustAdd(txn.Amount)
		case CategoryInterest:
			interestCharged = interestCharged.MustAdd(txn.Amount)
		case CategoryFee:
			feesCharged = feesCharged.MustAdd(txn.Amount)
		}
	}

	currentBalance := previousBalance.MustAdd(newCharges).MustAdd(interestCharged).MustAdd(feesCharged).MustSub(paymentsCredits)
	minimumPayment := e.calculateMinimumPayment(currentBalance, interestCharged, feesCharged)

	availableCredit := Zero(acct.Currency)
	if acct.CreditLimit != nil {
		availableCredit = acct.CreditLimit.MustSub(currentBalance)
		if availableCredit.IsNegative() {
			availableCredit = Zero(acct.Currency)
		}
	}

	dueDate := statementDate.AddDate(0, 0, int(e.cfg.Credit.GracePeriodDays))
	now := time.Now().UTC()
	statement := &CreditStatement{
		ID:                uuid.New().String(),
		AccountID:         accountID,
		StatementDate:     statementDate,
		DueDate:           dueDate,
		PreviousBalance:   previousBalance,
		NewCharges:        newCharges,
		PaymentsCredits:   paymentsCredits,
		InterestCharged:   interestCharged,
		FeesCharged:       feesCharged,
		CurrentBalance:    currentBalance,
		MinimumPaymentDue: minimumPayment,
		AvailableCredit:   availableCredit,
		CreditLimit:       zeroIfNil(acct.CreditLimit, acct.Currency),
		GracePeriodActive: true,
		Status:            StatementCurrent,
		PaidAmount:         Zero(acct.Currency),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = e.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableCreditStatements, statement.ID, statementToRecord(statement)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save statement")
		}
		for _, txn := range txns {
			sid := statement.ID
			txn.StatementID = &sid
			if err := s.Save(TableCreditTransactions, txn.ID, creditTransactionToRecord(txn)); err != nil {
				return wrapErr(KindStorageFailure, err, "failed to assign statement to credit transaction")
			}
		}
		if !currentBalance.IsZero() {
			if _, err := e.interest.CreateGracePeriod(s, accountID, statementDate, currentBalance, dueDate); err != nil {
				return err
			}
		}
		_, err := e.audit.LogEvent(s, EventCreditStatementGenerated, "credit_account", accountID, map[string]interface{}{
			"statement_id":     statement.ID,
			"statement_date":   dateToRecord(statementDate),
			"due_date":         dateToRecord(dueDate),
			"current_balance":  currentBalance.String(),
			"minimum_payment":  minimumPayment.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return statement, nil
}

func zeroIfNil(m *Money, currency Currency) Money {
	if m == nil {
		return Zero(currency)
	}
	return *m
}

// calculateMinimumPayment is the greater of 2% of balance, or
// (interest+fees, plus a $10 principal add-on above $1,000 balance),
// floored at $25 and capped at the current balance.
func (e *CreditEngine) calculateMinimumPayment(currentBalance, interestCharged, feesCharged Money) Money {
	if currentBalance.IsZero() || currentBalance.IsNegative() {
		return Zero(currentBalance.Currency)
	}
	percentagePayment := currentBalance.Mul(e.cfg.Credit.MinimumPaymentRate)

	requiredPayment := interestCharged.MustAdd(feesCharged)
	if currentBalance.GreaterThan(NewMoney(e.cfg.Credit.LargeBalanceThreshold, currentBalance.Currency)) {
		requiredPayment = requiredPayment.MustAdd(NewMoney(e.cfg.Credit.LargeBalanceSurcharge, currentBalance.Currency))
	}

	minimum := MaxMoney(percentagePayment, requiredPayment)
	floor := NewMoney(e.cfg.Credit.MinimumPaymentFloor, currentBalance.Currency)
	minimum = MaxMoney(minimum, floor)
	if minimum.GreaterThan(currentBalance) {
		minimum = currentBalance
	}
	return minimum
}

// ProcessOverdueAccounts charges a late fee and transitions to OVERDUE
// every CURRENT statement that is past due without the minimum paid.
func (e *CreditEngine) ProcessOverdueAccounts(scope *AtomicScope, asOf time.Time) (int, int, error) {
	lateFeesCharged, accountsProcessed := 0, 0

	all, err := e.storage.LoadAll(TableCreditStatements)
	if err != nil {
		return 0, 0, wrapErr(KindStorageFailure, err, "failed to load statements")
	}
	for _, rec := range all {
		statement, err := statementFromRecord(rec)
		if err != nil {
			return 0, 0, err
		}
		if statement.Status != StatementCurrent {
			continue
		}
		if !statement.IsOverdue(asOf) || statement.IsMinimumPaid() {
			continue
		}

		accountsProcessed++
		err = e.storage.WithScope(scope, func(s *AtomicScope) error {
			if _, err := e.chargeFee(s, statement.AccountID, NewMoney(e.cfg.Credit.LateFeeUSD, USD), "Late payment fee", ChannelSystem); err != nil {
				return err
			}
			statement.Status = StatementOverdue
			statement.UpdatedAt = time.Now().UTC()
			if err := s.Save(TableCreditStatements, statement.ID, statementToRecord(statement)); err != nil {
				return wrapErr(KindStorageFailure, err, "failed to save overdue statement")
			}
			_, err := e.audit.LogEvent(s, EventCreditOverdueProcessed, "credit_account", statement.AccountID, map[string]interface{}{
				"statement_id": statement.ID,
			})
			return err
		})
		if err != nil {
			if logErr := e.storage.WithScope(scope, func(s *AtomicScope) error {
				_, err := e.audit.LogEvent(s, EventBatchJobError, "credit_account", statement.AccountID, map[string]interface{}{
					"error":        "late fee processing failed",
					"message":      err.Error(),
					"statement_id": statement.ID,
				})
				return err
			}); logErr != nil {
				return 0, 0, logErr
			}
			continue
		}
		lateFeesCharged++
	}
	return lateFeesCharged, accountsProcessed, nil
}

// AdjustCreditLimit sets a new credit limit and audits the change.
func (e *CreditEngine) AdjustCreditLimit(scope *AtomicScope, accountID string, newLimit Money, reason string) (*Account, error) {
	acct, err := e.requireCreditLine(accountID)
	if err != nil {
		return nil, err
	}
	oldLimit := acct.CreditLimit
	acct.CreditLimit = &newLimit
	acct.UpdatedAt = time.Now().UTC()

	err = e.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableAccounts, acct.ID, accountToRecord(acct)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save account %s", accountID)
		}
		meta := map[string]interface{}{"new_limit": newLimit.String(), "reason": reason}
		if oldLimit != nil {
			meta["old_limit"] = oldLimit.String()
		}
		_, err := e.audit.LogEvent(s, EventAccountStateChanged, "credit_account", accountID, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// GetStatement loads a credit statement by id.
func (e *CreditEngine) GetStatement(id string) (*CreditStatement, error) {
	rec, found, err := e.storage.Load(TableCreditStatements, id)
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to load statement %s", id)
	}
	if !found {
		return nil, newErr(KindNotFound, "statement %s not found", id)
	}
	return statementFromRecord(rec)
}

// GetAccountStatements returns every statement for accountID, most recent first.
func (e *CreditEngine) GetAccountStatements(accountID string) ([]*CreditStatement, error) {
	matches, err := e.storage.Find(TableCreditStatements, Record{"account_id": accountID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query statements")
	}
	out := make([]*CreditStatement, 0, len(matches))
	for _, rec := range matches {
		s, err := statementFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortStatementsDesc(out)
	return out, nil
}

func sortStatementsDesc(statements []*CreditStatement) {
	for i := 0; i < len(statements); i++ {
		for j := i + 1; j < len(statements); j++ {
			if statements[j].StatementDate.After(statements[i].StatementDate) {
				statements[i], statements[j] = statements[j], statements[i]
			}
		}
	}
}

func (e *CreditEngine) latestStatement(accountID string) (*CreditStatement, error) {
	statements, err := e.GetAccountStatements(accountID)
	if err != nil {
		return nil, err
	}
	if len(statements) == 0 {
		return nil, nil
	}
	return statements[0], nil
}

// CurrentStatement returns the most recent CURRENT statement for accountID.
func (e *CreditEngine) CurrentStatement(accountID string) (*CreditStatement, error) {
	matches, err := e.storage.Find(TableCreditStatements, Record{"account_id": accountID, "status": string(StatementCurrent)})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query current statement")
	}
	if len(matches) == 0 {
		return nil, nil
	}
	statements := make([]*CreditStatement, 0, len(matches))
	for _, rec := range matches {
		s, err := statementFromRecord(rec)
		if err != nil {
			return nil, err
		}
		statements = append(statements, s)
	}
	sortStatementsDesc(statements)
	return statements[0], nil
}

func (e *CreditEngine) creditTransactionsSince(accountID string, since time.Time) ([]*CreditTransaction, error) {
	matches, err := e.storage.Find(TableCreditTransactions, Record{"account_id": accountID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query credit transactions")
	}
	var out []*CreditTransaction
	for _, rec := range matches {
		txn, err := creditTransactionFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if txn.PostDate.After(since) {
			out = append(out, txn)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].PostDate.Before(out[i].PostDate) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// --- serialization ---

func statementToRecord(s *CreditStatement) Record {
	r := Record{
		"id":                  s.ID,
		"account_id":          s.AccountID,
		"statement_date":      dateToRecord(s.StatementDate),
		"due_date":            dateToRecord(s.DueDate),
		"previous_balance":    s.PreviousBalance.ToRecord(),
		"new_charges":         s.NewCharges.ToRecord(),
		"payments_credits":    s.PaymentsCredits.ToRecord(),
		"interest_charged":    s.InterestCharged.ToRecord(),
		"fees_charged":        s.FeesCharged.ToRecord(),
		"current_balance":     s.CurrentBalance.ToRecord(),
		"minimum_payment_due": s.MinimumPaymentDue.ToRecord(),
		"available_credit":    s.AvailableCredit.ToRecord(),
		"credit_limit":        s.CreditLimit.ToRecord(),
		"grace_period_active": s.GracePeriodActive,
		"status":              string(s.Status),
		"paid_amount":         s.PaidAmount.ToRecord(),
		"created_at":          timeToRecord(s.CreatedAt),
		"updated_at":          timeToRecord(s.UpdatedAt),
	}
	if s.PaidDate != nil {
		r["paid_date"] = dateToRecord(*s.PaidDate)
	}
	return r
}

func statementFromRecord(r Record) (*CreditStatement, error) {
	statementDate, err := asDate(r["statement_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "statement has malformed statement_date")
	}
	dueDate, err := asDate(r["due_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "statement has malformed due_date")
	}
	paidDate, err := asDatePtr(r["paid_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "statement has malformed paid_date")
	}
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "statement has malformed created_at")
	}
	updatedAt, err := asTime(r["updated_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "statement has malformed updated_at")
	}

	fields := map[string]Money{}
	for _, key := range []string{"previous_balance", "new_charges", "payments_credits", "interest_charged", "fees_charged", "current_balance", "minimum_payment_due", "available_credit", "credit_limit", "paid_amount"} {
		m, err := moneyFromAny(r[key])
		if err != nil {
			return nil, err
		}
		fields[key] = m
	}

	return &CreditStatement{
		ID:                asString(r["id"]),
		AccountID:         asString(r["account_id"]),
		StatementDate:     statementDate,
		DueDate:           dueDate,
		PreviousBalance:   fields["previous_balance"],
		NewCharges:        fields["new_charges"],
		PaymentsCredits:   fields["payments_credits"],
		InterestCharged:   fields["interest_charged"],
		FeesCharged:       fields["fees_charged"],
		CurrentBalance:    fields["current_balance"],
		MinimumPaymentDue: fields["minimum_payment_due"],
		AvailableCredit:   fields["available_credit"],
		CreditLimit:       fields["credit_limit"],
		GracePeriodActive: asBool(r["grace_period_active"]),
		Status:            StatementStatus(asString(r["status"])),
		PaidAmount:        fields["paid_amount"],
		PaidDate:          paidDate,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

func creditTransactionToRecord(t *CreditTransaction) Record {
	r := Record{
		"id":                   t.ID,
		"account_id":           t.AccountID,
		"transaction_id":       t.TransactionID,
		"category":             string(t.Category),
		"amount":               t.Amount.ToRecord(),
		"transaction_date":     dateToRecord(t.TransactionDate),
		"post_date":            dateToRecord(t.PostDate),
		"description":          t.Description,
		"eligible_for_grace":   t.EligibleForGrace,
		"grace_period_applies": t.GracePeriodApplies,
		"interest_charged":     t.InterestCharged.ToRecord(),
		"created_at":           timeToRecord(t.CreatedAt),
		"updated_at":           timeToRecord(t.UpdatedAt),
	}
	if t.StatementID != nil {
		r["statement_id"] = *t.StatementID
	}
	return r
}

func creditTransactionFromRecord(r Record) (*CreditTransaction, error) {
	amount, err := moneyFromAny(r["amount"])
	if err != nil {
		return nil, err
	}
	interestCharged, err := moneyFromAny(r["interest_charged"])
	if err != nil {
		return nil, err
	}
	transactionDate, err := asDate(r["transaction_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "credit transaction has malformed transaction_date")
	}
	postDate, err := asDate(r["post_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "credit transaction has malformed post_date")
	}
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "credit transaction has malformed created_at")
	}
	updatedAt, err := asTime(r["updated_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "credit transaction has malformed updated_at")
	}
	return &CreditTransaction{
		ID:                 asString(r["id"]),
		AccountID:          asString(r["account_id"]),
		TransactionID:      asString(r["transaction_id"]),
		Category:           TransactionCategory(asString(r["category"])),
		Amount:             amount,
		TransactionDate:    transactionDate,
		PostDate:           postDate,
		Description:        asString(r["description"]),
		EligibleForGrace:   asBool(r["eligible_for_grace"]),
		GracePeriodApplies: asBool(r["grace_period_applies"]),
		InterestCharged:    interestCharged,
		StatementID:        asStringPtr(r["statement_id"]),
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}, nil
}
