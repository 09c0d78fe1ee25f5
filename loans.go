package banking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanState is a loan's lifecycle state.
type LoanState string

const (
	LoanOriginated LoanState = "ORIGINATED"
	LoanDisbursed  LoanState = "DISBURSED"
	LoanActive     LoanState = "ACTIVE"
	LoanPaidOff    LoanState = "PAID_OFF"
	LoanDefaulted  LoanState = "DEFAULTED"
	LoanWrittenOff LoanState = "WRITTEN_OFF"
	LoanClosed     LoanState = "CLOSED"
)

var loanStateOrder = map[LoanState]int{
	LoanOriginated: 0,
	LoanDisbursed:  1,
	LoanActive:     2,
	LoanPaidOff:    3,
	LoanDefaulted:  4,
	LoanWrittenOff: 5,
	LoanClosed:     6,
}

// AmortizationMethod selects how a loan's principal is repaid over time.
type AmortizationMethod string

const (
	AmortizationEqualInstallment AmortizationMethod = "EQUAL_INSTALLMENT"
	AmortizationEqualPrincipal   AmortizationMethod = "EQUAL_PRINCIPAL"
	AmortizationBullet           AmortizationMethod = "BULLET"
)

// PaymentFrequency is how often scheduled payments fall due.
type PaymentFrequency string

const (
	FrequencyWeekly       PaymentFrequency = "WEEKLY"
	FrequencyBiWeekly     PaymentFrequency = "BI_WEEKLY"
	FrequencyMonthly      PaymentFrequency = "MONTHLY"
	FrequencyQuarterly    PaymentFrequency = "QUARTERLY"
	FrequencySemiAnnually PaymentFrequency = "SEMI_ANNUALLY"
	FrequencyAnnually     PaymentFrequency = "ANNUALLY"
)

var paymentsPerYear = map[PaymentFrequency]int32{
	FrequencyWeekly:       52,
	FrequencyBiWeekly:     26,
	FrequencyMonthly:      12,
	FrequencyQuarterly:    4,
	FrequencySemiAnnually: 2,
	FrequencyAnnually:     1,
}

// LoanTerms are the fixed terms agreed at origination.
type LoanTerms struct {
	PrincipalAmount         Money
	AnnualInterestRate      decimal.Decimal
	TermMonths              int32
	PaymentFrequency        PaymentFrequency
	AmortizationMethod      AmortizationMethod
	FirstPaymentDate        time.Time
	AllowPrepayment         bool
	PrepaymentPenaltyRate   *decimal.Decimal
	GracePeriodDays         int32
	LateFee                 Money
}

// TotalPayments is the number of scheduled payments over the full term.
func (t LoanTerms) TotalPayments() int32 {
	perYear := paymentsPerYear[t.PaymentFrequency]
	return int32(decimal.NewFromInt32(t.TermMonths).Mul(decimal.NewFromInt32(perYear)).Div(decimal.NewFromInt(12)).IntPart())
}

// PeriodicRate is the per-payment interest rate implied by the annual rate
// and payment frequency.
func (t LoanTerms) PeriodicRate() decimal.Decimal {
	perYear := paymentsPerYear[t.PaymentFrequency]
	return t.AnnualInterestRate.Div(decimal.NewFromInt32(perYear))
}

// AmortizationEntry is a single scheduled payment line.
type AmortizationEntry struct {
	PaymentNumber    int32
	PaymentDate      time.Time
	PaymentAmount    Money
	PrincipalAmount  Money
	InterestAmount   Money
	RemainingBalance Money
	Paid             bool
}

// Loan is a disbursed or disbursing installment loan and its running balances.
type Loan struct {
	ID               string
	AccountID        string
	CustomerID       string
	Terms            LoanTerms
	State            LoanState
	CurrentBalance   Money
	TotalPaid        Money
	InterestPaid     Money
	PrincipalPaid    Money
	OriginatedDate   time.Time
	DisbursedDate    *time.Time
	FirstPaymentDate time.Time
	LastPaymentDate  *time.Time
	MaturityDate     time.Time
	LastLateFeeDate  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsActive reports whether the loan is in active repayment.
func (l *Loan) IsActive() bool {
	return l.State == LoanDisbursed || l.State == LoanActive
}

// IsPaidOff reports whether the loan's balance has reached zero.
func (l *Loan) IsPaidOff() bool {
	return l.CurrentBalance.IsZero() || l.State == LoanPaidOff
}

// scheduledPaymentAmount returns the level payment amount for an
// EQUAL_INSTALLMENT loan, using the standard annuity formula
// P * c(1+c)^n / ((1+c)^n - 1).
func (l *Loan) scheduledPaymentAmount() Money {
	principal := l.Terms.PrincipalAmount.Amount
	c := l.Terms.PeriodicRate()
	n := l.Terms.TotalPayments()

	if c.IsZero() {
		return NewMoney(principal.Div(decimal.NewFromInt32(n)), l.Terms.PrincipalAmount.Currency)
	}
	one := decimal.NewFromInt(1)
	factor := one.Add(c).Pow(decimal.NewFromInt32(n))
	payment := principal.Mul(c.Mul(factor)).Div(factor.Sub(one))
	return NewMoney(payment, l.Terms.PrincipalAmount.Currency)
}

// LoanPayment is a single recorded payment against a loan.
type LoanPayment struct {
	ID                     string
	LoanID                 string
	TransactionID          string
	PaymentDate            time.Time
	PaymentAmount          Money
	PrincipalAmount        Money
	InterestAmount         Money
	LateFee                Money
	PrepaymentPenalty      Money
	ScheduledPaymentNumber *int32
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// LoanEngine manages loan origination, disbursement, amortization, payment
// processing, and delinquency handling.
type LoanEngine struct {
	storage      *Storage
	accounts     *AccountManager
	transactions *TransactionProcessor
	audit        *AuditTrail
	cfg          *Config
}

// NewLoanEngine constructs a LoanEngine.
func NewLoanEngine(storage *Storage, accounts *AccountManager, transactions *TransactionProcessor, audit *AuditTrail, cfg *Config) *LoanEngine {
	return &LoanEngine{storage: storage, accounts: accounts, transactions: transactions, audit: audit, cfg: cfg}
}

// OriginateLoan opens the loan's GL liability account, records the terms,
// and generates the amortization schedule.
func (e *LoanEngine) OriginateLoan(scope *AtomicScope, customerID string, terms LoanTerms, currency Currency) (*Loan, error) {
	if terms.LateFee.Amount.IsZero() {
		terms.LateFee = NewMoney(e.cfg.Loan.DefaultLateFeeUSD, currency)
	}
	if terms.LateFee.Currency.Code != terms.PrincipalAmount.Currency.Code {
		return nil, newErr(KindCurrencyMismatch, "late fee currency %s does not match principal currency %s", terms.LateFee.Currency.Code, terms.PrincipalAmount.Currency.Code)
	}

	now := time.Now().UTC()
	zeroBalance := Zero(currency)

	var loan *Loan
	err := e.storage.WithScope(scope, func(s *AtomicScope) error {
		acct, err := e.accounts.CreateAccount(s, CreateAccountParams{
			CustomerID:     customerID,
			ProductType:    ProductLoan,
			Currency:       currency,
			Name:           "Loan Account",
			MinimumBalance: &zeroBalance,
		})
		if err != nil {
			return err
		}

		maturityDate := terms.FirstPaymentDate.AddDate(0, int(terms.TermMonths), 0)
		loan = &Loan{
			ID:               uuid.New().String(),
			AccountID:        acct.ID,
			CustomerID:       customerID,
			Terms:            terms,
			State:            LoanOriginated,
			CurrentBalance:   terms.PrincipalAmount,
			TotalPaid:        zeroBalance,
			InterestPaid:     zeroBalance,
			PrincipalPaid:    zeroBalance,
			OriginatedDate:   now,
			FirstPaymentDate: terms.FirstPaymentDate,
			MaturityDate:     maturityDate,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.Save(TableLoans, loan.ID, loanToRecord(loan)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save loan")
		}

		if _, err := e.generateAmortizationSchedule(s, loan); err != nil {
			return err
		}

		_, err = e.audit.LogEvent(s, EventLoanOriginated, "loan", loan.ID, map[string]interface{}{
			"customer_id":        customerID,
			"principal_amount":   terms.PrincipalAmount.String(),
			"annual_rate":        terms.AnnualInterestRate.String(),
			"term_months":        terms.TermMonths,
			"payment_frequency":  string(terms.PaymentFrequency),
			"first_payment_date": dateToRecord(terms.FirstPaymentDate),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// DisburseLoan transfers principal out to a customer account and activates
// the loan for repayment.
func (e *LoanEngine) DisburseLoan(scope *AtomicScope, loanID, disbursementAccountID string) (*Transaction, error) {
	loan, err := e.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.State != LoanOriginated {
		return nil, newErr(KindBadState, "can only disburse ORIGINATED loans, loan %s is %s", loanID, loan.State)
	}

	var processed *Transaction
	err = e.storage.WithScope(scope, func(s *AtomicScope) error {
		created, err := e.transactions.CreateTransaction(s, CreateTransactionParams{
			Type:          TxnTransferInternal,
			Amount:        loan.Terms.PrincipalAmount,
			Description:   "Loan disbursement",
			Channel:       ChannelSystem,
			FromAccountID: loan.AccountID,
			ToAccountID:   disbursementAccountID,
			Reference:     "LOAN-DISB-" + loanID[:8],
		})
		if err != nil {
			return err
		}
		processed, err = e.transactions.ProcessTransaction(s, created.ID)
		if err != nil {
			return err
		}

		disbursedDate := time.Now().UTC()
		loan.State = LoanDisbursed
		loan.DisbursedDate = &disbursedDate
		loan.UpdatedAt = disbursedDate
		if err := e.saveLoanMerged(s, loan); err != nil {
			return err
		}

		_, err = e.audit.LogEvent(s, EventLoanDisbursed, "loan", loan.ID, map[string]interface{}{
			"transaction_id":        processed.ID,
			"disbursement_account":  disbursementAccountID,
			"amount":                loan.Terms.PrincipalAmount.String(),
			"disbursed_date":        dateToRecord(disbursedDate),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return processed, nil
}

// MakePayment processes a loan payment: late fee and prepayment-penalty
// deduction, interest/principal allocation against the amortization
// schedule, and balance/state update, all atomically.
func (e *LoanEngine) MakePayment(scope *AtomicScope, loanID string, paymentAmount Money, paymentDate time.Time, sourceAccountID string) (*LoanPayment, error) {
	loan, err := e.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsActive() {
		return nil, newErr(KindBadState, "loan %s is not active for payments", loanID)
	}

	schedule, err := e.GetAmortizationSchedule(loanID)
	if err != nil {
		return nil, err
	}
	nextEntry := nextUnpaidEntry(schedule)

	interestDue, principalDue := e.calculatePaymentAllocation(loan, paymentAmount)

	lateFee := Zero(paymentAmount.Currency)
	isPastDue := nextEntry != nil && paymentDate.After(nextEntry.PaymentDate.AddDate(0, 0, int(loan.Terms.GracePeriodDays)))
	if isPastDue {
		lateFee = loan.Terms.LateFee
		paymentAmount = paymentAmount.MustSub(lateFee)
	}

	prepaymentPenalty := Zero(paymentAmount.Currency)
	scheduledPayment := loan.scheduledPaymentAmount()
	if loan.Terms.AllowPrepayment && loan.Terms.PrepaymentPenaltyRate != nil && paymentAmount.GreaterThan(scheduledPayment) {
		prepaymentAmount := paymentAmount.MustSub(scheduledPayment)
		if prepaymentAmount.IsPositive() {
			prepaymentPenalty = prepaymentAmount.Mul(*loan.Terms.PrepaymentPenaltyRate)
		}
	}

	var loanPayment *LoanPayment
	err = e.storage.WithScope(scope, func(s *AtomicScope) error {
		totalCharge := paymentAmount.MustAdd(lateFee).MustAdd(prepaymentPenalty)
		created, err := e.transactions.CreateTransaction(s, CreateTransactionParams{
			Type:          TxnTransferInternal,
			Amount:        totalCharge,
			Description:   "Loan payment",
			Channel:       ChannelSystem,
			FromAccountID: sourceAccountID,
			ToAccountID:   loan.AccountID,
			Reference:     "LOAN-PMT-" + loanID[:8],
		})
		if err != nil {
			return err
		}
		processed, err := e.transactions.ProcessTransaction(s, created.ID)
		if err != nil {
			return err
		}

		appliedPrincipal := MinMoney(principalDue, paymentAmount)
		appliedInterest := MinMoney(interestDue, paymentAmount)

		now := time.Now().UTC()
		loanPayment = &LoanPayment{
			ID:                uuid.New().String(),
			LoanID:            loan.ID,
			TransactionID:     processed.ID,
			PaymentDate:       paymentDate,
			PaymentAmount:     paymentAmount,
			PrincipalAmount:   appliedPrincipal,
			InterestAmount:    appliedInterest,
			LateFee:           lateFee,
			PrepaymentPenalty: prepaymentPenalty,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if nextEntry != nil {
			n := nextEntry.PaymentNumber
			loanPayment.ScheduledPaymentNumber = &n
			nextEntry.Paid = true
			if err := s.Save(TableAmortizationSchedules, amortizationEntryID(loan.ID, nextEntry.PaymentNumber), amortizationEntryToRecord(nextEntry, loan.ID)); err != nil {
				return wrapErr(KindStorageFailure, err, "failed to mark schedule entry paid")
			}
		}
		if err := s.Save(TableLoanPayments, loanPayment.ID, loanPaymentToRecord(loanPayment)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save loan payment")
		}

		e.applyPayment(loan, loanPayment)
		if err := e.saveLoanMerged(s, loan); err != nil {
			return err
		}

		_, err = e.audit.LogEvent(s, EventLoanPaymentMade, "loan", loan.ID, map[string]interface{}{
			"payment_id":        loanPayment.ID,
			"transaction_id":    processed.ID,
			"payment_amount":    paymentAmount.String(),
			"principal_amount":  loanPayment.PrincipalAmount.String(),
			"interest_amount":   loanPayment.InterestAmount.String(),
			"remaining_balance": loan.CurrentBalance.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return loanPayment, nil
}

func (e *LoanEngine) applyPayment(loan *Loan, payment *LoanPayment) {
	loan.CurrentBalance = loan.CurrentBalance.MustSub(payment.PrincipalAmount)
	loan.TotalPaid = loan.TotalPaid.MustAdd(payment.PaymentAmount)
	loan.PrincipalPaid = loan.PrincipalPaid.MustAdd(payment.PrincipalAmount)
	loan.InterestPaid = loan.InterestPaid.MustAdd(payment.InterestAmount)
	loan.LastPaymentDate = &payment.PaymentDate

	if loan.CurrentBalance.IsZero() || loan.CurrentBalance.IsNegative() {
		loan.CurrentBalance = Zero(loan.CurrentBalance.Currency)
		loan.State = LoanPaidOff
	} else {
		loan.State = LoanActive
	}
	loan.UpdatedAt = time.Now().UTC()
}

// calculatePaymentAllocation splits a payment between interest (at the
// loan's periodic rate against the current balance) and principal.
func (e *LoanEngine) calculatePaymentAllocation(loan *Loan, paymentAmount Money) (interestDue, principalDue Money) {
	c := loan.Terms.PeriodicRate()
	interestDue = loan.CurrentBalance.Mul(c)
	principalDue = paymentAmount.MustSub(interestDue)
	if principalDue.IsNegative() {
		return paymentAmount, Zero(paymentAmount.Currency)
	}
	return interestDue, principalDue
}

// GenerateAmortizationSchedule (re)computes and persists the full
// amortization schedule for a loan, dispatching by amortization method.
func (e *LoanEngine) GenerateAmortizationSchedule(scope *AtomicScope, loanID string) ([]*AmortizationEntry, error) {
	loan, err := e.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	var schedule []*AmortizationEntry
	err = e.storage.WithScope(scope, func(s *AtomicScope) error {
		sched, err := e.generateAmortizationSchedule(s, loan)
		if err != nil {
			return err
		}
		schedule = sched
		return nil
	})
	return schedule, err
}

func (e *LoanEngine) generateAmortizationSchedule(s *AtomicScope, loan *Loan) ([]*AmortizationEntry, error) {
	var schedule []*AmortizationEntry
	switch loan.Terms.AmortizationMethod {
	case AmortizationEqualInstallment:
		schedule = e.equalInstallmentSchedule(loan)
	case AmortizationEqualPrincipal:
		schedule = e.equalPrincipalSchedule(loan)
	case AmortizationBullet:
		schedule = e.bulletSchedule(loan)
	default:
		return nil, newErr(KindInvariant, "unsupported amortization method %q", loan.Terms.AmortizationMethod)
	}

	for _, entry := range schedule {
		if err := s.Save(TableAmortizationSchedules, amortizationEntryID(loan.ID, entry.PaymentNumber), amortizationEntryToRecord(entry, loan.ID)); err != nil {
			return nil, wrapErr(KindStorageFailure, err, "failed to save amortization entry")
		}
	}
	return schedule, nil
}

func (e *LoanEngine) equalInstallmentSchedule(loan *Loan) []*AmortizationEntry {
	var schedule []*AmortizationEntry
	paymentAmount := loan.scheduledPaymentAmount()
	remaining := loan.Terms.PrincipalAmount
	paymentDate := loan.Terms.FirstPaymentDate
	c := loan.Terms.PeriodicRate()
	total := loan.Terms.TotalPayments()

	for n := int32(1); n <= total; n++ {
		interest := remaining.Mul(c)
		principal := paymentAmount.MustSub(interest)
		payment := paymentAmount

		if principal.GreaterThan(remaining) || n == total {
			principal = remaining
			payment = principal.MustAdd(interest)
			remaining = Zero(remaining.Currency)
		} else {
			remaining = remaining.MustSub(principal)
		}

		schedule = append(schedule, &AmortizationEntry{
			PaymentNumber:    n,
			PaymentDate:      paymentDate,
			PaymentAmount:    payment,
			PrincipalAmount:  principal,
			InterestAmount:   interest,
			RemainingBalance: remaining,
		})
		paymentDate = nextPaymentDate(paymentDate, loan.Terms.PaymentFrequency)
		if remaining.IsZero() {
			break
		}
	}
	return schedule
}

func (e *LoanEngine) equalPrincipalSchedule(loan *Loan) []*AmortizationEntry {
	var schedule []*AmortizationEntry
	total := loan.Terms.TotalPayments()
	principalPerPayment := NewMoney(loan.Terms.PrincipalAmount.Amount.Div(decimal.NewFromInt32(total)), loan.Terms.PrincipalAmount.Currency)
	remaining := loan.Terms.PrincipalAmount
	paymentDate := loan.Terms.FirstPaymentDate
	c := loan.Terms.PeriodicRate()

	for n := int32(1); n <= total; n++ {
		interest := remaining.Mul(c)
		principal := principalPerPayment
		if principal.GreaterThan(remaining) {
			principal = remaining
		}
		payment := principal.MustAdd(interest)
		remaining = remaining.MustSub(principal)

		schedule = append(schedule, &AmortizationEntry{
			PaymentNumber:    n,
			PaymentDate:      paymentDate,
			PaymentAmount:    payment,
			PrincipalAmount:  principal,
			InterestAmount:   interest,
			RemainingBalance: remaining,
		})
		paymentDate = nextPaymentDate(paymentDate, loan.Terms.PaymentFrequency)
		if remaining.IsZero() {
			break
		}
	}
	return schedule
}

func (e *LoanEngine) bulletSchedule(loan *Loan) []*AmortizationEntry {
	var schedule []*AmortizationEntry
	remaining := loan.Terms.PrincipalAmount
	paymentDate := loan.Terms.FirstPaymentDate
	c := loan.Terms.PeriodicRate()
	total := loan.Terms.TotalPayments()
	interestPayment := remaining.Mul(c)

	for n := int32(1); n < total; n++ {
		schedule = append(schedule, &AmortizationEntry{
			PaymentNumber:    n,
			PaymentDate:      paymentDate,
			PaymentAmount:    interestPayment,
			PrincipalAmount:  Zero(remaining.Currency),
			InterestAmount:   interestPayment,
			RemainingBalance: remaining,
		})
		paymentDate = nextPaymentDate(paymentDate, loan.Terms.PaymentFrequency)
	}

	finalPayment := remaining.MustAdd(interestPayment)
	schedule = append(schedule, &AmortizationEntry{
		PaymentNumber:    total,
		PaymentDate:      paymentDate,
		PaymentAmount:    finalPayment,
		PrincipalAmount:  remaining,
		InterestAmount:   interestPayment,
		RemainingBalance: Zero(remaining.Currency),
	})
	return schedule
}

func nextPaymentDate(current time.Time, freq PaymentFrequency) time.Time {
	switch freq {
	case FrequencyWeekly:
		return current.AddDate(0, 0, 7)
	case FrequencyBiWeekly:
		return current.AddDate(0, 0, 14)
	case FrequencyQuarterly:
		return current.AddDate(0, 3, 0)
	case FrequencySemiAnnually:
		return current.AddDate(0, 6, 0)
	case FrequencyAnnually:
		return current.AddDate(0, 12, 0)
	default:
		return current.AddDate(0, 1, 0)
	}
}

// nextUnpaidEntry returns the earliest schedule entry not yet marked paid,
// or nil if the schedule is exhausted. This is the basis of delinquency
// calculation: past-due-ness is read off the schedule, not computed by
// dividing elapsed days by 30.
func nextUnpaidEntry(schedule []*AmortizationEntry) *AmortizationEntry {
	var earliest *AmortizationEntry
	for _, entry := range schedule {
		if entry.Paid {
			continue
		}
		if earliest == nil || entry.PaymentNumber < earliest.PaymentNumber {
			earliest = entry
		}
	}
	return earliest
}

// ProcessPastDueLoans charges a late fee (at most once per calendar month)
// to every active loan whose next unpaid scheduled payment is more than its
// grace period past due.
func (e *LoanEngine) ProcessPastDueLoans(scope *AtomicScope, asOf time.Time) (int, int, error) {
	lateFeesCharged, loansProcessed := 0, 0

	matches, err := e.storage.Find(TableLoans, Record{"state": string(LoanActive)})
	if err != nil {
		return 0, 0, wrapErr(KindStorageFailure, err, "failed to query active loans")
	}

	for _, rec := range matches {
		loan, err := loanFromRecord(rec)
		if err != nil {
			return 0, 0, err
		}

		schedule, err := e.GetAmortizationSchedule(loan.ID)
		if err != nil {
			return 0, 0, err
		}
		nextEntry := nextUnpaidEntry(schedule)
		if nextEntry == nil {
			continue
		}
		dueBy := nextEntry.PaymentDate.AddDate(0, 0, int(loan.Terms.GracePeriodDays))
		if !asOf.After(dueBy) {
			continue
		}

		loansProcessed++
		shouldChargeFee := loan.LastLateFeeDate == nil ||
			loan.LastLateFeeDate.Month() != asOf.Month() ||
			loan.LastLateFeeDate.Year() != asOf.Year()

		err = e.storage.WithScope(scope, func(s *AtomicScope) error {
			if shouldChargeFee {
				if err := e.chargeLateFee(s, loan, asOf); err != nil {
					return err
				}
			}
			_, err := e.audit.LogEvent(s, EventLoanPastDueProcessed, "loan", loan.ID, map[string]interface{}{
				"next_due_date": dateToRecord(nextEntry.PaymentDate),
				"due_by":        dateToRecord(dueBy),
			})
			return err
		})
		if err != nil {
			if logErr := e.storage.WithScope(scope, func(s *AtomicScope) error {
				_, aerr := e.audit.LogEvent(s, EventBatchJobError, "loan", loan.ID, map[string]interface{}{
					"error":   "past due processing failed",
					"message": err.Error(),
				})
				return aerr
			}); logErr != nil {
				return 0, 0, logErr
			}
			continue
		}
		if shouldChargeFee {
			lateFeesCharged++
		}
	}
	return lateFeesCharged, loansProcessed, nil
}

func (e *LoanEngine) chargeLateFee(s *AtomicScope, loan *Loan, asOf time.Time) error {
	created, err := e.transactions.CreateTransaction(s, CreateTransactionParams{
		Type:        TxnLoanFeeAssessment,
		Amount:      loan.Terms.LateFee,
		Description: "Late payment fee",
		Channel:     ChannelSystem,
		ToAccountID: loan.AccountID,
		Reference:   "LATE-FEE-" + loan.ID[:8],
	})
	if err != nil {
		return err
	}
	if _, err := e.transactions.ProcessTransaction(s, created.ID); err != nil {
		return err
	}
	loan.LastLateFeeDate = &asOf
	loan.UpdatedAt = time.Now().UTC()
	return e.saveLoanMerged(s, loan)
}

// saveLoanMerged persists loan, refusing to let a concurrently-recorded
// state regress (e.g. a DISBURSED update racing an ACTIVE payment update).
func (e *LoanEngine) saveLoanMerged(s *AtomicScope, loan *Loan) error {
	existingRec, found, err := s.Load(TableLoans, loan.ID)
	if err != nil {
		return wrapErr(KindStorageFailure, err, "failed to load loan %s", loan.ID)
	}
	if found {
		existing, err := loanFromRecord(existingRec)
		if err != nil {
			return err
		}
		if loanStateOrder[existing.State] > loanStateOrder[loan.State] {
			loan.State = existing.State
		}
		if existing.DisbursedDate != nil && loan.DisbursedDate == nil {
			loan.DisbursedDate = existing.DisbursedDate
		}
	}
	if err := s.Save(TableLoans, loan.ID, loanToRecord(loan)); err != nil {
		return wrapErr(KindStorageFailure, err, "failed to save loan %s", loan.ID)
	}
	return nil
}

// GetLoan loads a loan by id.
func (e *LoanEngine) GetLoan(id string) (*Loan, error) {
	rec, found, err := e.storage.Load(TableLoans, id)
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to load loan %s", id)
	}
	if !found {
		return nil, newErr(KindNotFound, "loan %s not found", id)
	}
	return loanFromRecord(rec)
}

// GetCustomerLoans returns every loan originated for customerID.
func (e *LoanEngine) GetCustomerLoans(customerID string) ([]*Loan, error) {
	matches, err := e.storage.Find(TableLoans, Record{"customer_id": customerID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query customer loans")
	}
	out := make([]*Loan, 0, len(matches))
	for _, rec := range matches {
		loan, err := loanFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, nil
}

// GetLoanPayments returns every payment for loanID, oldest first.
func (e *LoanEngine) GetLoanPayments(loanID string) ([]*LoanPayment, error) {
	matches, err := e.storage.Find(TableLoanPayments, Record{"loan_id": loanID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query loan payments")
	}
	out := make([]*LoanPayment, 0, len(matches))
	for _, rec := range matches {
		p, err := loanPaymentFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].PaymentDate.Before(out[i].PaymentDate) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// GetAmortizationSchedule returns loanID's full schedule, ordered by
// payment number.
func (e *LoanEngine) GetAmortizationSchedule(loanID string) ([]*AmortizationEntry, error) {
	all, err := e.storage.LoadAll(TableAmortizationSchedules)
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to load amortization schedules")
	}
	var out []*AmortizationEntry
	for _, rec := range all {
		if asString(rec["loan_id"]) != loanID {
			continue
		}
		entry, err := amortizationEntryFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].PaymentNumber < out[i].PaymentNumber {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func amortizationEntryID(loanID string, paymentNumber int32) string {
	return loanID + "_" + decimal.NewFromInt32(paymentNumber).String()
}

// --- serialization ---

func loanToRecord(l *Loan) Record {
	r := Record{
		"id":                l.ID,
		"account_id":        l.AccountID,
		"customer_id":       l.CustomerID,
		"state":             string(l.State),
		"current_balance":   l.CurrentBalance.ToRecord(),
		"total_paid":        l.TotalPaid.ToRecord(),
		"interest_paid":     l.InterestPaid.ToRecord(),
		"principal_paid":    l.PrincipalPaid.ToRecord(),
		"originated_date":   dateToRecord(l.OriginatedDate),
		"first_payment_date": dateToRecord(l.FirstPaymentDate),
		"maturity_date":     dateToRecord(l.MaturityDate),
		"created_at":        timeToRecord(l.CreatedAt),
		"updated_at":        timeToRecord(l.UpdatedAt),
		"terms": Record{
			"principal_amount":    l.Terms.PrincipalAmount.ToRecord(),
			"annual_interest_rate": l.Terms.AnnualInterestRate.String(),
			"term_months":         l.Terms.TermMonths,
			"payment_frequency":   string(l.Terms.PaymentFrequency),
			"amortization_method": string(l.Terms.AmortizationMethod),
			"first_payment_date":  dateToRecord(l.Terms.FirstPaymentDate),
			"allow_prepayment":    l.Terms.AllowPrepayment,
			"grace_period_days":   l.Terms.GracePeriodDays,
			"late_fee":            l.Terms.LateFee.ToRecord(),
		},
	}
	if l.Terms.PrepaymentPenaltyRate != nil {
		r["terms"].(Record)["prepayment_penalty_rate"] = l.Terms.PrepaymentPenaltyRate.String()
	}
	if l.DisbursedDate != nil {
		r["disbursed_date"] = dateToRecord(*l.DisbursedDate)
	}
	if l.LastPaymentDate != nil {
		r["last_payment_date"] = dateToRecord(*l.LastPaymentDate)
	}
	if l.LastLateFeeDate != nil {
		r["last_late_fee_date"] = dateToRecord(*l.LastLateFeeDate)
	}
	return r
}

func loanFromRecord(r Record) (*Loan, error) {
	termsRaw, ok := r["terms"].(Record)
	if !ok {
		if m, ok := r["terms"].(map[string]interface{}); ok {
			termsRaw = Record(m)
		} else {
			return nil, newErr(KindInvariant, "loan record has malformed terms")
		}
	}

	principalAmount, err := moneyFromAny(termsRaw["principal_amount"])
	if err != nil {
		return nil, err
	}
	lateFee, err := moneyFromAny(termsRaw["late_fee"])
	if err != nil {
		return nil, err
	}
	annualRate, err := decimal.NewFromString(asString(termsRaw["annual_interest_rate"]))
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed annual_interest_rate")
	}
	firstPaymentDate, err := asDate(termsRaw["first_payment_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan terms has malformed first_payment_date")
	}

	var prepaymentRate *decimal.Decimal
	if raw, ok := termsRaw["prepayment_penalty_rate"]; ok {
		d, err := decimal.NewFromString(asString(raw))
		if err != nil {
			return nil, wrapErr(KindInvariant, err, "loan has malformed prepayment_penalty_rate")
		}
		prepaymentRate = &d
	}

	termMonths, err := asInt32(termsRaw["term_months"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed term_months")
	}
	gracePeriodDays, err := asInt32(termsRaw["grace_period_days"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed grace_period_days")
	}

	terms := LoanTerms{
		PrincipalAmount:       principalAmount,
		AnnualInterestRate:    annualRate,
		TermMonths:            termMonths,
		PaymentFrequency:      PaymentFrequency(asString(termsRaw["payment_frequency"])),
		AmortizationMethod:    AmortizationMethod(asString(termsRaw["amortization_method"])),
		FirstPaymentDate:      firstPaymentDate,
		AllowPrepayment:       asBool(termsRaw["allow_prepayment"]),
		PrepaymentPenaltyRate: prepaymentRate,
		GracePeriodDays:       gracePeriodDays,
		LateFee:               lateFee,
	}

	originatedDate, err := asDate(r["originated_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed originated_date")
	}
	loanFirstPaymentDate, err := asDate(r["first_payment_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed first_payment_date")
	}
	maturityDate, err := asDate(r["maturity_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed maturity_date")
	}
	disbursedDate, err := asDatePtr(r["disbursed_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed disbursed_date")
	}
	lastPaymentDate, err := asDatePtr(r["last_payment_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed last_payment_date")
	}
	lastLateFeeDate, err := asDatePtr(r["last_late_fee_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed last_late_fee_date")
	}
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed created_at")
	}
	updatedAt, err := asTime(r["updated_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan has malformed updated_at")
	}

	currentBalance, err := moneyFromAny(r["current_balance"])
	if err != nil {
		return nil, err
	}
	totalPaid, err := moneyFromAny(r["total_paid"])
	if err != nil {
		return nil, err
	}
	interestPaid, err := moneyFromAny(r["interest_paid"])
	if err != nil {
		return nil, err
	}
	principalPaid, err := moneyFromAny(r["principal_paid"])
	if err != nil {
		return nil, err
	}

	return &Loan{
		ID:               asString(r["id"]),
		AccountID:        asString(r["account_id"]),
		CustomerID:       asString(r["customer_id"]),
		Terms:            terms,
		State:            LoanState(asString(r["state"])),
		CurrentBalance:   currentBalance,
		TotalPaid:        totalPaid,
		InterestPaid:     interestPaid,
		PrincipalPaid:    principalPaid,
		OriginatedDate:   originatedDate,
		DisbursedDate:    disbursedDate,
		FirstPaymentDate: loanFirstPaymentDate,
		LastPaymentDate:  lastPaymentDate,
		MaturityDate:     maturityDate,
		LastLateFeeDate:  lastLateFeeDate,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

func loanPaymentToRecord(p *LoanPayment) Record {
	r := Record{
		"id":                 p.ID,
		"loan_id":             p.LoanID,
		"transaction_id":      p.TransactionID,
		"payment_date":        dateToRecord(p.PaymentDate),
		"payment_amount":      p.PaymentAmount.ToRecord(),
		"principal_amount":    p.PrincipalAmount.ToRecord(),
		"interest_amount":     p.InterestAmount.ToRecord(),
		"late_fee":            p.LateFee.ToRecord(),
		"prepayment_penalty":  p.PrepaymentPenalty.ToRecord(),
		"created_at":          timeToRecord(p.CreatedAt),
		"updated_at":          timeToRecord(p.UpdatedAt),
	}
	if p.ScheduledPaymentNumber != nil {
		r["scheduled_payment_number"] = *p.ScheduledPaymentNumber
	}
	return r
}

func loanPaymentFromRecord(r Record) (*LoanPayment, error) {
	paymentDate, err := asDate(r["payment_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan payment has malformed payment_date")
	}
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan payment has malformed created_at")
	}
	updatedAt, err := asTime(r["updated_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "loan payment has malformed updated_at")
	}

	fields := map[string]Money{}
	for _, key := range []string{"payment_amount", "principal_amount", "interest_amount", "late_fee", "prepayment_penalty"} {
		m, err := moneyFromAny(r[key])
		if err != nil {
			return nil, err
		}
		fields[key] = m
	}

	var scheduledNum *int32
	if raw, ok := r["scheduled_payment_number"]; ok && raw != nil {
		n, err := asInt32(raw)
		if err != nil {
			return nil, wrapErr(KindInvariant, err, "loan payment has malformed scheduled_payment_number")
		}
		scheduledNum = &n
	}

	return &LoanPayment{
		ID:                     asString(r["id"]),
		LoanID:                 asString(r["loan_id"]),
		TransactionID:          asString(r["transaction_id"]),
		PaymentDate:            paymentDate,
		PaymentAmount:          fields["payment_amount"],
		PrincipalAmount:        fields["principal_amount"],
		InterestAmount:         fields["interest_amount"],
		LateFee:                fields["late_fee"],
		PrepaymentPenalty:      fields["prepayment_penalty"],
		ScheduledPaymentNumber: scheduledNum,
		CreatedAt:              createdAt,
		UpdatedAt:              updatedAt,
	}, nil
}

func amortizationEntryToRecord(e *AmortizationEntry, loanID string) Record {
	return Record{
		"loan_id":           loanID,
		"payment_number":    e.PaymentNumber,
		"payment_date":      dateToRecord(e.PaymentDate),
		"payment_amount":    e.PaymentAmount.ToRecord(),
		"principal_amount":  e.PrincipalAmount.ToRecord(),
		"interest_amount":   e.InterestAmount.ToRecord(),
		"remaining_balance": e.RemainingBalance.ToRecord(),
		"paid":              e.Paid,
	}
}

func amortizationEntryFromRecord(r Record) (*AmortizationEntry, error) {
	paymentDate, err := asDate(r["payment_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "amortization entry has malformed payment_date")
	}
	paymentAmount, err := moneyFromAny(r["payment_amount"])
	if err != nil {
		return nil, err
	}
	principalAmount, err := moneyFromAny(r["principal_amount"])
	if err != nil {
		return nil, err
	}
	interestAmount, err := moneyFromAny(r["interest_amount"])
	if err != nil {
		return nil, err
	}
	remainingBalance, err := moneyFromAny(r["remaining_balance"])
	if err != nil {
		return nil, err
	}
	paymentNumber, err := asInt32(r["payment_number"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "amortization entry has malformed payment_number")
	}
	return &AmortizationEntry{
		PaymentNumber:    paymentNumber,
		PaymentDate:      paymentDate,
		PaymentAmount:    paymentAmount,
		PrincipalAmount:  principalAmount,
		InterestAmount:   interestAmount,
		RemainingBalance: remainingBalance,
		Paid:             asBool(r["paid"]),
	}, nil
}
