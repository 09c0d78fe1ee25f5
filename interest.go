package banking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InterestCalculationMethod selects the day-count convention used to turn
// an annual rate into a daily rate.
type InterestCalculationMethod string

const (
	Actual365 InterestCalculationMethod = "ACTUAL_365"
	Actual360 InterestCalculationMethod = "ACTUAL_360"
	Thirty360 InterestCalculationMethod = "THIRTY_360"
)

func dailyRate(annualRate decimal.Decimal, method InterestCalculationMethod) (decimal.Decimal, error) {
	switch method {
	case Actual365:
		return annualRate.Div(decimal.NewFromInt(365)), nil
	case Actual360, Thirty360:
		return annualRate.Div(decimal.NewFromInt(360)), nil
	default:
		return decimal.Zero, newErr(KindInvariant, "unsupported interest calculation method %q", method)
	}
}

// InterestRateConfig is the rate applied to a (product type, currency) pair,
// or overridden per-account via Account.InterestRate.
type InterestRateConfig struct {
	ProductType     ProductType
	Currency        Currency
	AnnualRate      decimal.Decimal
	Method          InterestCalculationMethod
	MinimumBalance  *Money // deposit products only: balance must be >= this to earn interest
	Active          bool
}

// InterestAccrual is one account's one-day interest computation, persisted
// unposted until a monthly posting run sweeps it into the ledger.
type InterestAccrual struct {
	ID                string
	AccountID         string
	AccrualDate       time.Time // date-only
	PrincipalBalance  Money
	DailyRate         decimal.Decimal
	AccruedAmount     Money
	CumulativeAccrued Money
	Method            InterestCalculationMethod
	RateConfigID      string
	Posted            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// GracePeriodTracker records whether a credit-line statement's grace period
// is still intact, i.e. whether daily interest accrual on the account is
// suspended.
type GracePeriodTracker struct {
	ID                   string
	AccountID            string
	StatementDate        time.Time
	StatementBalance     Money
	DueDate              time.Time
	GracePeriodActive    bool
	FullPaymentReceived  bool
	GracePeriodLostDate  *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsGracePeriodValid reports whether the grace period still shields the
// account from interest accrual.
func (g *GracePeriodTracker) IsGracePeriodValid() bool {
	return g.GracePeriodActive && g.GracePeriodLostDate == nil
}

// InterestEngine accrues and posts interest across deposit, credit, and
// loan products, with grace-period suppression for revolving credit.
type InterestEngine struct {
	storage      *Storage
	ledger       *Ledger
	accounts     *AccountManager
	transactions *TransactionProcessor
	audit        *AuditTrail
}

// NewInterestEngine constructs an InterestEngine and seeds default rate
// configs from cfg for any (product type, currency) not already stored.
func NewInterestEngine(storage *Storage, ledger *Ledger, accounts *AccountManager, transactions *TransactionProcessor, audit *AuditTrail, cfg *Config) (*InterestEngine, error) {
	e := &InterestEngine{storage: storage, ledger: ledger, accounts: accounts, transactions: transactions, audit: audit}
	for _, rc := range cfg.DefaultInterestRates {
		existing, err := storage.Find(TableInterestRateConfigs, Record{
			"product_type": string(rc.ProductType),
			"currency":     rc.Currency.Code,
		})
		if err != nil {
			return nil, wrapErr(KindStorageFailure, err, "failed to query interest rate configs")
		}
		if len(existing) > 0 {
			continue
		}
		rc.Active = true
		if err := storage.Save(TableInterestRateConfigs, uuid.New().String(), rateConfigToRecord(rc)); err != nil {
			return nil, wrapErr(KindStorageFailure, err, "failed to seed interest rate config")
		}
	}
	return e, nil
}

// RunDailyAccrual computes and persists one day's interest accrual for
// every active account with an applicable rate, skipping accounts already
// processed for accrualDate. Per-account failures are recorded as audit
// events and do not abort the run.
func (e *InterestEngine) RunDailyAccrual(scope *AtomicScope, accrualDate time.Time) (map[ProductType]int, error) {
	results := map[ProductType]int{}
	accounts, err := e.storage.LoadAll(TableAccounts)
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to load accounts")
	}

	for _, rec := range accounts {
		acct, err := accountFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if acct.State != AccountActive {
			continue
		}
		processed, err := e.isAccrualProcessed(acct.ID, accrualDate)
		if err != nil {
			return nil, err
		}
		if processed {
			continue
		}

		rateConfig, err := e.rateConfigForAccount(acct)
		if err != nil {
			return nil, err
		}
		if rateConfig == nil {
			continue
		}

		accrual, err := e.calculateDailyAccrual(acct, rateConfig, accrualDate)
		if err != nil {
			if err := e.logAccrualError(scope, acct.ID, accrualDate, err); err != nil {
				return nil, err
			}
			continue
		}
		if accrual == nil {
			continue
		}

		err = e.storage.WithScope(scope, func(s *AtomicScope) error {
			if err := s.Save(TableInterestAccruals, accrual.ID, accrualToRecord(accrual)); err != nil {
				return wrapErr(KindStorageFailure, err, "failed to save accrual %s", accrual.ID)
			}
			_, err := e.audit.LogEvent(s, EventInterestAccrued, "account", acct.ID, map[string]interface{}{
				"accrual_date":      dateToRecord(accrualDate),
				"accrued_amount":    accrual.AccruedAmount.String(),
				"principal_balance": accrual.PrincipalBalance.String(),
				"daily_rate":        accrual.DailyRate.String(),
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		results[acct.ProductType]++
	}
	return results, nil
}

func (e *InterestEngine) logAccrualError(scope *AtomicScope, accountID string, accrualDate time.Time, cause error) error {
	return e.storage.WithScope(scope, func(s *AtomicScope) error {
		_, err := e.audit.LogEvent(s, EventBatchJobError, "account", accountID, map[string]interface{}{
			"error":        "interest accrual failed",
			"message":      cause.Error(),
			"accrual_date": dateToRecord(accrualDate),
		})
		return err
	})
}

// calculateDailyAccrual decides whether interest accrues today for acct and,
// if so, computes the amount. Deposit products accrue on a positive balance
// at or above the configured minimum; CREDIT_LINE accrues on an outstanding
// balance unless a valid grace period is in effect; LOAN accrues on
// outstanding principal.
func (e *InterestEngine) calculateDailyAccrual(acct *Account, rateConfig *InterestRateConfig, accrualDate time.Time) (*InterestAccrual, error) {
	bookBalance, err := e.accounts.GetBookBalance(acct)
	if err != nil {
		return nil, err
	}

	principal := bookBalance
	shouldAccrue := false

	switch acct.ProductType {
	case ProductSavings, ProductCheckings:
		if bookBalance.IsPositive() {
			if rateConfig.MinimumBalance != nil {
				shouldAccrue = bookBalance.GreaterThanOrEqual(*rateConfig.MinimumBalance)
			} else {
				shouldAccrue = true
			}
		}
	case ProductCreditLine:
		if bookBalance.IsPositive() {
			tracker, err := e.currentGracePeriod(acct.ID)
			if err != nil {
				return nil, err
			}
			shouldAccrue = tracker == nil || !tracker.IsGracePeriodValid()
		}
	case ProductLoan:
		if bookBalance.IsNegative() {
			principal = bookBalance.Neg()
			shouldAccrue = true
		}
	}
	if !shouldAccrue {
		return nil, nil
	}

	rate, err := dailyRate(rateConfig.AnnualRate, rateConfig.Method)
	if err != nil {
		return nil, err
	}
	accrued := principal.Mul(rate)

	unposted, err := e.unpostedAccruals(acct.ID)
	if err != nil {
		return nil, err
	}
	cumulative := Zero(acct.Currency)
	for _, prev := range unposted {
		cumulative = cumulative.MustAdd(prev.AccruedAmount)
	}
	cumulative = cumulative.MustAdd(accrued)

	now := time.Now().UTC()
	return &InterestAccrual{
		ID:                uuid.New().String(),
		AccountID:         acct.ID,
		AccrualDate:       accrualDate,
		PrincipalBalance:  principal,
		DailyRate:         rate,
		AccruedAmount:     accrued,
		CumulativeAccrued: cumulative,
		Method:            rateConfig.Method,
		RateConfigID:      rateConfigKey(rateConfig),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func rateConfigKey(rc *InterestRateConfig) string {
	return fmt.Sprintf("%s-%s", rc.ProductType, rc.Currency.Code)
}

// rateConfigForAccount resolves the rate to apply: an account-level
// override (Account.InterestRate) takes precedence over the stored
// (product type, currency) default and carries the account's own minimum
// balance with the ACTUAL/365 method; when the stored default is used, the
// higher of its minimum balance and the account's is applied.
func (e *InterestEngine) rateConfigForAccount(acct *Account) (*InterestRateConfig, error) {
	if acct.InterestRate != nil {
		return &InterestRateConfig{
			ProductType:    acct.ProductType,
			Currency:       acct.Currency,
			AnnualRate:     *acct.InterestRate,
			Method:         Actual365,
			MinimumBalance: acct.MinimumBalance,
			Active:         true,
		}, nil
	}

	global, err := e.globalRateConfig(acct.ProductType, acct.Currency)
	if err != nil {
		return nil, err
	}
	if global == nil {
		return nil, nil
	}
	if acct.MinimumBalance != nil {
		if global.MinimumBalance == nil || acct.MinimumBalance.GreaterThan(*global.MinimumBalance) {
			global.MinimumBalance = acct.MinimumBalance
		}
	}
	return global, nil
}

func (e *InterestEngine) globalRateConfig(product ProductType, currency Currency) (*InterestRateConfig, error) {
	matches, err := e.storage.Find(TableInterestRateConfigs, Record{
		"product_type": string(product),
		"currency":     currency.Code,
		"active":       true,
	})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query interest rate config")
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return rateConfigFromRecord(matches[0])
}

// PostMonthlyInterest posts every unposted accrual dated within exactly
// [year, month] as a single interest transaction per account. There is no
// sweep-in of accruals from any other month.
func (e *InterestEngine) PostMonthlyInterest(scope *AtomicScope, year int, month time.Month) (map[ProductType][]string, error) {
	results := map[ProductType][]string{}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	all, err := e.storage.Find(TableInterestAccruals, Record{"posted": false})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query unposted accruals")
	}

	byAccount := map[string][]*InterestAccrual{}
	for _, rec := range all {
		accrual, err := accrualFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if accrual.AccrualDate.Before(start) || !accrual.AccrualDate.Before(end) {
			continue
		}
		byAccount[accrual.AccountID] = append(byAccount[accrual.AccountID], accrual)
	}

	for accountID, accruals := range byAccount {
		txID, err := e.postInterestForAccount(scope, accountID, accruals)
		if err != nil {
			if logErr := e.logPostingError(scope, accountID, year, month, err); logErr != nil {
				return nil, logErr
			}
			continue
		}
		if txID == "" {
			continue
		}
		acct, err := e.accounts.GetAccount(accountID)
		if err != nil {
			return nil, err
		}
		results[acct.ProductType] = append(results[acct.ProductType], txID)

		err = e.storage.WithScope(scope, func(s *AtomicScope) error {
			for _, accrual := range accruals {
				accrual.Posted = true
				if err := s.Save(TableInterestAccruals, accrual.ID, accrualToRecord(accrual)); err != nil {
					return wrapErr(KindStorageFailure, err, "failed to mark accrual %s posted", accrual.ID)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (e *InterestEngine) logPostingError(scope *AtomicScope, accountID string, year int, month time.Month, cause error) error {
	return e.storage.WithScope(scope, func(s *AtomicScope) error {
		_, err := e.audit.LogEvent(s, EventBatchJobError, "account", accountID, map[string]interface{}{
			"error":   "interest posting failed",
			"message": cause.Error(),
			"month":   int(month),
			"year":    year,
		})
		return err
	})
}

// postInterestForAccount sums accruals and posts them as a single
// INTEREST_CREDIT (deposit products) or INTEREST_DEBIT (credit/loan
// products) transaction, skipping amounts under one minor unit.
func (e *InterestEngine) postInterestForAccount(scope *AtomicScope, accountID string, accruals []*InterestAccrual) (string, error) {
	if len(accruals) == 0 {
		return "", nil
	}
	currency := accruals[0].AccruedAmount.Currency
	total := Zero(currency)
	for _, a := range accruals {
		total = total.MustAdd(a.AccruedAmount)
	}
	if total.Abs().LessThan(NewMoney(decimal.New(1, -currency.Precision), currency)) {
		return "", nil
	}

	acct, err := e.accounts.GetAccount(accountID)
	if err != nil {
		return "", err
	}
	period := accruals[0].AccrualDate.Format("200601")
	reference := fmt.Sprintf("INT-%s-%s", accountID, period)

	var params CreateTransactionParams
	switch acct.ProductType {
	case ProductSavings, ProductCheckings:
		params = CreateTransactionParams{
			Type:        TxnInterestCredit,
			Amount:      total,
			Description: fmt.Sprintf("Interest earned for %s", accruals[0].AccrualDate.Format("January 2006")),
			Channel:     ChannelSystem,
			ToAccountID: accountID,
			Reference:   reference,
		}
	case ProductCreditLine, ProductLoan:
		params = CreateTransactionParams{
			Type:          TxnInterestDebit,
			Amount:        total,
			Description:   fmt.Sprintf("Interest charged for %s", accruals[0].AccrualDate.Format("January 2006")),
			Channel:       ChannelSystem,
			FromAccountID: accountID,
			Reference:     reference,
		}
	default:
		return "", newErr(KindInvariant, "interest posting not supported for product type %s", acct.ProductType)
	}

	var txID string
	err = e.storage.WithScope(scope, func(s *AtomicScope) error {
		txn, err := e.transactions.CreateTransaction(s, params)
		if err != nil {
			return err
		}
		processed, err := e.transactions.ProcessTransaction(s, txn.ID)
		if err != nil {
			return err
		}
		txID = processed.ID
		_, err = e.audit.LogEvent(s, EventInterestPosted, "account", accountID, map[string]interface{}{
			"transaction_id":  processed.ID,
			"interest_amount": total.String(),
			"accrual_count":   len(accruals),
			"period":          accruals[0].AccrualDate.Format("2006-01"),
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

func (e *InterestEngine) isAccrualProcessed(accountID string, accrualDate time.Time) (bool, error) {
	matches, err := e.storage.Find(TableInterestAccruals, Record{
		"account_id":   accountID,
		"accrual_date": dateToRecord(accrualDate),
	})
	if err != nil {
		return false, wrapErr(KindStorageFailure, err, "failed to query accruals")
	}
	return len(matches) > 0, nil
}

func (e *InterestEngine) unpostedAccruals(accountID string) ([]*InterestAccrual, error) {
	matches, err := e.storage.Find(TableInterestAccruals, Record{"account_id": accountID, "posted": false})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query unposted accruals")
	}
	out := make([]*InterestAccrual, 0, len(matches))
	for _, rec := range matches {
		a, err := accrualFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// CreateGracePeriod opens a new grace-period tracker for a freshly
// generated credit statement.
func (e *InterestEngine) CreateGracePeriod(scope *AtomicScope, accountID string, statementDate time.Time, statementBalance Money, dueDate time.Time) (*GracePeriodTracker, error) {
	now := time.Now().UTC()
	tracker := &GracePeriodTracker{
		ID:                uuid.New().String(),
		AccountID:         accountID,
		StatementDate:     statementDate,
		StatementBalance:  statementBalance,
		DueDate:           dueDate,
		GracePeriodActive: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := e.storage.WithScope(scope, func(s *AtomicScope) error {
		return s.Save(TableGracePeriods, tracker.ID, gracePeriodToRecord(tracker))
	})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to save grace period")
	}
	return tracker, nil
}

// UpdateGracePeriodStatus applies a credit-line payment to the current
// grace period: a payment covering the full statement balance preserves
// it, even after the due date; a smaller payment made after the due date
// revokes it, so that daily accrual on the balance resumes. Applies only
// to CREDIT_LINE accounts.
func (e *InterestEngine) UpdateGracePeriodStatus(scope *AtomicScope, accountID string, paymentAmount Money, paymentDate time.Time) (*GracePeriodTracker, error) {
	acct, err := e.accounts.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if acct.ProductType != ProductCreditLine {
		return nil, nil
	}
	tracker, err := e.currentGracePeriod(accountID)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, nil
	}

	changed := false
	if paymentAmount.GreaterThanOrEqual(tracker.StatementBalance) {
		tracker.FullPaymentReceived = true
		changed = true
	} else if paymentDate.After(tracker.DueDate) && tracker.IsGracePeriodValid() {
		tracker.GracePeriodActive = false
		tracker.GracePeriodLostDate = &paymentDate
		changed = true
	}
	if !changed {
		return tracker, nil
	}
	tracker.UpdatedAt = time.Now().UTC()
	err = e.storage.WithScope(scope, func(s *AtomicScope) error {
		return s.Save(TableGracePeriods, tracker.ID, gracePeriodToRecord(tracker))
	})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to save grace period")
	}
	return tracker, nil
}

func (e *InterestEngine) currentGracePeriod(accountID string) (*GracePeriodTracker, error) {
	matches, err := e.storage.Find(TableGracePeriods, Record{"account_id": accountID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query grace periods")
	}
	if len(matches) == 0 {
		return nil, nil
	}
	var latest *GracePeriodTracker
	for _, rec := range matches {
		tracker, err := gracePeriodFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if latest == nil || tracker.StatementDate.After(latest.StatementDate) {
			latest = tracker
		}
	}
	return latest, nil
}

// --- serialization ---

func rateConfigToRecord(rc InterestRateConfig) Record {
	r := Record{
		"product_type": string(rc.ProductType),
		"currency":     rc.Currency.Code,
		"annual_rate":  rc.AnnualRate.String(),
		"method":       string(rc.Method),
		"active":       rc.Active,
	}
	if rc.MinimumBalance != nil {
		r["minimum_balance"] = rc.MinimumBalance.ToRecord()
	}
	return r
}

func rateConfigFromRecord(r Record) (*InterestRateConfig, error) {
	currency, err := LookupCurrency(asString(r["currency"]))
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "rate config has invalid currency")
	}
	rate, err := decimal.NewFromString(asString(r["annual_rate"]))
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "rate config has malformed annual_rate")
	}
	minBalance, err := optionalMoneyFromAny(r["minimum_balance"])
	if err != nil {
		return nil, err
	}
	return &InterestRateConfig{
		ProductType:    ProductType(asString(r["product_type"])),
		Currency:       currency,
		AnnualRate:     rate,
		Method:         InterestCalculationMethod(asString(r["method"])),
		MinimumBalance: minBalance,
		Active:         asBool(r["active"]),
	}, nil
}

func accrualToRecord(a *InterestAccrual) Record {
	return Record{
		"id":                 a.ID,
		"account_id":         a.AccountID,
		"accrual_date":       dateToRecord(a.AccrualDate),
		"principal_balance":  a.PrincipalBalance.ToRecord(),
		"daily_rate":         a.DailyRate.String(),
		"accrued_amount":     a.AccruedAmount.ToRecord(),
		"cumulative_accrued": a.CumulativeAccrued.ToRecord(),
		"method":             string(a.Method),
		"rate_config_id":     a.RateConfigID,
		"posted":             a.Posted,
		"created_at":         timeToRecord(a.CreatedAt),
		"updated_at":         timeToRecord(a.UpdatedAt),
	}
}

func accrualFromRecord(r Record) (*InterestAccrual, error) {
	accrualDate, err := asDate(r["accrual_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "accrual has malformed accrual_date")
	}
	principal, err := moneyFromAny(r["principal_balance"])
	if err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(asString(r["daily_rate"]))
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "accrual has malformed daily_rate")
	}
	accrued, err := moneyFromAny(r["accrued_amount"])
	if err != nil {
		return nil, err
	}
	cumulative, err := moneyFromAny(r["cumulative_accrued"])
	if err != nil {
		return nil, err
	}
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "accrual has malformed created_at")
	}
	updatedAt, err := asTime(r["updated_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "accrual has malformed updated_at")
	}
	return &InterestAccrual{
		ID:                asString(r["id"]),
		AccountID:         asString(r["account_id"]),
		AccrualDate:       accrualDate,
		PrincipalBalance:  principal,
		DailyRate:         rate,
		AccruedAmount:     accrued,
		CumulativeAccrued: cumulative,
		Method:            InterestCalculationMethod(asString(r["method"])),
		RateConfigID:      asString(r["rate_config_id"]),
		Posted:            asBool(r["posted"]),
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

func gracePeriodToRecord(g *GracePeriodTracker) Record {
	r := Record{
		"id":                    g.ID,
		"account_id":            g.AccountID,
		"statement_date":        dateToRecord(g.StatementDate),
		"statement_balance":     g.StatementBalance.ToRecord(),
		"due_date":              dateToRecord(g.DueDate),
		"grace_period_active":   g.GracePeriodActive,
		"full_payment_received": g.FullPaymentReceived,
		"created_at":            timeToRecord(g.CreatedAt),
		"updated_at":            timeToRecord(g.UpdatedAt),
	}
	if g.GracePeriodLostDate != nil {
		r["grace_period_lost_date"] = dateToRecord(*g.GracePeriodLostDate)
	}
	return r
}

func gracePeriodFromRecord(r Record) (*GracePeriodTracker, error) {
	statementDate, err := asDate(r["statement_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "grace period has malformed statement_date")
	}
	dueDate, err := asDate(r["due_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "grace period has malformed due_date")
	}
	lostDate, err := asDatePtr(r["grace_period_lost_date"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "grace period has malformed grace_period_lost_date")
	}
	balance, err := moneyFromAny(r["statement_balance"])
	if err != nil {
		return nil, err
	}
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "grace period has malformed created_at")
	}
	updatedAt, err := asTime(r["updated_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "grace period has malformed updated_at")
	}
	return &GracePeriodTracker{
		ID:                  asString(r["id"]),
		AccountID:           asString(r["account_id"]),
		StatementDate:       statementDate,
		StatementBalance:    balance,
		DueDate:             dueDate,
		GracePeriodActive:   asBool(r["grace_period_active"]),
		FullPaymentReceived: asBool(r["full_payment_received"]),
		GracePeriodLostDate: lostDate,
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}, nil
}
