package banking

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductType is the customer-facing product kind an Account represents.
type ProductType string

const (
	ProductSavings    ProductType = "SAVINGS"
	ProductCheckings  ProductType = "CHECKING"
	ProductCreditLine ProductType = "CREDIT_LINE"
	ProductLoan       ProductType = "LOAN"
	ProductGLInternal ProductType = "GL_INTERNAL"
)

// AccountState is the account lifecycle.
type AccountState string

const (
	AccountActive  AccountState = "ACTIVE"
	AccountFrozen  AccountState = "FROZEN"
	AccountClosed  AccountState = "CLOSED"
	AccountDormant AccountState = "DORMANT"
)

// accountTypeForProduct infers the accounting AccountType from the product
// kind: SAVINGS/CHECKING -> ASSET, CREDIT_LINE/LOAN -> LIABILITY,
// GL_INTERNAL -> ASSET by default.
func accountTypeForProduct(p ProductType) AccountType {
	switch p {
	case ProductCreditLine, ProductLoan:
		return Liability
	default:
		return Asset
	}
}

// Account is a customer-owned (or internal GL) ledger account.
type Account struct {
	ID                  string
	AccountNumber       string
	CustomerID          string
	Name                string
	ProductType         ProductType
	AccountType         AccountType
	Currency            Currency
	State               AccountState
	InterestRate        *decimal.Decimal
	CreditLimit         *Money
	MinimumBalance      *Money
	DailyTransactLimit  *Money
	MonthlyTransactLimit *Money
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CanCredit: any state except CLOSED.
func (a *Account) CanCredit() bool { return a.State != AccountClosed }

// CanDebit: ACTIVE only.
func (a *Account) CanDebit() bool { return a.State == AccountActive }

// CanTransact: ACTIVE only.
func (a *Account) CanTransact() bool { return a.State == AccountActive }

// AccountHold is an amount reserved against an account.
type AccountHold struct {
	ID         string
	AccountID  string
	Amount     Money
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	ReleasedAt *time.Time
}

// IsActive: not released and not expired.
func (h *AccountHold) IsActive(asOf time.Time) bool {
	if h.ReleasedAt != nil {
		return false
	}
	if h.ExpiresAt != nil && asOf.After(*h.ExpiresAt) {
		return false
	}
	return true
}

// AccountManager owns account lifecycle, holds, and derived-balance queries.
// Book/available/credit-available balances are always computed, never
// stored — the ledger is consulted on every call.
type AccountManager struct {
	storage *Storage
	ledger  *Ledger
	audit   *AuditTrail
}

// NewAccountManager constructs an AccountManager over storage and ledger.
func NewAccountManager(storage *Storage, ledger *Ledger, audit *AuditTrail) *AccountManager {
	return &AccountManager{storage: storage, ledger: ledger, audit: audit}
}

// CreateAccountParams bundles the optional fields CreateAccount accepts.
type CreateAccountParams struct {
	CustomerID           string
	ProductType          ProductType
	Currency             Currency
	Name                 string
	AccountNumber        string // optional; generated if empty
	InterestRate         *decimal.Decimal
	CreditLimit          *Money
	MinimumBalance       *Money
	DailyTransactLimit   *Money
	MonthlyTransactLimit *Money
}

// CreateAccount assigns an id, infers the account type from the product
// type, generates an account number if none was supplied, validates
// currency consistency of every optional Money field, persists, and emits
// an ACCOUNT_CREATED audit event.
func (m *AccountManager) CreateAccount(scope *AtomicScope, p CreateAccountParams) (*Account, error) {
	if p.CreditLimit != nil {
		if accountTypeForProduct(p.ProductType) != Liability {
			return nil, newErr(KindInvariant, "credit limit only applies to liability products")
		}
		if p.CreditLimit.Currency.Code != p.Currency.Code {
			return nil, newErr(KindCurrencyMismatch, "credit limit currency %s does not match account currency %s", p.CreditLimit.Currency.Code, p.Currency.Code)
		}
	}
	for _, m := range []*Money{p.MinimumBalance, p.DailyTransactLimit, p.MonthlyTransactLimit} {
		if m != nil && m.Currency.Code != p.Currency.Code {
			return nil, newErr(KindCurrencyMismatch, "optional field currency %s does not match account currency %s", m.Currency.Code, p.Currency.Code)
		}
	}

	now := time.Now().UTC()
	acct := &Account{
		ID:                   uuid.New().String(),
		AccountNumber:        p.AccountNumber,
		CustomerID:           p.CustomerID,
		Name:                 p.Name,
		ProductType:          p.ProductType,
		AccountType:          accountTypeForProduct(p.ProductType),
		Currency:             p.Currency,
		State:                AccountActive,
		InterestRate:         p.InterestRate,
		CreditLimit:          p.CreditLimit,
		MinimumBalance:       p.MinimumBalance,
		DailyTransactLimit:   p.DailyTransactLimit,
		MonthlyTransactLimit: p.MonthlyTransactLimit,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if acct.AccountNumber == "" {
		acct.AccountNumber = generateAccountNumber(p.ProductType)
	}

	err := m.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableAccounts, acct.ID, accountToRecord(acct)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save account %s", acct.ID)
		}
		_, err := m.audit.LogEvent(s, EventAccountCreated, "account", acct.ID, map[string]interface{}{
			"customer_id":  p.CustomerID,
			"product_type": string(p.ProductType),
			"currency":     p.Currency.Code,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

var accountNumberPrefix = map[ProductType]string{
	ProductSavings:    "SAV",
	ProductCheckings:  "CHK",
	ProductCreditLine: "CRD",
	ProductLoan:       "LN",
	ProductGLInternal: "GL",
}

func generateAccountNumber(p ProductType) string {
	prefix, ok := accountNumberPrefix[p]
	if !ok {
		prefix = "ACC"
	}
	return fmt.Sprintf("%s-%010d", prefix, rand.Int63n(9999999999))
}

// GetAccount loads an account by id.
func (m *AccountManager) GetAccount(id string) (*Account, error) {
	rec, found, err := m.storage.Load(TableAccounts, id)
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to load account %s", id)
	}
	if !found {
		return nil, newErr(KindNotFound, "account %s not found", id)
	}
	return accountFromRecord(rec)
}

// GetAccountByNumber looks an account up by its human-facing account number.
func (m *AccountManager) GetAccountByNumber(number string) (*Account, error) {
	matches, err := m.storage.Find(TableAccounts, Record{"account_number": number})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query account by number")
	}
	if len(matches) == 0 {
		return nil, newErr(KindNotFound, "account with number %s not found", number)
	}
	return accountFromRecord(matches[0])
}

// GetCustomerAccounts returns every account owned by customerID.
func (m *AccountManager) GetCustomerAccounts(customerID string) ([]*Account, error) {
	matches, err := m.storage.Find(TableAccounts, Record{"customer_id": customerID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query customer accounts")
	}
	accounts := make([]*Account, 0, len(matches))
	for _, rec := range matches {
		acct, err := accountFromRecord(rec)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func (m *AccountManager) saveState(scope *AtomicScope, acct *Account, newState AccountState, eventType AuditEventType) error {
	acct.State = newState
	acct.UpdatedAt = time.Now().UTC()
	return m.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableAccounts, acct.ID, accountToRecord(acct)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save account %s", acct.ID)
		}
		_, err := m.audit.LogEvent(s, eventType, "account", acct.ID, map[string]interface{}{"new_state": string(newState)})
		return err
	})
}

// UpdateAccountState transitions the account's lifecycle state directly.
// CloseAccount should be preferred for closing deposit products, since it
// enforces the zero-balance invariant.
func (m *AccountManager) UpdateAccountState(scope *AtomicScope, id string, newState AccountState) (*Account, error) {
	acct, err := m.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if err := m.saveState(scope, acct, newState, EventAccountStateChanged); err != nil {
		return nil, err
	}
	return acct, nil
}

// FreezeAccount sets state to FROZEN.
func (m *AccountManager) FreezeAccount(scope *AtomicScope, id string) (*Account, error) {
	return m.UpdateAccountState(scope, id, AccountFrozen)
}

// UnfreezeAccount sets state back to ACTIVE.
func (m *AccountManager) UnfreezeAccount(scope *AtomicScope, id string) (*Account, error) {
	return m.UpdateAccountState(scope, id, AccountActive)
}

// CloseAccount rejects non-zero-balance deposit products (SAVINGS/CHECKING);
// credit/loan products may close with an outstanding balance (write-off is
// an external collections concern).
func (m *AccountManager) CloseAccount(scope *AtomicScope, id string) (*Account, error) {
	acct, err := m.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if acct.ProductType == ProductSavings || acct.ProductType == ProductCheckings {
		balance, err := m.GetBookBalance(acct)
		if err != nil {
			return nil, err
		}
		if !balance.IsZero() {
			return nil, newErr(KindBadState, "cannot close account %s with non-zero balance %s", id, balance.String())
		}
	}
	if err := m.saveState(scope, acct, AccountClosed, EventAccountStateChanged); err != nil {
		return nil, err
	}
	return acct, nil
}

// UpdateAccountInterestRate sets the account-level interest rate override.
func (m *AccountManager) UpdateAccountInterestRate(scope *AtomicScope, id string, rate decimal.Decimal) (*Account, error) {
	acct, err := m.GetAccount(id)
	if err != nil {
		return nil, err
	}
	acct.InterestRate = &rate
	acct.UpdatedAt = time.Now().UTC()
	err = m.storage.WithScope(scope, func(s *AtomicScope) error {
		return s.Save(TableAccounts, acct.ID, accountToRecord(acct))
	})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to save account %s", id)
	}
	return acct, nil
}

// PlaceHold validates currency match and a positive amount, then persists the hold.
func (m *AccountManager) PlaceHold(scope *AtomicScope, accountID string, amount Money, reason string, expiresAt *time.Time) (*AccountHold, error) {
	acct, err := m.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if amount.Currency.Code != acct.Currency.Code {
		return nil, newErr(KindCurrencyMismatch, "hold currency %s does not match account currency %s", amount.Currency.Code, acct.Currency.Code)
	}
	if !amount.IsPositive() {
		return nil, newErr(KindInvariant, "hold amount must be positive")
	}

	hold := &AccountHold{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	err = m.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableAccountHolds, hold.ID, holdToRecord(hold)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save hold %s", hold.ID)
		}
		_, err := m.audit.LogEvent(s, EventHoldPlaced, "account_hold", hold.ID, map[string]interface{}{
			"account_id": accountID,
			"amount":     amount.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

// ReleaseHold sets released-at; re-releasing an already-released hold is an error.
func (m *AccountManager) ReleaseHold(scope *AtomicScope, holdID string) (*AccountHold, error) {
	rec, found, err := m.storage.Load(TableAccountHolds, holdID)
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to load hold %s", holdID)
	}
	if !found {
		return nil, newErr(KindNotFound, "hold %s not found", holdID)
	}
	hold, err := holdFromRecord(rec)
	if err != nil {
		return nil, err
	}
	if hold.ReleasedAt != nil {
		return nil, newErr(KindBadState, "hold %s already released", holdID)
	}
	now := time.Now().UTC()
	hold.ReleasedAt = &now
	err = m.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableAccountHolds, hold.ID, holdToRecord(hold)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save released hold %s", holdID)
		}
		_, err := m.audit.LogEvent(s, EventHoldReleased, "account_hold", hold.ID, map[string]interface{}{"account_id": hold.AccountID})
		return err
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

// GetActiveHolds returns every non-released, non-expired hold on accountID.
func (m *AccountManager) GetActiveHolds(accountID string) ([]*AccountHold, error) {
	matches, err := m.storage.Find(TableAccountHolds, Record{"account_id": accountID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query holds for %s", accountID)
	}
	now := time.Now().UTC()
	var active []*AccountHold
	for _, rec := range matches {
		hold, err := holdFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if hold.IsActive(now) {
			active = append(active, hold)
		}
	}
	return active, nil
}

// GetBookBalance delegates to the ledger. For CREDIT_LINE products it flips
// the sign of the liability balance so a customer-owed balance reads as
// positive from the customer's point of view. Per the spec, this is the
// ONLY place in the core where the CREDIT_LINE sign is flipped.
func (m *AccountManager) GetBookBalance(acct *Account) (Money, error) {
	balance, err := m.ledger.DeriveAccountBalance(acct.ID, acct.AccountType, acct.Currency, nil)
	if err != nil {
		return Money{}, err
	}
	if acct.ProductType == ProductCreditLine {
		return balance.Neg(), nil
	}
	return balance, nil
}

func (m *AccountManager) sumActiveHolds(acct *Account) (Money, error) {
	holds, err := m.GetActiveHolds(acct.ID)
	if err != nil {
		return Money{}, err
	}
	total := Zero(acct.Currency)
	for _, h := range holds {
		total = total.MustAdd(h.Amount)
	}
	return total, nil
}

// GetAvailableBalance is book_balance minus active holds for deposit
// products. For a liability product carrying a credit limit (CREDIT_LINE),
// book balance already reads as the positive amount owed, so available
// balance is credit_limit minus book balance minus active holds instead.
func (m *AccountManager) GetAvailableBalance(acct *Account) (Money, error) {
	book, err := m.GetBookBalance(acct)
	if err != nil {
		return Money{}, err
	}
	holds, err := m.sumActiveHolds(acct)
	if err != nil {
		return Money{}, err
	}
	if acct.AccountType == Liability && acct.CreditLimit != nil {
		return acct.CreditLimit.MustSub(book).MustSub(holds), nil
	}
	return book.MustSub(holds), nil
}

// GetCreditAvailable returns credit_limit - used - active_holds, floored at
// zero; meaningful only for credit products carrying a limit.
func (m *AccountManager) GetCreditAvailable(acct *Account) (Money, error) {
	if acct.CreditLimit == nil {
		return Zero(acct.Currency), nil
	}
	used, err := m.GetBookBalance(acct)
	if err != nil {
		return Money{}, err
	}
	holds, err := m.sumActiveHolds(acct)
	if err != nil {
		return Money{}, err
	}
	available := acct.CreditLimit.MustSub(used).MustSub(holds)
	if available.IsNegative() {
		return Zero(acct.Currency), nil
	}
	return available, nil
}

// --- serialization (account manager owns Account/AccountHold record shape) ---

func accountToRecord(a *Account) Record {
	r := Record{
		"id":             a.ID,
		"account_number": a.AccountNumber,
		"customer_id":    a.CustomerID,
		"name":           a.Name,
		"product_type":   string(a.ProductType),
		"account_type":   string(a.AccountType),
		"currency":       a.Currency.Code,
		"state":          string(a.State),
		"created_at":     timeToRecord(a.CreatedAt),
		"updated_at":     timeToRecord(a.UpdatedAt),
	}
	if a.InterestRate != nil {
		r["interest_rate"] = a.InterestRate.String()
	}
	if a.CreditLimit != nil {
		r["credit_limit"] = a.CreditLimit.ToRecord()
	}
	if a.MinimumBalance != nil {
		r["minimum_balance"] = a.MinimumBalance.ToRecord()
	}
	if a.DailyTransactLimit != nil {
		r["daily_transact_limit"] = a.DailyTransactLimit.ToRecord()
	}
	if a.MonthlyTransactLimit != nil {
		r["monthly_transact_limit"] = a.MonthlyTransactLimit.ToRecord()
	}
	return r
}

func optionalMoneyFromAny(v interface{}) (*Money, error) {
	if v == nil {
		return nil, nil
	}
	m, err := moneyFromAny(v)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func accountFromRecord(r Record) (*Account, error) {
	currency, err := LookupCurrency(asString(r["currency"]))
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "account has invalid currency")
	}
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "account has malformed created_at")
	}
	updatedAt, err := asTime(r["updated_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "account has malformed updated_at")
	}

	var interestRate *decimal.Decimal
	if raw, ok := r["interest_rate"]; ok {
		d, err := decimal.NewFromString(asString(raw))
		if err != nil {
			return nil, wrapErr(KindInvariant, err, "account has malformed interest_rate")
		}
		interestRate = &d
	}
	creditLimit, err := optionalMoneyFromAny(r["credit_limit"])
	if err != nil {
		return nil, err
	}
	minBalance, err := optionalMoneyFromAny(r["minimum_balance"])
	if err != nil {
		return nil, err
	}
	dailyLimit, err := optionalMoneyFromAny(r["daily_transact_limit"])
	if err != nil {
		return nil, err
	}
	monthlyLimit, err := optionalMoneyFromAny(r["monthly_transact_limit"])
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:                   asString(r["id"]),
		AccountNumber:        asString(r["account_number"]),
		CustomerID:           asString(r["customer_id"]),
		Name:                 asString(r["name"]),
		ProductType:          ProductType(asString(r["product_type"])),
		AccountType:          AccountType(asString(r["account_type"])),
		Currency:             currency,
		State:                AccountState(asString(r["state"])),
		InterestRate:         interestRate,
		CreditLimit:          creditLimit,
		MinimumBalance:       minBalance,
		DailyTransactLimit:   dailyLimit,
		MonthlyTransactLimit: monthlyLimit,
		CreatedAt:            createdAt,
		UpdatedAt:            updatedAt,
	}, nil
}

func holdToRecord(h *AccountHold) Record {
	r := Record{
		"id":         h.ID,
		"account_id": h.AccountID,
		"amount":     h.Amount.ToRecord(),
		"reason":     h.Reason,
		"created_at": timeToRecord(h.CreatedAt),
	}
	if h.ExpiresAt != nil {
		r["expires_at"] = timeToRecord(*h.ExpiresAt)
	}
	if h.ReleasedAt != nil {
		r["released_at"] = timeToRecord(*h.ReleasedAt)
	}
	return r
}

func holdFromRecord(r Record) (*AccountHold, error) {
	amount, err := moneyFromAny(r["amount"])
	if err != nil {
		return nil, err
	}
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "hold has malformed created_at")
	}
	expiresAt, err := asTimePtr(r["expires_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "hold has malformed expires_at")
	}
	releasedAt, err := asTimePtr(r["released_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "hold has malformed released_at")
	}
	return &AccountHold{
		ID:         asString(r["id"]),
		AccountID:  asString(r["account_id"]),
		Amount:     amount,
		Reason:     asString(r["reason"]),
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
		ReleasedAt: releasedAt,
	}, nil
}
