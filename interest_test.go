package banking

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInterestEngine(t *testing.T) (*InterestEngine, *AccountManager, *TransactionProcessor) {
	t.Helper()
	storage := newTestStorage(t)
	audit := NewAuditTrail(storage)
	ledger := NewLedger(storage, audit)
	accounts := NewAccountManager(storage, ledger, audit)
	transactions := NewTransactionProcessor(storage, ledger, accounts, nil, audit)
	cfg := DefaultConfig()
	engine, err := NewInterestEngine(storage, ledger, accounts, transactions, audit, cfg)
	require.NoError(t, err)
	return engine, accounts, transactions
}

func fundAccount(t *testing.T, accounts *AccountManager, txns *TransactionProcessor, acct *Account, amount Money) {
	t.Helper()
	deposit, err := txns.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: amount, ToAccountID: acct.ID, Channel: ChannelSystem,
	})
	require.NoError(t, err)
	_, err = txns.ProcessTransaction(nil, deposit.ID)
	require.NoError(t, err)
}

func TestRunDailyAccrualSkipsAlreadyProcessed(t *testing.T) {
	engine, accounts, txns := newTestInterestEngine(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)
	fundAccount(t, accounts, txns, acct, NewMoney1(10000, USD))

	day := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	results, err := engine.RunDailyAccrual(nil, day)
	require.NoError(t, err)
	assert.Equal(t, 1, results[ProductSavings])

	results, err = engine.RunDailyAccrual(nil, day)
	require.NoError(t, err)
	assert.Equal(t, 0, results[ProductSavings])
}

func TestRunDailyAccrualSkipsBelowMinimumBalance(t *testing.T) {
	engine, accounts, txns := newTestInterestEngine(t)
	minBalance := NewMoney1(100, USD)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD, MinimumBalance: &minBalance,
	})
	require.NoError(t, err)
	fundAccount(t, accounts, txns, acct, NewMoney1(50, USD))

	day := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	results, err := engine.RunDailyAccrual(nil, day)
	require.NoError(t, err)
	assert.Equal(t, 0, results[ProductSavings])
}

func TestRateConfigForAccountPrefersOverrideElseGlobal(t *testing.T) {
	engine, accounts, _ := newTestInterestEngine(t)

	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	rc, err := engine.rateConfigForAccount(acct)
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.True(t, rc.AnnualRate.Equal(decimal.NewFromFloat(0.02)))

	override := decimal.NewFromFloat(0.055)
	_, err = accounts.UpdateAccountInterestRate(nil, acct.ID, override)
	require.NoError(t, err)
	acct, err = accounts.GetAccount(acct.ID)
	require.NoError(t, err)

	rc, err = engine.rateConfigForAccount(acct)
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.True(t, rc.AnnualRate.Equal(override))
}

func TestRateConfigForAccountNoConfigReturnsNil(t *testing.T) {
	engine, accounts, _ := newTestInterestEngine(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductGLInternal, Currency: EUR,
	})
	require.NoError(t, err)

	rc, err := engine.rateConfigForAccount(acct)
	require.NoError(t, err)
	assert.Nil(t, rc)
}

func TestPostMonthlyInterestPostsOnlyTargetMonth(t *testing.T) {
	engine, accounts, txns := newTestInterestEngine(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)
	fundAccount(t, accounts, txns, acct, NewMoney1(100000, USD))

	janDay := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	febDay := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)

	_, err = engine.RunDailyAccrual(nil, janDay)
	require.NoError(t, err)
	_, err = engine.RunDailyAccrual(nil, febDay)
	require.NoError(t, err)

	results, err := engine.PostMonthlyInterest(nil, 2026, time.January)
	require.NoError(t, err)
	require.Len(t, results[ProductSavings], 1)

	unposted, err := engine.unpostedAccruals(acct.ID)
	require.NoError(t, err)
	require.Len(t, unposted, 1)
	assert.Equal(t, febDay.Month(), unposted[0].AccrualDate.Month())

	balance, err := accounts.GetBookBalance(acct)
	require.NoError(t, err)
	assert.True(t, balance.GreaterThan(NewMoney1(100000, USD)))
}

func TestPostMonthlyInterestNoAccrualsIsNoop(t *testing.T) {
	engine, _, _ := newTestInterestEngine(t)
	results, err := engine.PostMonthlyInterest(nil, 2026, time.March)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGracePeriodCreateAndUpdateStatus(t *testing.T) {
	engine, accounts, _ := newTestInterestEngine(t)
	limit := NewMoney1(5000, USD)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCreditLine, Currency: USD, CreditLimit: &limit,
	})
	require.NoError(t, err)

	statementDate := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	dueDate := statementDate.AddDate(0, 0, 25)
	balance := NewMoney1(300, USD)

	tracker, err := engine.CreateGracePeriod(nil, acct.ID, statementDate, balance, dueDate)
	require.NoError(t, err)
	assert.True(t, tracker.IsGracePeriodValid())

	updated, err := engine.UpdateGracePeriodStatus(nil, acct.ID, NewMoney1(300, USD), dueDate.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, updated.FullPaymentReceived)
	assert.True(t, updated.IsGracePeriodValid())
}

func TestGracePeriodLostOnLatePartialPayment(t *testing.T) {
	engine, accounts, _ := newTestInterestEngine(t)
	limit := NewMoney1(5000, USD)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCreditLine, Currency: USD, CreditLimit: &limit,
	})
	require.NoError(t, err)

	statementDate := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	dueDate := statementDate.AddDate(0, 0, 25)
	balance := NewMoney1(300, USD)

	_, err = engine.CreateGracePeriod(nil, acct.ID, statementDate, balance, dueDate)
	require.NoError(t, err)

	updated, err := engine.UpdateGracePeriodStatus(nil, acct.ID, NewMoney1(50, USD), dueDate.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.False(t, updated.GracePeriodActive)
	require.NotNil(t, updated.GracePeriodLostDate)
	assert.False(t, updated.IsGracePeriodValid())
}
