package banking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T) (*TransactionProcessor, *AccountManager) {
	t.Helper()
	storage := newTestStorage(t)
	audit := NewAuditTrail(storage)
	ledger := NewLedger(storage, audit)
	accounts := NewAccountManager(storage, ledger, audit)
	processor := NewTransactionProcessor(storage, ledger, accounts, nil, audit)
	return processor, accounts
}

func TestCreateTransactionIdempotentFirstWriterWins(t *testing.T) {
	p, accounts := newTestProcessor(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	params := CreateTransactionParams{
		Type:           TxnDeposit,
		Amount:         NewMoney1(100, USD),
		ToAccountID:    acct.ID,
		Channel:        ChannelOnline,
		IdempotencyKey: "idem-key-1",
	}
	first, err := p.CreateTransaction(nil, params)
	require.NoError(t, err)

	params.Amount = NewMoney1(999, USD) // different amount, same key
	second, err := p.CreateTransaction(nil, params)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Amount.Equal(NewMoney1(100, USD)))
}

func TestCreateTransactionRequiresAccountsByType(t *testing.T) {
	p, _ := newTestProcessor(t)

	_, err := p.CreateTransaction(nil, CreateTransactionParams{Type: TxnDeposit, Amount: NewMoney1(10, USD)})
	require.Error(t, err)
	assert.Equal(t, KindInvariant, KindOf(err))

	_, err = p.CreateTransaction(nil, CreateTransactionParams{Type: TxnReversal, Amount: NewMoney1(10, USD)})
	require.Error(t, err)
	assert.Equal(t, KindInvariant, KindOf(err))
}

func TestCreateTransactionRejectsCurrencyMismatch(t *testing.T) {
	p, accounts := newTestProcessor(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	_, err = p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(10, EUR), ToAccountID: acct.ID,
	})
	require.Error(t, err)
	assert.Equal(t, KindCurrencyMismatch, KindOf(err))
}

func TestProcessTransactionDepositAndWithdrawal(t *testing.T) {
	p, accounts := newTestProcessor(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	deposit, err := p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(500, USD), ToAccountID: acct.ID, Channel: ChannelBranch,
	})
	require.NoError(t, err)
	processed, err := p.ProcessTransaction(nil, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, TxnCompleted, processed.State)
	require.NotNil(t, processed.JournalEntryID)

	balance, err := accounts.GetBookBalance(acct)
	require.NoError(t, err)
	assert.True(t, balance.Equal(NewMoney1(500, USD)))

	withdrawal, err := p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnWithdrawal, Amount: NewMoney1(200, USD), FromAccountID: acct.ID, Channel: ChannelATM,
	})
	require.NoError(t, err)
	processed, err = p.ProcessTransaction(nil, withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, TxnCompleted, processed.State)

	balance, err = accounts.GetBookBalance(acct)
	require.NoError(t, err)
	assert.True(t, balance.Equal(NewMoney1(300, USD)))
}

func TestProcessTransactionFailsOnInsufficientFunds(t *testing.T) {
	p, accounts := newTestProcessor(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	withdrawal, err := p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnWithdrawal, Amount: NewMoney1(50, USD), FromAccountID: acct.ID, Channel: ChannelATM,
	})
	require.NoError(t, err)

	_, err = p.ProcessTransaction(nil, withdrawal.ID)
	require.Error(t, err)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))

	failed, err := p.GetTransaction(withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, TxnFailed, failed.State)
	require.NotNil(t, failed.ErrorMessage)
}

func TestProcessTransactionRejectsNonPendingState(t *testing.T) {
	p, accounts := newTestProcessor(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	deposit, err := p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(100, USD), ToAccountID: acct.ID, Channel: ChannelOnline,
	})
	require.NoError(t, err)
	_, err = p.ProcessTransaction(nil, deposit.ID)
	require.NoError(t, err)

	_, err = p.ProcessTransaction(nil, deposit.ID)
	require.Error(t, err)
	assert.Equal(t, KindBadState, KindOf(err))
}

func TestReverseTransactionFlipsBalanceAndLinksTransactions(t *testing.T) {
	p, accounts := newTestProcessor(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	deposit, err := p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(400, USD), ToAccountID: acct.ID, Channel: ChannelOnline,
	})
	require.NoError(t, err)
	_, err = p.ProcessTransaction(nil, deposit.ID)
	require.NoError(t, err)

	reversal, err := p.ReverseTransaction(nil, deposit.ID, "customer disputed deposit")
	require.NoError(t, err)
	assert.Equal(t, TxnReversal, reversal.Type)
	require.NotNil(t, reversal.OriginalTransactionID)
	assert.Equal(t, deposit.ID, *reversal.OriginalTransactionID)

	original, err := p.GetTransaction(deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, TxnReversed, original.State)
	require.NotNil(t, original.ReversalTransactionID)
	assert.Equal(t, reversal.ID, *original.ReversalTransactionID)

	balance, err := accounts.GetBookBalance(acct)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestReverseTransactionRequiresCompleted(t *testing.T) {
	p, accounts := newTestProcessor(t)
	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	deposit, err := p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(100, USD), ToAccountID: acct.ID, Channel: ChannelOnline,
	})
	require.NoError(t, err)

	_, err = p.ReverseTransaction(nil, deposit.ID, "too early")
	require.Error(t, err)
	assert.Equal(t, KindBadState, KindOf(err))
}

func TestTransferInternalBetweenAccounts(t *testing.T) {
	p, accounts := newTestProcessor(t)
	source, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCheckings, Currency: USD,
	})
	require.NoError(t, err)
	dest, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	fund, err := p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(1000, USD), ToAccountID: source.ID, Channel: ChannelOnline,
	})
	require.NoError(t, err)
	_, err = p.ProcessTransaction(nil, fund.ID)
	require.NoError(t, err)

	transfer, err := p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnTransferInternal, Amount: NewMoney1(300, USD),
		FromAccountID: source.ID, ToAccountID: dest.ID, Channel: ChannelOnline,
	})
	require.NoError(t, err)
	_, err = p.ProcessTransaction(nil, transfer.ID)
	require.NoError(t, err)

	sourceBalance, err := accounts.GetBookBalance(source)
	require.NoError(t, err)
	assert.True(t, sourceBalance.Equal(NewMoney1(700, USD)))

	destBalance, err := accounts.GetBookBalance(dest)
	require.NoError(t, err)
	assert.True(t, destBalance.Equal(NewMoney1(300, USD)))
}

func TestProcessTransactionWithComplianceBlock(t *testing.T) {
	storage := newTestStorage(t)
	audit := NewAuditTrail(storage)
	ledger := NewLedger(storage, audit)
	accounts := NewAccountManager(storage, ledger, audit)
	cfg := DefaultConfig()
	compliance := NewComplianceGate(storage, audit, cfg, blockingKYC{})
	p := NewTransactionProcessor(storage, ledger, accounts, compliance, audit)

	acct, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	deposit, err := p.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(100, USD), ToAccountID: acct.ID,
		Channel: ChannelOnline, InitiatedByCustomer: true,
	})
	require.NoError(t, err)

	_, err = p.ProcessTransaction(nil, deposit.ID)
	require.Error(t, err)
	assert.Equal(t, KindComplianceBlocked, KindOf(err))

	failed, err := p.GetTransaction(deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, TxnFailed, failed.State)
	require.NotNil(t, failed.ComplianceDecision)
	assert.Equal(t, ComplianceBlock, *failed.ComplianceDecision)
}

// blockingKYC reports every customer inactive, forcing CheckTransaction to
// always return BLOCK.
type blockingKYC struct{}

func (blockingKYC) KYCTierFor(customerID string) (KYCTier, error) { return KYCTier0, nil }
func (blockingKYC) IsActiveCustomer(customerID string) (bool, error) { return false, nil }
