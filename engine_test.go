package banking

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAllKYC struct{}

func (allowAllKYC) KYCTierFor(customerID string) (KYCTier, error)   { return KYCTier1, nil }
func (allowAllKYC) IsActiveCustomer(customerID string) (bool, error) { return true, nil }

func newTestSystem(t *testing.T) *BankingSystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	sys, err := NewBankingSystem(path, allowAllKYC{})
	require.NoError(t, err)
	t.Cleanup(func() { sys.Close() })
	return sys
}

func TestBankingSystemWiresEveryComponent(t *testing.T) {
	sys := newTestSystem(t)
	assert.NotNil(t, sys.Storage)
	assert.NotNil(t, sys.Audit)
	assert.NotNil(t, sys.Ledger)
	assert.NotNil(t, sys.Accounts)
	assert.NotNil(t, sys.Compliance)
	assert.NotNil(t, sys.Transactions)
	assert.NotNil(t, sys.Interest)
	assert.NotNil(t, sys.Credit)
	assert.NotNil(t, sys.Loans)
	assert.NotNil(t, sys.Config)
}

func TestEndToEndDepositTransferAndWithdrawal(t *testing.T) {
	sys := newTestSystem(t)

	checking, err := sys.Accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCheckings, Currency: USD,
	})
	require.NoError(t, err)

	savings, err := sys.Accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductSavings, Currency: USD,
	})
	require.NoError(t, err)

	deposit, err := sys.Transactions.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(1000, USD), ToAccountID: checking.ID,
		Channel: ChannelBranch, InitiatedByCustomer: false, Description: "initial deposit",
	})
	require.NoError(t, err)
	deposit, err = sys.Transactions.ProcessTransaction(nil, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, TxnCompleted, deposit.State)

	balance, err := sys.Accounts.GetBookBalance(checking)
	require.NoError(t, err)
	assert.True(t, balance.Equal(NewMoney1(1000, USD)))

	transfer, err := sys.Transactions.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnTransferInternal, Amount: NewMoney1(400, USD),
		FromAccountID: checking.ID, ToAccountID: savings.ID,
		Channel: ChannelOnline, InitiatedByCustomer: true, Description: "move to savings",
	})
	require.NoError(t, err)
	transfer, err = sys.Transactions.ProcessTransaction(nil, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, TxnCompleted, transfer.State)

	checkingBalance, err := sys.Accounts.GetBookBalance(checking)
	require.NoError(t, err)
	assert.True(t, checkingBalance.Equal(NewMoney1(600, USD)))

	savingsBalance, err := sys.Accounts.GetBookBalance(savings)
	require.NoError(t, err)
	assert.True(t, savingsBalance.Equal(NewMoney1(400, USD)))

	withdrawal, err := sys.Transactions.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnWithdrawal, Amount: NewMoney1(2000, USD), FromAccountID: checking.ID,
		Channel: ChannelATM, InitiatedByCustomer: true, Description: "over-limit withdrawal",
	})
	require.NoError(t, err)
	_, err = sys.Transactions.ProcessTransaction(nil, withdrawal.ID)
	require.Error(t, err)

	failed, err := sys.Transactions.GetTransaction(withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, TxnFailed, failed.State)

	events, err := sys.Audit.EventsForEntity("account", checking.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	report, err := sys.Audit.VerifyIntegrity()
	require.NoError(t, err)
	assert.Equal(t, 0, report.HashErrors)
	assert.Equal(t, 0, report.ChainBreaks)
}

func TestEndToEndLoanOriginationDisbursementAndPayment(t *testing.T) {
	sys := newTestSystem(t)

	checking, err := sys.Accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCheckings, Currency: USD,
	})
	require.NoError(t, err)

	loan, err := sys.Loans.OriginateLoan(nil, "cust-1", standardTerms(AmortizationEqualInstallment), USD)
	require.NoError(t, err)
	assert.Equal(t, LoanOriginated, loan.State)

	_, err = sys.Loans.DisburseLoan(nil, loan.ID, checking.ID)
	require.NoError(t, err)

	loan, err = sys.Loans.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanDisbursed, loan.State)

	checkingBalance, err := sys.Accounts.GetBookBalance(checking)
	require.NoError(t, err)
	assert.True(t, checkingBalance.Equal(loan.Terms.PrincipalAmount))

	schedule, err := sys.Loans.GetAmortizationSchedule(loan.ID)
	require.NoError(t, err)
	require.NotEmpty(t, schedule)
	firstPayment := schedule[0].PaymentAmount

	deposit, err := sys.Transactions.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: loan.Terms.PrincipalAmount,
		ToAccountID: checking.ID, Channel: ChannelBranch, Description: "fund checking for payment",
	})
	require.NoError(t, err)
	_, err = sys.Transactions.ProcessTransaction(nil, deposit.ID)
	require.NoError(t, err)

	payment, err := sys.Loans.MakePayment(nil, loan.ID, firstPayment, schedule[0].PaymentDate, checking.ID)
	require.NoError(t, err)
	assert.NotNil(t, payment)

	reloaded, err := sys.Loans.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.CurrentBalance.LessThan(loan.Terms.PrincipalAmount))
}
