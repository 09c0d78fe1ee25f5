package banking

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoanEngine(t *testing.T) (*LoanEngine, *AccountManager, *TransactionProcessor) {
	t.Helper()
	storage := newTestStorage(t)
	audit := NewAuditTrail(storage)
	ledger := NewLedger(storage, audit)
	accounts := NewAccountManager(storage, ledger, audit)
	transactions := NewTransactionProcessor(storage, ledger, accounts, nil, audit)
	cfg := DefaultConfig()
	engine := NewLoanEngine(storage, accounts, transactions, audit, cfg)
	return engine, accounts, transactions
}

func standardTerms(method AmortizationMethod) LoanTerms {
	return LoanTerms{
		PrincipalAmount:    NewMoney1(12000, USD),
		AnnualInterestRate: decimal.NewFromFloat(0.12),
		TermMonths:         12,
		PaymentFrequency:   FrequencyMonthly,
		AmortizationMethod: method,
		FirstPaymentDate:   time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
		AllowPrepayment:    true,
		GracePeriodDays:    10,
		LateFee:            NewMoney1(25, USD),
	}
}

func TestOriginateLoanGeneratesScheduleAndAccount(t *testing.T) {
	e, accounts, _ := newTestLoanEngine(t)

	loan, err := e.OriginateLoan(nil, "cust-1", standardTerms(AmortizationEqualInstallment), USD)
	require.NoError(t, err)
	assert.Equal(t, LoanOriginated, loan.State)
	assert.True(t, loan.CurrentBalance.Equal(NewMoney1(12000, USD)))

	acct, err := accounts.GetAccount(loan.AccountID)
	require.NoError(t, err)
	assert.Equal(t, ProductLoan, acct.ProductType)

	schedule, err := e.GetAmortizationSchedule(loan.ID)
	require.NoError(t, err)
	assert.Len(t, schedule, 12)
	assert.Equal(t, int32(12), schedule[11].PaymentNumber)
	assert.True(t, schedule[11].RemainingBalance.IsZero())
}

func TestEqualInstallmentScheduleHasLevelPayments(t *testing.T) {
	e, _, _ := newTestLoanEngine(t)
	loan, err := e.OriginateLoan(nil, "cust-1", standardTerms(AmortizationEqualInstallment), USD)
	require.NoError(t, err)

	schedule, err := e.GetAmortizationSchedule(loan.ID)
	require.NoError(t, err)
	first := schedule[0].PaymentAmount
	tolerance := NewMoney(decimal.NewFromFloat(0.02), USD)
	for _, entry := range schedule[1 : len(schedule)-1] {
		assert.True(t, entry.PaymentAmount.MustSub(first).Abs().LessThanOrEqual(tolerance),
			"payment %d differs from level amount", entry.PaymentNumber)
	}
}

func TestEqualPrincipalScheduleHasDecreasingPayments(t *testing.T) {
	e, _, _ := newTestLoanEngine(t)
	loan, err := e.OriginateLoan(nil, "cust-1", standardTerms(AmortizationEqualPrincipal), USD)
	require.NoError(t, err)

	schedule, err := e.GetAmortizationSchedule(loan.ID)
	require.NoError(t, err)
	require.Len(t, schedule, 12)
	assert.True(t, schedule[0].PaymentAmount.GreaterThan(schedule[11].PaymentAmount))
	for i := 1; i < len(schedule); i++ {
		assert.True(t, schedule[i].PrincipalAmount.Equal(schedule[0].PrincipalAmount) ||
			schedule[i].PaymentNumber == 12)
	}
	assert.True(t, schedule[11].RemainingBalance.IsZero())
}

func TestBulletScheduleDefersPrincipalToFinalPayment(t *testing.T) {
	e, _, _ := newTestLoanEngine(t)
	loan, err := e.OriginateLoan(nil, "cust-1", standardTerms(AmortizationBullet), USD)
	require.NoError(t, err)

	schedule, err := e.GetAmortizationSchedule(loan.ID)
	require.NoError(t, err)
	require.Len(t, schedule, 12)
	for _, entry := range schedule[:len(schedule)-1] {
		assert.True(t, entry.PrincipalAmount.IsZero())
	}
	last := schedule[11]
	assert.True(t, last.PrincipalAmount.Equal(NewMoney1(12000, USD)))
	assert.True(t, last.RemainingBalance.IsZero())
}

func TestDisburseLoanTransfersPrincipalAndActivates(t *testing.T) {
	e, accounts, _ := newTestLoanEngine(t)
	loan, err := e.OriginateLoan(nil, "cust-1", standardTerms(AmortizationEqualInstallment), USD)
	require.NoError(t, err)

	checking, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCheckings, Currency: USD,
	})
	require.NoError(t, err)

	_, err = e.DisburseLoan(nil, loan.ID, checking.ID)
	require.NoError(t, err)

	reloaded, err := e.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanDisbursed, reloaded.State)
	require.NotNil(t, reloaded.DisbursedDate)

	balance, err := accounts.GetBookBalance(checking)
	require.NoError(t, err)
	assert.True(t, balance.Equal(NewMoney1(12000, USD)))
}

func TestDisburseLoanRejectsNonOriginated(t *testing.T) {
	e, accounts, _ := newTestLoanEngine(t)
	loan, err := e.OriginateLoan(nil, "cust-1", standardTerms(AmortizationEqualInstallment), USD)
	require.NoError(t, err)
	checking, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCheckings, Currency: USD,
	})
	require.NoError(t, err)
	_, err = e.DisburseLoan(nil, loan.ID, checking.ID)
	require.NoError(t, err)

	_, err = e.DisburseLoan(nil, loan.ID, checking.ID)
	require.Error(t, err)
	assert.Equal(t, KindBadState, KindOf(err))
}

func TestMakePaymentAllocatesInterestAndPrincipalAndAdvancesSchedule(t *testing.T) {
	e, accounts, txns := newTestLoanEngine(t)
	loan, err := e.OriginateLoan(nil, "cust-1", standardTerms(AmortizationEqualInstallment), USD)
	require.NoError(t, err)
	checking, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCheckings, Currency: USD,
	})
	require.NoError(t, err)
	_, err = e.DisburseLoan(nil, loan.ID, checking.ID)
	require.NoError(t, err)

	fund, err := txns.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(5000, USD), ToAccountID: checking.ID, Channel: ChannelOnline,
	})
	require.NoError(t, err)
	_, err = txns.ProcessTransaction(nil, fund.ID)
	require.NoError(t, err)

	schedule, err := e.GetAmortizationSchedule(loan.ID)
	require.NoError(t, err)
	scheduledPayment := schedule[0].PaymentAmount

	payment, err := e.MakePayment(nil, loan.ID, scheduledPayment, loan.Terms.FirstPaymentDate, checking.ID)
	require.NoError(t, err)
	require.NotNil(t, payment.ScheduledPaymentNumber)
	assert.Equal(t, int32(1), *payment.ScheduledPaymentNumber)
	assert.True(t, payment.LateFee.IsZero())

	updated, err := e.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanActive, updated.State)
	assert.True(t, updated.CurrentBalance.LessThan(NewMoney1(12000, USD)))

	updatedSchedule, err := e.GetAmortizationSchedule(loan.ID)
	require.NoError(t, err)
	assert.True(t, updatedSchedule[0].Paid)

	next := nextUnpaidEntry(updatedSchedule)
	require.NotNil(t, next)
	assert.Equal(t, int32(2), next.PaymentNumber)
}

func TestMakePaymentChargesLateFeeWhenPastGrace(t *testing.T) {
	e, accounts, txns := newTestLoanEngine(t)
	loan, err := e.OriginateLoan(nil, "cust-1", standardTerms(AmortizationEqualInstallment), USD)
	require.NoError(t, err)
	checking, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCheckings, Currency: USD,
	})
	require.NoError(t, err)
	_, err = e.DisburseLoan(nil, loan.ID, checking.ID)
	require.NoError(t, err)

	fund, err := txns.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(5000, USD), ToAccountID: checking.ID, Channel: ChannelOnline,
	})
	require.NoError(t, err)
	_, err = txns.ProcessTransaction(nil, fund.ID)
	require.NoError(t, err)

	schedule, err := e.GetAmortizationSchedule(loan.ID)
	require.NoError(t, err)
	scheduledPayment := schedule[0].PaymentAmount
	lateDate := loan.Terms.FirstPaymentDate.AddDate(0, 0, int(loan.Terms.GracePeriodDays)+5)

	payment, err := e.MakePayment(nil, loan.ID, scheduledPayment, lateDate, checking.ID)
	require.NoError(t, err)
	assert.True(t, payment.LateFee.Equal(loan.Terms.LateFee))
}

func TestMakePaymentPaysOffLoanOnFinalPayment(t *testing.T) {
	e, accounts, txns := newTestLoanEngine(t)
	terms := standardTerms(AmortizationBullet)
	terms.TermMonths = 1
	terms.PaymentFrequency = FrequencyMonthly
	loan, err := e.OriginateLoan(nil, "cust-1", terms, USD)
	require.NoError(t, err)
	checking, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCheckings, Currency: USD,
	})
	require.NoError(t, err)
	_, err = e.DisburseLoan(nil, loan.ID, checking.ID)
	require.NoError(t, err)

	fund, err := txns.CreateTransaction(nil, CreateTransactionParams{
		Type: TxnDeposit, Amount: NewMoney1(13000, USD), ToAccountID: checking.ID, Channel: ChannelOnline,
	})
	require.NoError(t, err)
	_, err = txns.ProcessTransaction(nil, fund.ID)
	require.NoError(t, err)

	schedule, err := e.GetAmortizationSchedule(loan.ID)
	require.NoError(t, err)
	final := schedule[len(schedule)-1]

	_, err = e.MakePayment(nil, loan.ID, final.PaymentAmount, final.PaymentDate, checking.ID)
	require.NoError(t, err)

	updated, err := e.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanPaidOff, updated.State)
	assert.True(t, updated.CurrentBalance.IsZero())
}

func TestProcessPastDueLoansChargesFeeOncePerMonth(t *testing.T) {
	e, accounts, _ := newTestLoanEngine(t)
	loan, err := e.OriginateLoan(nil, "cust-1", standardTerms(AmortizationEqualInstallment), USD)
	require.NoError(t, err)
	checking, err := accounts.CreateAccount(nil, CreateAccountParams{
		CustomerID: "cust-1", ProductType: ProductCheckings, Currency: USD,
	})
	require.NoError(t, err)
	_, err = e.DisburseLoan(nil, loan.ID, checking.ID)
	require.NoError(t, err)

	// Force the loan into ACTIVE without paying anything, by advancing past
	// due date directly (a fresh loan is DISBURSED, not ACTIVE, so make a
	// payment of zero-equivalent isn't possible; instead exercise via state).
	reloaded, err := e.GetLoan(loan.ID)
	require.NoError(t, err)
	reloaded.State = LoanActive
	require.NoError(t, e.storage.Atomic(func(s *AtomicScope) error { return e.saveLoanMerged(s, reloaded) }))

	asOf := loan.Terms.FirstPaymentDate.AddDate(0, 0, int(loan.Terms.GracePeriodDays)+3)
	feesCharged, loansProcessed, err := e.ProcessPastDueLoans(nil, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, feesCharged)
	assert.Equal(t, 1, loansProcessed)

	feesCharged, loansProcessed, err = e.ProcessPastDueLoans(nil, asOf.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, feesCharged)
	assert.Equal(t, 1, loansProcessed)
}

func TestNextUnpaidEntryReturnsEarliestUnpaid(t *testing.T) {
	schedule := []*AmortizationEntry{
		{PaymentNumber: 1, Paid: true},
		{PaymentNumber: 2, Paid: true},
		{PaymentNumber: 3, Paid: false},
		{PaymentNumber: 4, Paid: false},
	}
	entry := nextUnpaidEntry(schedule)
	require.NotNil(t, entry)
	assert.Equal(t, int32(3), entry.PaymentNumber)

	allPaid := []*AmortizationEntry{{PaymentNumber: 1, Paid: true}}
	assert.Nil(t, nextUnpaidEntry(allPaid))
}
