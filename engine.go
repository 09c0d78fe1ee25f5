package banking

// BankingSystem wires every component into the dependency order they
// require: storage, then the audit trail, then the ledger, then the
// account manager, then the gates and processors that sit on top of an
// account's balance, then the product engines that drive transactions
// through the processor.
type BankingSystem struct {
	Storage      *Storage
	Audit        *AuditTrail
	Ledger       *Ledger
	Accounts     *AccountManager
	Compliance   *ComplianceGate
	Transactions *TransactionProcessor
	Interest     *InterestEngine
	Credit       *CreditEngine
	Loans        *LoanEngine
	Config       *Config
}

// NewBankingSystem opens the database at dbPath and constructs every
// component, wired together per their constructor dependencies.
func NewBankingSystem(dbPath string, kyc KYCLimitsProvider) (*BankingSystem, error) {
	storage, err := NewStorage(dbPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	audit := NewAuditTrail(storage)
	ledger := NewLedger(storage, audit)
	accounts := NewAccountManager(storage, ledger, audit)
	compliance := NewComplianceGate(storage, audit, cfg, kyc)
	transactions := NewTransactionProcessor(storage, ledger, accounts, compliance, audit)
	interest, err := NewInterestEngine(storage, ledger, accounts, transactions, audit, cfg)
	if err != nil {
		return nil, err
	}
	credit := NewCreditEngine(storage, accounts, transactions, interest, audit, cfg)
	loans := NewLoanEngine(storage, accounts, transactions, audit, cfg)

	return &BankingSystem{
		Storage:      storage,
		Audit:        audit,
		Ledger:       ledger,
		Accounts:     accounts,
		Compliance:   compliance,
		Transactions: transactions,
		Interest:     interest,
		Credit:       credit,
		Loans:        loans,
		Config:       cfg,
	}, nil
}

// Close releases the underlying database handle.
func (b *BankingSystem) Close() error {
	return b.Storage.Close()
}
