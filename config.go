package banking

import "github.com/shopspring/decimal"

// KYCTier is a customer verification tier, consumed from the (external)
// customer/KYC collaborator. The core only needs the tier label to look
// up limits; it does not own customer records.
type KYCTier string

const (
	KYCTier0 KYCTier = "tier_0" // unverified
	KYCTier1 KYCTier = "tier_1" // basic KYC
	KYCTier2 KYCTier = "tier_2" // full KYC
	KYCTier3 KYCTier = "tier_3" // enhanced due diligence
)

// TierLimits bounds transaction sizes for a KYC tier.
type TierLimits struct {
	SingleTransaction Money
	Daily             Money
	Monthly           Money
	AnnualCumulative  Money
}

// CreditConfig holds the process-wide credit-line defaults (spec §6).
type CreditConfig struct {
	GracePeriodDays      int32
	MinimumPaymentRate   decimal.Decimal
	MinimumPaymentFloor  decimal.Decimal
	LateFeeUSD           decimal.Decimal
	OverlimitFeeUSD      decimal.Decimal
	LargeBalanceSurcharge decimal.Decimal // extra minimum-payment add-on above this balance
	LargeBalanceThreshold decimal.Decimal
}

// LoanConfig holds process-wide loan defaults.
type LoanConfig struct {
	DefaultLateFeeUSD decimal.Decimal
}

// Config is the process-wide configuration, loaded once at construction,
// grounded on the Python original's config.py defaults and spec §6.
type Config struct {
	LargeTransactionThresholdUSD decimal.Decimal
	Credit                       CreditConfig
	Loan                         LoanConfig
	DefaultInterestRates         map[interestRateKey]InterestRateConfig
	KYCTierLimits                map[KYCTier]TierLimits
	VelocityWindowHours          int32
	VelocityCountThreshold       int32
}

type interestRateKey struct {
	ProductType ProductType
	Currency    string
}

// DefaultConfig returns the standard configuration (spec §6 defaults).
func DefaultConfig() *Config {
	cfg := &Config{
		LargeTransactionThresholdUSD: decimal.NewFromInt(10000),
		Credit: CreditConfig{
			GracePeriodDays:       25,
			MinimumPaymentRate:    decimal.NewFromFloat(0.02),
			MinimumPaymentFloor:   decimal.NewFromInt(25),
			LateFeeUSD:            decimal.NewFromInt(35),
			OverlimitFeeUSD:       decimal.NewFromInt(25),
			LargeBalanceSurcharge: decimal.NewFromInt(10),
			LargeBalanceThreshold: decimal.NewFromInt(1000),
		},
		Loan: LoanConfig{
			DefaultLateFeeUSD: decimal.NewFromInt(25),
		},
		DefaultInterestRates:   map[interestRateKey]InterestRateConfig{},
		KYCTierLimits:          map[KYCTier]TierLimits{},
		VelocityWindowHours:    1,
		VelocityCountThreshold: 5,
	}

	cfg.DefaultInterestRates[interestRateKey{ProductSavings, USD.Code}] = InterestRateConfig{
		ProductType: ProductSavings,
		Currency:    USD,
		AnnualRate:  decimal.NewFromFloat(0.02),
		Method:      Actual365,
	}
	cfg.DefaultInterestRates[interestRateKey{ProductCheckings, USD.Code}] = InterestRateConfig{
		ProductType: ProductCheckings,
		Currency:    USD,
		AnnualRate:  decimal.NewFromFloat(0.001),
		Method:      Actual365,
	}
	cfg.DefaultInterestRates[interestRateKey{ProductCreditLine, USD.Code}] = InterestRateConfig{
		ProductType: ProductCreditLine,
		Currency:    USD,
		AnnualRate:  decimal.NewFromFloat(0.1999),
		Method:      Actual360,
	}
	cfg.DefaultInterestRates[interestRateKey{ProductLoan, USD.Code}] = InterestRateConfig{
		ProductType: ProductLoan,
		Currency:    USD,
		AnnualRate:  decimal.NewFromFloat(0.075),
		Method:      Thirty360,
	}

	tier0Limit := func(single, daily, monthly, annual int64) TierLimits {
		return TierLimits{
			SingleTransaction: NewMoney(decimal.NewFromInt(single), USD),
			Daily:             NewMoney(decimal.NewFromInt(daily), USD),
			Monthly:           NewMoney(decimal.NewFromInt(monthly), USD),
			AnnualCumulative:  NewMoney(decimal.NewFromInt(annual), USD),
		}
	}
	cfg.KYCTierLimits[KYCTier0] = tier0Limit(500, 1000, 3000, 10000)
	cfg.KYCTierLimits[KYCTier1] = tier0Limit(2000, 5000, 20000, 60000)
	cfg.KYCTierLimits[KYCTier2] = tier0Limit(10000, 25000, 100000, 500000)
	cfg.KYCTierLimits[KYCTier3] = tier0Limit(100000, 250000, 1000000, 5000000)

	return cfg
}

// InterestRateFor resolves a default (product_type, currency) interest rate config.
func (c *Config) InterestRateFor(product ProductType, currency Currency) (InterestRateConfig, bool) {
	cfg, ok := c.DefaultInterestRates[interestRateKey{product, currency.Code}]
	return cfg, ok
}

// TierLimitsFor resolves the limits for a KYC tier, defaulting to Tier0 if unknown.
func (c *Config) TierLimitsFor(tier KYCTier) TierLimits {
	if limits, ok := c.KYCTierLimits[tier]; ok {
		return limits
	}
	return c.KYCTierLimits[KYCTier0]
}
