package banking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ComplianceAction is the sum-type result of a compliance check. Unlike the
// Python original (which mixed exceptions and return values), the gate
// always returns a decision; the caller decides what to do with it.
type ComplianceAction string

const (
	ComplianceAllow   ComplianceAction = "ALLOW"
	ComplianceBlock   ComplianceAction = "BLOCK"
	ComplianceReview  ComplianceAction = "REVIEW"
	ComplianceReport  ComplianceAction = "REPORT"
	ComplianceFreeze  ComplianceAction = "FREEZE_ACCOUNT"
)

// SuspiciousActivityType enumerates the pattern classifiers the gate screens for.
type SuspiciousActivityType string

const (
	SuspiciousUnusualSize        SuspiciousActivityType = "UNUSUAL_TRANSACTION_SIZE"
	SuspiciousHighVelocity       SuspiciousActivityType = "HIGH_VELOCITY"
	SuspiciousRoundDollar        SuspiciousActivityType = "ROUND_DOLLAR_AMOUNTS"
	SuspiciousStructured         SuspiciousActivityType = "STRUCTURED_TRANSACTION"
)

// ComplianceViolation records one compliance check's findings against a
// customer, independent of whether the triggering transaction was blocked.
type ComplianceViolation struct {
	ID            string
	CustomerID    string
	TransactionID string
	ViolationType string
	Description   string
	Severity      string // "LOW", "MEDIUM", "HIGH"
	CreatedAt     time.Time
}

// SuspiciousActivityAlert is a risk-scored flag raised by pattern checks.
type SuspiciousActivityAlert struct {
	ID            string
	CustomerID    string
	TransactionID string
	ActivityType  SuspiciousActivityType
	RiskScore     int32 // 0-100
	Description   string
	Resolved      bool
	CreatedAt     time.Time
}

// IsHighRisk reports whether the alert meets the high-risk threshold (>=80).
func (a *SuspiciousActivityAlert) IsHighRisk() bool { return a.RiskScore >= 80 }

// LargeTransactionReport is a non-blocking regulatory report filed whenever
// a transaction crosses the large-transaction reporting threshold.
type LargeTransactionReport struct {
	ID            string
	CustomerID    string
	TransactionID string
	Amount        Money
	CreatedAt     time.Time
}

// KYCLimitsProvider resolves the tier limits to enforce for a customer.
// The core does not own customer/KYC records; it consumes this from the
// (external) customer management collaborator.
type KYCLimitsProvider interface {
	KYCTierFor(customerID string) (KYCTier, error)
	IsActiveCustomer(customerID string) (bool, error)
}

// ComplianceGate screens transactions for KYC-limit violations, large
// transaction reporting, and suspicious activity patterns, returning a
// single decision rather than raising.
type ComplianceGate struct {
	storage  *Storage
	audit    *AuditTrail
	cfg      *Config
	kyc      KYCLimitsProvider
}

// NewComplianceGate constructs a ComplianceGate. kyc may be nil, in which
// case KYC-limit screening is skipped (useful for tests exercising only
// pattern detection).
func NewComplianceGate(storage *Storage, audit *AuditTrail, cfg *Config, kyc KYCLimitsProvider) *ComplianceGate {
	return &ComplianceGate{storage: storage, audit: audit, cfg: cfg, kyc: kyc}
}

// CheckTransaction is the gate's single entry point: customer standing,
// KYC limits, large-transaction reporting, and suspicious-pattern
// screening, in that order. When a KYC provider is configured, an inactive
// customer is BLOCKed and an amount over the tier's single-transaction
// limit goes to REVIEW. Large-transaction reporting never blocks. Any
// single alert scoring 80 or more goes to REVIEW; other alerts give REPORT.
func (g *ComplianceGate) CheckTransaction(scope *AtomicScope, txn *Transaction, customerID string) (ComplianceAction, []*ComplianceViolation, error) {
	if g.kyc != nil {
		active, err := g.kyc.IsActiveCustomer(customerID)
		if err != nil {
			return "", nil, err
		}
		if !active {
			v, err := g.recordViolation(scope, customerID, txn.ID, "INACTIVE_CUSTOMER", "customer is not active", "HIGH")
			if err != nil {
				return "", nil, err
			}
			return ComplianceBlock, []*ComplianceViolation{v}, nil
		}
	}

	var violations []*ComplianceViolation

	if g.kyc != nil {
		tier, err := g.kyc.KYCTierFor(customerID)
		if err != nil {
			return "", nil, err
		}
		limits := g.cfg.TierLimitsFor(tier)
		if txn.Amount.GreaterThan(limits.SingleTransaction) {
			v, err := g.recordViolation(scope, customerID, txn.ID, "KYC_LIMIT_EXCEEDED",
				"transaction exceeds single-transaction limit for tier", "HIGH")
			if err != nil {
				return "", nil, err
			}
			return ComplianceReview, []*ComplianceViolation{v}, nil
		}
	}

	if g.requiresLargeTransactionReport(txn.Amount) {
		if _, err := g.fileLargeTransactionReport(scope, customerID, txn); err != nil {
			return "", nil, err
		}
	}

	alerts, err := g.checkSuspiciousPatterns(scope, customerID, txn)
	if err != nil {
		return "", nil, err
	}
	velocityAlert, err := g.checkVelocity(scope, customerID, txn)
	if err != nil {
		return "", nil, err
	}
	if velocityAlert != nil {
		alerts = append(alerts, velocityAlert)
	}

	if len(alerts) == 0 {
		return ComplianceAllow, violations, nil
	}

	highRisk := false
	for _, a := range alerts {
		if a.IsHighRisk() {
			highRisk = true
		}
		v, err := g.recordViolation(scope, customerID, txn.ID, string(a.ActivityType), a.Description, severityFor(a.RiskScore))
		if err != nil {
			return "", nil, err
		}
		violations = append(violations, v)
	}
	if highRisk {
		return ComplianceReview, violations, nil
	}
	return ComplianceReport, violations, nil
}

func severityFor(riskScore int32) string {
	switch {
	case riskScore >= 80:
		return "HIGH"
	case riskScore >= 50:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func (g *ComplianceGate) requiresLargeTransactionReport(amount Money) bool {
	if amount.Currency.Code != USD.Code {
		return false
	}
	return amount.Amount.GreaterThanOrEqual(g.cfg.LargeTransactionThresholdUSD)
}

func (g *ComplianceGate) fileLargeTransactionReport(scope *AtomicScope, customerID string, txn *Transaction) (*LargeTransactionReport, error) {
	report := &LargeTransactionReport{
		ID:            uuid.New().String(),
		CustomerID:    customerID,
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		CreatedAt:     time.Now().UTC(),
	}
	err := g.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableLargeTransactionReports, report.ID, largeReportToRecord(report)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save large transaction report")
		}
		_, err := g.audit.LogEvent(s, EventLargeTransactionReported, "transaction", txn.ID, map[string]interface{}{
			"customer_id": customerID,
			"amount":      txn.Amount.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// checkSuspiciousPatterns screens for round-dollar amounts (risk-scaled by
// KYC tier), structured (just-under-threshold) transactions (fixed score),
// and unusually large amounts for the two lowest KYC tiers.
func (g *ComplianceGate) checkSuspiciousPatterns(scope *AtomicScope, customerID string, txn *Transaction) ([]*SuspiciousActivityAlert, error) {
	var alerts []*SuspiciousActivityAlert
	tier := KYCTier0
	if g.kyc != nil {
		t, err := g.kyc.KYCTierFor(customerID)
		if err != nil {
			return nil, err
		}
		tier = t
	}

	if isRoundAmount(txn.Amount) {
		score := int32(30)
		switch tier {
		case KYCTier0:
			score = 60
		case KYCTier1:
			score = 40
		}
		alert, err := g.raiseAlert(scope, customerID, txn.ID, SuspiciousRoundDollar, score, "round-dollar transaction amount")
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	if isStructuredTransaction(txn.Amount, g.cfg.LargeTransactionThresholdUSD) {
		alert, err := g.raiseAlert(scope, customerID, txn.ID, SuspiciousStructured, 70, "transaction sized just under the large-transaction reporting threshold")
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	if (tier == KYCTier0 || tier == KYCTier1) && txn.Amount.Currency.Code == USD.Code && txn.Amount.Amount.GreaterThan(decimal.NewFromInt(5000)) {
		alert, err := g.raiseAlert(scope, customerID, txn.ID, SuspiciousUnusualSize, 50, "transaction unusually large for customer's KYC tier")
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, nil
}

func isRoundAmount(m Money) bool {
	if m.Currency.Code != USD.Code {
		return false
	}
	if m.Amount.LessThan(decimal.NewFromInt(5000)) {
		return false
	}
	return m.Amount.Mod(decimal.NewFromInt(1000)).IsZero() || m.Amount.Mod(decimal.NewFromInt(500)).IsZero()
}

func isStructuredTransaction(m Money, thresholdUSD decimal.Decimal) bool {
	if m.Currency.Code != USD.Code {
		return false
	}
	lower := thresholdUSD.Mul(decimal.NewFromFloat(0.95))
	upper := thresholdUSD.Mul(decimal.NewFromFloat(0.999))
	return m.Amount.GreaterThanOrEqual(lower) && m.Amount.LessThanOrEqual(upper)
}

// checkVelocity flags a customer with an unusually high number of
// compliance violations in the configured rolling window.
func (g *ComplianceGate) checkVelocity(scope *AtomicScope, customerID string, txn *Transaction) (*SuspiciousActivityAlert, error) {
	violations, err := g.storage.Find(TableComplianceViolations, Record{"customer_id": customerID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query violations for velocity check")
	}
	since := time.Now().UTC().Add(-time.Duration(g.cfg.VelocityWindowHours) * time.Hour)
	count := 0
	for _, rec := range violations {
		createdAt, err := asTime(rec["created_at"])
		if err != nil {
			continue
		}
		if createdAt.After(since) {
			count++
		}
	}
	if int32(count) < g.cfg.VelocityCountThreshold {
		return nil, nil
	}
	return g.raiseAlert(scope, customerID, txn.ID, SuspiciousHighVelocity, 65, "high rate of recent compliance violations")
}

func (g *ComplianceGate) raiseAlert(scope *AtomicScope, customerID, transactionID string, activityType SuspiciousActivityType, riskScore int32, description string) (*SuspiciousActivityAlert, error) {
	alert := &SuspiciousActivityAlert{
		ID:            uuid.New().String(),
		CustomerID:    customerID,
		TransactionID: transactionID,
		ActivityType:  activityType,
		RiskScore:     riskScore,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	err := g.storage.WithScope(scope, func(s *AtomicScope) error {
		if err := s.Save(TableSuspiciousActivityAlerts, alert.ID, alertToRecord(alert)); err != nil {
			return wrapErr(KindStorageFailure, err, "failed to save suspicious activity alert")
		}
		_, err := g.audit.LogEvent(s, EventSuspiciousActivityFlagged, "transaction", transactionID, map[string]interface{}{
			"customer_id":   customerID,
			"activity_type": string(activityType),
			"risk_score":    riskScore,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

func (g *ComplianceGate) recordViolation(scope *AtomicScope, customerID, transactionID, violationType, description, severity string) (*ComplianceViolation, error) {
	v := &ComplianceViolation{
		ID:            uuid.New().String(),
		CustomerID:    customerID,
		TransactionID: transactionID,
		ViolationType: violationType,
		Description:   description,
		Severity:      severity,
		CreatedAt:     time.Now().UTC(),
	}
	err := g.storage.WithScope(scope, func(s *AtomicScope) error {
		return s.Save(TableComplianceViolations, v.ID, violationToRecord(v))
	})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to save compliance violation")
	}
	return v, nil
}

// GetCustomerViolations returns every recorded violation for a customer.
func (g *ComplianceGate) GetCustomerViolations(customerID string) ([]*ComplianceViolation, error) {
	matches, err := g.storage.Find(TableComplianceViolations, Record{"customer_id": customerID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query violations")
	}
	out := make([]*ComplianceViolation, 0, len(matches))
	for _, rec := range matches {
		v, err := violationFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetSuspiciousAlerts returns every alert for a customer, highest risk and
// most recent first.
func (g *ComplianceGate) GetSuspiciousAlerts(customerID string) ([]*SuspiciousActivityAlert, error) {
	matches, err := g.storage.Find(TableSuspiciousActivityAlerts, Record{"customer_id": customerID})
	if err != nil {
		return nil, wrapErr(KindStorageFailure, err, "failed to query alerts")
	}
	out := make([]*SuspiciousActivityAlert, 0, len(matches))
	for _, rec := range matches {
		a, err := alertFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].RiskScore > out[i].RiskScore || (out[j].RiskScore == out[i].RiskScore && out[j].CreatedAt.After(out[i].CreatedAt)) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// ResolveAlert marks an alert resolved.
func (g *ComplianceGate) ResolveAlert(scope *AtomicScope, alertID string) error {
	rec, found, err := g.storage.Load(TableSuspiciousActivityAlerts, alertID)
	if err != nil {
		return wrapErr(KindStorageFailure, err, "failed to load alert %s", alertID)
	}
	if !found {
		return newErr(KindNotFound, "alert %s not found", alertID)
	}
	alert, err := alertFromRecord(rec)
	if err != nil {
		return err
	}
	alert.Resolved = true
	return g.storage.WithScope(scope, func(s *AtomicScope) error {
		return s.Save(TableSuspiciousActivityAlerts, alert.ID, alertToRecord(alert))
	})
}

// --- serialization ---

func violationToRecord(v *ComplianceViolation) Record {
	return Record{
		"id":             v.ID,
		"customer_id":    v.CustomerID,
		"transaction_id": v.TransactionID,
		"violation_type": v.ViolationType,
		"description":    v.Description,
		"severity":       v.Severity,
		"created_at":     timeToRecord(v.CreatedAt),
	}
}

func violationFromRecord(r Record) (*ComplianceViolation, error) {
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "violation has malformed created_at")
	}
	return &ComplianceViolation{
		ID:            asString(r["id"]),
		CustomerID:    asString(r["customer_id"]),
		TransactionID: asString(r["transaction_id"]),
		ViolationType: asString(r["violation_type"]),
		Description:   asString(r["description"]),
		Severity:      asString(r["severity"]),
		CreatedAt:     createdAt,
	}, nil
}

func alertToRecord(a *SuspiciousActivityAlert) Record {
	return Record{
		"id":             a.ID,
		"customer_id":    a.CustomerID,
		"transaction_id": a.TransactionID,
		"activity_type":  string(a.ActivityType),
		"risk_score":     a.RiskScore,
		"description":    a.Description,
		"resolved":       a.Resolved,
		"created_at":     timeToRecord(a.CreatedAt),
	}
}

func alertFromRecord(r Record) (*SuspiciousActivityAlert, error) {
	createdAt, err := asTime(r["created_at"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "alert has malformed created_at")
	}
	riskScore, err := asInt32(r["risk_score"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "alert has malformed risk_score")
	}
	return &SuspiciousActivityAlert{
		ID:            asString(r["id"]),
		CustomerID:    asString(r["customer_id"]),
		TransactionID: asString(r["transaction_id"]),
		ActivityType:  SuspiciousActivityType(asString(r["activity_type"])),
		RiskScore:     riskScore,
		Description:   asString(r["description"]),
		Resolved:      asBool(r["resolved"]),
		CreatedAt:     createdAt,
	}, nil
}

func largeReportToRecord(r *LargeTransactionReport) Record {
	return Record{
		"id":             r.ID,
		"customer_id":    r.CustomerID,
		"transaction_id": r.TransactionID,
		"amount":         r.Amount.ToRecord(),
		"created_at":     timeToRecord(r.CreatedAt),
	}
}
