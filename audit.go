package banking

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AuditEventType enumerates the kinds of events the core appends. Grounded
// on the teacher's EventStore event-type constants (event_store.go), widened
// to the banking domain's own lifecycle events.
type AuditEventType string

const (
	EventAccountCreated          AuditEventType = "ACCOUNT_CREATED"
	EventAccountStateChanged     AuditEventType = "ACCOUNT_STATE_CHANGED"
	EventHoldPlaced              AuditEventType = "HOLD_PLACED"
	EventHoldReleased            AuditEventType = "HOLD_RELEASED"
	EventJournalEntryCreated     AuditEventType = "JOURNAL_ENTRY_CREATED"
	EventJournalEntryPosted      AuditEventType = "JOURNAL_ENTRY_POSTED"
	EventJournalEntryReversed    AuditEventType = "JOURNAL_ENTRY_REVERSED"
	EventTransactionCreated      AuditEventType = "TRANSACTION_CREATED"
	EventTransactionPosted       AuditEventType = "TRANSACTION_POSTED"
	EventTransactionFailed       AuditEventType = "TRANSACTION_FAILED"
	EventTransactionReversed     AuditEventType = "TRANSACTION_REVERSED"
	EventInterestAccrued         AuditEventType = "INTEREST_ACCRUED"
	EventInterestPosted          AuditEventType = "INTEREST_POSTED"
	EventCreditStatementGenerated AuditEventType = "CREDIT_STATEMENT_GENERATED"
	EventCreditOverdueProcessed  AuditEventType = "CREDIT_OVERDUE_PROCESSED"
	EventLoanOriginated          AuditEventType = "LOAN_ORIGINATED"
	EventLoanDisbursed           AuditEventType = "LOAN_DISBURSED"
	EventLoanPaymentMade         AuditEventType = "LOAN_PAYMENT_MADE"
	EventLoanPastDueProcessed    AuditEventType = "LOAN_PAST_DUE_PROCESSED"
	EventLargeTransactionReported AuditEventType = "LARGE_TRANSACTION_REPORTED"
	EventSuspiciousActivityFlagged AuditEventType = "SUSPICIOUS_ACTIVITY_FLAGGED"
	EventBatchJobError           AuditEventType = "BATCH_JOB_ERROR"
)

// AuditEvent is one immutable, hash-chained log entry.
type AuditEvent struct {
	ID         string
	Sequence   int64
	EventType  AuditEventType
	EntityType string
	EntityID   string
	Metadata   map[string]interface{}
	Timestamp  time.Time
	Digest     string
}

// IntegrityReport is returned by VerifyIntegrity.
type IntegrityReport struct {
	TotalEvents int
	HashErrors  int
	ChainBreaks int
}

// AuditTrail is an append-only, tamper-evident event log. There is no
// update or delete API; correction is by appending a compensating event.
type AuditTrail struct {
	storage *Storage
}

// NewAuditTrail constructs an AuditTrail over storage.
func NewAuditTrail(storage *Storage) *AuditTrail {
	return &AuditTrail{storage: storage}
}

func canonicalPayload(e *AuditEvent) (string, error) {
	// Canonical form: stable field order, metadata keys sorted.
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	orderedMeta := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		orderedMeta = append(orderedMeta, map[string]interface{}{"k": k, "v": e.Metadata[k]})
	}
	payload := map[string]interface{}{
		"sequence":    e.Sequence,
		"event_type":  e.EventType,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
		"metadata":    orderedMeta,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func digestOf(previousDigest string, payload string) string {
	h := sha256.New()
	h.Write([]byte(previousDigest))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// LogEvent appends one event to the chain, inside scope if provided.
func (at *AuditTrail) LogEvent(scope *AtomicScope, eventType AuditEventType, entityType, entityID string, metadata map[string]interface{}) (*AuditEvent, error) {
	var event *AuditEvent
	err := at.storage.WithScope(scope, func(s *AtomicScope) error {
		seq, prevDigest, err := at.tailState(s)
		if err != nil {
			return err
		}

		event = &AuditEvent{
			ID:         uuid.New().String(),
			Sequence:   seq + 1,
			EventType:  eventType,
			EntityType: entityType,
			EntityID:   entityID,
			Metadata:   metadata,
			Timestamp:  time.Now().UTC(),
		}
		payload, err := canonicalPayload(event)
		if err != nil {
			return wrapErr(KindInvariant, err, "failed to canonicalize audit payload")
		}
		event.Digest = digestOf(prevDigest, payload)

		return s.Save(TableAuditEvents, fmt.Sprintf("%020d", event.Sequence), eventToRecord(event))
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// tailState returns (last sequence number, last digest) or (0, "") if the log is empty.
func (at *AuditTrail) tailState(s *AtomicScope) (int64, string, error) {
	events, err := at.allEventsSorted(s)
	if err != nil {
		return 0, "", err
	}
	if len(events) == 0 {
		return 0, "", nil
	}
	last := events[len(events)-1]
	return last.Sequence, last.Digest, nil
}

func (at *AuditTrail) allEventsSorted(s *AtomicScope) ([]*AuditEvent, error) {
	var records []Record
	var err error
	if s != nil {
		records, err = s.LoadAll(TableAuditEvents)
	} else {
		records, err = at.storage.LoadAll(TableAuditEvents)
	}
	if err != nil {
		return nil, err
	}
	events := make([]*AuditEvent, 0, len(records))
	for _, r := range records {
		e, err := eventFromRecord(r)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	return events, nil
}

// VerifyIntegrity replays the entire chain and reports hash errors and chain breaks.
func (at *AuditTrail) VerifyIntegrity() (*IntegrityReport, error) {
	events, err := at.allEventsSorted(nil)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{TotalEvents: len(events)}
	prevDigest := ""
	prevSeq := int64(0)
	for _, e := range events {
		payload, err := canonicalPayload(e)
		if err != nil {
			return nil, err
		}
		expected := digestOf(prevDigest, payload)
		if expected != e.Digest {
			report.HashErrors++
		}
		if e.Sequence != prevSeq+1 {
			report.ChainBreaks++
		}
		prevDigest = e.Digest
		prevSeq = e.Sequence
	}
	return report, nil
}

// EventsForEntity returns every event recorded against (entityType, entityID), in sequence order.
func (at *AuditTrail) EventsForEntity(entityType, entityID string) ([]*AuditEvent, error) {
	events, err := at.allEventsSorted(nil)
	if err != nil {
		return nil, err
	}
	var matched []*AuditEvent
	for _, e := range events {
		if e.EntityType == entityType && e.EntityID == entityID {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func eventToRecord(e *AuditEvent) Record {
	return Record{
		"id":          e.ID,
		"sequence":    e.Sequence,
		"event_type":  string(e.EventType),
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"metadata":    e.Metadata,
		"timestamp":   e.Timestamp.Format(time.RFC3339Nano),
		"digest":      e.Digest,
	}
}

func eventFromRecord(r Record) (*AuditEvent, error) {
	seq, err := asInt64(r["sequence"])
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "audit event has malformed sequence")
	}
	ts, err := time.Parse(time.RFC3339Nano, asString(r["timestamp"]))
	if err != nil {
		return nil, wrapErr(KindInvariant, err, "audit event has malformed timestamp")
	}
	metadata, _ := r["metadata"].(map[string]interface{})
	return &AuditEvent{
		ID:         asString(r["id"]),
		Sequence:   seq,
		EventType:  AuditEventType(asString(r["event_type"])),
		EntityType: asString(r["entity_type"]),
		EntityID:   asString(r["entity_id"]),
		Metadata:   metadata,
		Timestamp:  ts,
		Digest:     asString(r["digest"]),
	}, nil
}
