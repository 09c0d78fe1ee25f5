package banking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEventChainsSequenceAndDigest(t *testing.T) {
	storage := newTestStorage(t)
	trail := NewAuditTrail(storage)

	e1, err := trail.LogEvent(nil, EventAccountCreated, "account", "acct-1", map[string]interface{}{"customer_id": "cust-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e1.Sequence)
	assert.NotEmpty(t, e1.Digest)

	e2, err := trail.LogEvent(nil, EventAccountStateChanged, "account", "acct-1", map[string]interface{}{"to": "FROZEN"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.Sequence)
	assert.NotEqual(t, e1.Digest, e2.Digest)

	// the second event's digest is derived from the first's, not independent
	payload, err := canonicalPayload(e2)
	require.NoError(t, err)
	assert.Equal(t, digestOf(e1.Digest, payload), e2.Digest)
}

func TestLogEventWithinScopeSeesUncommittedTail(t *testing.T) {
	storage := newTestStorage(t)
	trail := NewAuditTrail(storage)

	err := storage.Atomic(func(scope *AtomicScope) error {
		if _, err := trail.LogEvent(scope, EventAccountCreated, "account", "acct-1", nil); err != nil {
			return err
		}
		_, err := trail.LogEvent(scope, EventAccountStateChanged, "account", "acct-1", nil)
		return err
	})
	require.NoError(t, err)

	events, err := trail.EventsForEntity("account", "acct-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, int64(2), events[1].Sequence)
}

func TestVerifyIntegrityCleanChainHasNoErrors(t *testing.T) {
	storage := newTestStorage(t)
	trail := NewAuditTrail(storage)

	for i := 0; i < 5; i++ {
		_, err := trail.LogEvent(nil, EventTransactionCreated, "transaction", "txn-1", map[string]interface{}{"i": i})
		require.NoError(t, err)
	}

	report, err := trail.VerifyIntegrity()
	require.NoError(t, err)
	assert.Equal(t, 5, report.TotalEvents)
	assert.Equal(t, 0, report.HashErrors)
	assert.Equal(t, 0, report.ChainBreaks)
}

func TestVerifyIntegrityDetectsTamperedDigest(t *testing.T) {
	storage := newTestStorage(t)
	trail := NewAuditTrail(storage)

	first, err := trail.LogEvent(nil, EventTransactionCreated, "transaction", "txn-1", nil)
	require.NoError(t, err)
	_, err = trail.LogEvent(nil, EventTransactionPosted, "transaction", "txn-1", nil)
	require.NoError(t, err)

	tampered := *first
	tampered.Digest = "deadbeef"
	require.NoError(t, storage.Save(TableAuditEvents, "00000000000000000001", eventToRecord(&tampered)))

	report, err := trail.VerifyIntegrity()
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalEvents)
	assert.Equal(t, 2, report.HashErrors) // the tampered event and the one chained after it both fail
}

func TestVerifyIntegrityDetectsChainBreak(t *testing.T) {
	storage := newTestStorage(t)
	trail := NewAuditTrail(storage)

	_, err := trail.LogEvent(nil, EventTransactionCreated, "transaction", "txn-1", nil)
	require.NoError(t, err)
	second, err := trail.LogEvent(nil, EventTransactionPosted, "transaction", "txn-1", nil)
	require.NoError(t, err)

	skipped := *second
	skipped.Sequence = 5
	require.NoError(t, storage.Save(TableAuditEvents, "00000000000000000002", eventToRecord(&skipped)))

	report, err := trail.VerifyIntegrity()
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChainBreaks)
}

func TestEventsForEntityFiltersByTypeAndID(t *testing.T) {
	storage := newTestStorage(t)
	trail := NewAuditTrail(storage)

	_, err := trail.LogEvent(nil, EventAccountCreated, "account", "acct-1", nil)
	require.NoError(t, err)
	_, err = trail.LogEvent(nil, EventAccountCreated, "account", "acct-2", nil)
	require.NoError(t, err)
	_, err = trail.LogEvent(nil, EventTransactionCreated, "transaction", "txn-1", nil)
	require.NoError(t, err)

	events, err := trail.EventsForEntity("account", "acct-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "acct-1", events[0].EntityID)
}

func TestCanonicalPayloadIsStableUnderMetadataKeyOrder(t *testing.T) {
	e1 := &AuditEvent{Sequence: 1, EventType: EventAccountCreated, EntityType: "account", EntityID: "acct-1",
		Metadata: map[string]interface{}{"a": 1, "b": 2}}
	e2 := &AuditEvent{Sequence: 1, EventType: EventAccountCreated, EntityType: "account", EntityID: "acct-1",
		Metadata: map[string]interface{}{"b": 2, "a": 1}}
	e1.Timestamp, e2.Timestamp = e1.Timestamp.UTC(), e1.Timestamp

	p1, err := canonicalPayload(e1)
	require.NoError(t, err)
	p2, err := canonicalPayload(e2)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}
