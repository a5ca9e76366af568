package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	kafka "github.com/segmentio/kafka-go"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newOutbox(t *testing.T, clk clock.Clock) *Outbox {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewOutbox(OutboxParams{Log: zap.NewNop(), GenID: node, Clock: clk})
}

func TestRecordTxDedupes(t *testing.T) {
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	outbox := newOutbox(t, clk)

	event := Event{
		Type:          TypeAccountBlocked,
		AggregateType: "account",
		AggregateID:   "42",
		Payload:       map[string]any{"reason": "overdue_limit"},
		DedupeKey:     "account.blocked:42:1",
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		inserted, err := outbox.RecordTx(context.Background(), tx, event)
		require.True(t, inserted)
		return err
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		inserted, err := outbox.RecordTx(context.Background(), tx, event)
		require.False(t, inserted)
		return err
	})
	require.NoError(t, err)

	dbtest.AssertCount(t, db, "SELECT COUNT(*) FROM domain_events WHERE dedupe_key = ?", 1, event.DedupeKey)
}

func TestRecordTxRejectsIncompleteEvent(t *testing.T) {
	db := dbtest.Open(t)
	outbox := newOutbox(t, clock.NewFakeClock(time.Now()))

	_, err := outbox.RecordTx(context.Background(), db, Event{Type: TypeInvoiceOverdue})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestDispatchPendingPublishesInOrder(t *testing.T) {
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	outbox := newOutbox(t, clk)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := outbox.RecordTx(ctx, db, Event{
			Type:          TypeInvoiceOverdue,
			AggregateType: "invoice",
			AggregateID:   key,
			DedupeKey:     "invoice.overdue:" + key,
		})
		require.NoError(t, err)
	}

	writer := &fakeWriter{}
	dispatcher := NewDispatcher(DispatcherParams{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clk,
		Publisher: NewKafkaPublisherWithWriter(writer),
	})

	published, err := dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 3, published)
	require.Len(t, writer.messages, 3)
	require.Equal(t, "invoice:a", string(writer.messages[0].Key))
	require.Equal(t, "invoice:c", string(writer.messages[2].Key))

	dbtest.AssertCount(t, db, "SELECT COUNT(*) FROM domain_events WHERE published_at IS NULL", 0)

	published, err = dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, published)
}

func TestDispatchPendingRecordsFailure(t *testing.T) {
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	outbox := newOutbox(t, clk)
	ctx := context.Background()

	_, err := outbox.RecordTx(ctx, db, Event{
		Type:          TypePaymentApproved,
		AggregateType: "payment_intent",
		AggregateID:   "7",
		DedupeKey:     "payment.approved:7",
	})
	require.NoError(t, err)

	writer := &fakeWriter{err: errors.New("broker unavailable")}
	dispatcher := NewDispatcher(DispatcherParams{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clk,
		Publisher: NewKafkaPublisherWithWriter(writer),
	})

	published, err := dispatcher.DispatchPending(ctx, 10)
	require.Error(t, err)
	require.Zero(t, published)
	dbtest.AssertCount(t, db, "SELECT COUNT(*) FROM domain_events WHERE attempts = 1 AND last_error IS NOT NULL", 1)
}

func TestLogPublisher(t *testing.T) {
	publisher := NewLogPublisher(zap.NewNop())
	require.NoError(t, publisher.Publish(context.Background(), DomainEvent{Type: TypeAccountBlocked}))
	require.NoError(t, publisher.Close())
}
