package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"sproutmarket/internal/infrastructure/mq"
	"sproutmarket/internal/model"
	"sproutmarket/internal/repository"
	"sproutmarket/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventTypeHeader(msg *sarama.ProducerMessage) string {
	for _, h := range msg.Headers {
		if string(h.Key) == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}

func TestOutboxSenderPublishesPendingMessages(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	repo := repository.NewOutboxRepository(db)
	require.NoError(t, repo.Enqueue(ctx, nil, cfg.Kafka.Topic.OrderEvents, model.EventOrderCompleted, "SPM1", map[string]any{"order_id": 1}))
	require.NoError(t, repo.Enqueue(ctx, nil, cfg.Kafka.Topic.ExchangeEvents, model.EventOfferAccepted, "7", map[string]any{"offer_id": 7}))

	sp := mocks.NewSyncProducer(t, nil)
	var seen []string
	checker := func(msg *sarama.ProducerMessage) error {
		seen = append(seen, eventTypeHeader(msg))
		return nil
	}
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)

	sender := NewOutboxSender(db, mq.NewProducer(sp), cfg)
	assert.Equal(t, 2, sender.processPendingMessages(ctx))
	require.NoError(t, sp.Close())

	assert.Equal(t, []string{model.EventOrderCompleted, model.EventOfferAccepted}, seen)
	sent, err := repo.ListByStatus(ctx, model.OutboxStatusSent, 10)
	require.NoError(t, err)
	assert.Len(t, sent, 2)

	// 已发送的不会重复投递
	assert.Zero(t, sender.processPendingMessages(ctx))
}

func TestOutboxSenderMarksFailedAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	cfg.Business.MaxRetryCount = 2
	repo := repository.NewOutboxRepository(db)
	require.NoError(t, repo.Enqueue(ctx, nil, cfg.Kafka.Topic.SubscriptionEvents, model.EventSubscriptionChanged, "sub_1", map[string]any{}))

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sender := NewOutboxSender(db, mq.NewProducer(sp), cfg)
	assert.Zero(t, sender.processPendingMessages(ctx))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	assert.Zero(t, sender.processPendingMessages(ctx))
	require.NoError(t, sp.Close())

	failed, err := repo.ListByStatus(ctx, model.OutboxStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].RetryCount)
}

type stubPublisher struct{ err error }

func (p stubPublisher) Publish(topic, key, eventType, value string) error { return p.err }

func TestOutboxSenderKeepsMessagePendingBelowRetryLimit(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	repo := repository.NewOutboxRepository(db)
	require.NoError(t, repo.Enqueue(ctx, nil, "topic", model.EventExchangeCanceled, "1", nil))

	sender := NewOutboxSender(db, stubPublisher{err: errors.New("broker down")}, cfg)
	sender.processPendingMessages(ctx)

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPremiumExpiryJobRespectsGraceWindow(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	lapsed := testutil.CreateUser(t, db, "lapsed")
	grace := testutil.CreateUser(t, db, "grace")
	active := testutil.CreateUser(t, db, "active")
	for u, exp := range map[int64]time.Time{
		lapsed.ID: now.Add(-48 * time.Hour),
		grace.ID:  now.Add(-2 * time.Hour),
		active.ID: now.Add(72 * time.Hour),
	} {
		require.NoError(t, db.Model(&model.User{}).Where("id = ?", u).
			Updates(map[string]interface{}{"is_premium": true, "premium_expires_at": exp}).Error)
	}

	j := NewPremiumExpiryJob(db, cfg)
	j.now = func() time.Time { return now }
	assert.Equal(t, int64(1), j.expire(ctx))

	assert.False(t, testutil.Reload[model.User](t, db, lapsed.ID).IsPremium)
	assert.True(t, testutil.Reload[model.User](t, db, grace.ID).IsPremium)
	assert.True(t, testutil.Reload[model.User](t, db, active.ID).IsPremium)

	assert.Zero(t, j.expire(ctx))
}
