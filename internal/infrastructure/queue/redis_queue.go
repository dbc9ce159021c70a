package queue

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sharplines/odds-fabric/internal/domain/deadletter"
	"github.com/sharplines/odds-fabric/internal/domain/workqueue"
	"github.com/sharplines/odds-fabric/internal/platform/logging"
)

const itemField = "item"

type RedisQueueConfig struct {
	Stream            string
	Group             string
	Consumer          string
	DLQStream         string
	VisibilityTimeout time.Duration
	MaxReceiveCount   int
}

func (c RedisQueueConfig) withDefaults() RedisQueueConfig {
	if c.Stream == "" {
		c.Stream = "fabric:analysis"
	}
	if c.Group == "" {
		c.Group = "fabric-workers"
	}
	if c.Consumer == "" {
		c.Consumer = "worker-" + uuid.NewString()[:8]
	}
	if c.DLQStream == "" {
		c.DLQStream = c.Stream + ":dlq"
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = 3
	}
	return c
}

// RedisQueue is the production workqueue.Queue, backed by a redis stream with
// one consumer group. A received message stays pending until acked; pending
// messages idle past the visibility timeout are reclaimed on the next
// receive, and messages delivered more than MaxReceiveCount times move to
// the DLQ stream and the dead-letter repository.
type RedisQueue struct {
	rdb         *redis.Client
	cfg         RedisQueueConfig
	deadletters deadletter.Repository
	logger      *logging.Logger
	now         func() time.Time
}

func NewRedisQueue(rdb *redis.Client, cfg RedisQueueConfig, deadletters deadletter.Repository, logger *logging.Logger) *RedisQueue {
	if logger == nil {
		logger = logging.Default()
	}

	return &RedisQueue{
		rdb:         rdb,
		cfg:         cfg.withDefaults(),
		deadletters: deadletters,
		logger:      logger,
		now:         time.Now,
	}
}

// Init pings redis and ensures the stream and consumer group exist. Safe to
// call from every process at startup.
func (q *RedisQueue) Init(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}

	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrap(err, "create consumer group")
	}

	q.logger.InfoContext(ctx, "work queue ready",
		"stream", q.cfg.Stream,
		"group", q.cfg.Group,
		"consumer", q.cfg.Consumer,
	)
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, item workqueue.Item) error {
	body, err := sonic.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encode work item")
	}

	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{itemField: body},
	}).Err(); err != nil {
		return errors.Wrapf(err, "enqueue %s", item.ID)
	}
	return nil
}

func (q *RedisQueue) ReceiveBatch(ctx context.Context, maxItems int, wait time.Duration) ([]workqueue.Delivery, error) {
	if maxItems <= 0 {
		maxItems = 1
	}

	deliveries, err := q.reclaimExpired(ctx, maxItems)
	if err != nil {
		return nil, err
	}
	if len(deliveries) >= maxItems {
		return deliveries, nil
	}

	fresh, err := q.readFresh(ctx, maxItems-len(deliveries), wait)
	if err != nil {
		return nil, err
	}
	return append(deliveries, fresh...), nil
}

// reclaimExpired picks up pending messages whose consumer went quiet for at
// least the visibility window, shunting over-delivered ones to the DLQ.
func (q *RedisQueue) reclaimExpired(ctx context.Context, maxItems int) ([]workqueue.Delivery, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.VisibilityTimeout,
		Start:    "0-0",
		Count:    int64(maxItems),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reclaim expired messages")
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	counts, err := q.deliveryCounts(ctx, msgs)
	if err != nil {
		return nil, err
	}

	var out []workqueue.Delivery
	for _, msg := range msgs {
		item, decodeErr := decodeItem(msg)
		if decodeErr != nil {
			q.logger.WarnContext(ctx, "dropping undecodable message", "stream_id", msg.ID, "error", decodeErr)
			_ = q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID).Err()
			continue
		}

		item.ReceiveCount = counts[msg.ID]
		if item.ReceiveCount > q.cfg.MaxReceiveCount {
			q.redrive(ctx, msg.ID, item)
			continue
		}
		out = append(out, workqueue.Delivery{Item: item, Receipt: msg.ID})
	}
	return out, nil
}

func (q *RedisQueue) readFresh(ctx context.Context, maxItems int, wait time.Duration) ([]workqueue.Delivery, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    int64(maxItems),
		Block:    wait,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read work queue")
	}

	var out []workqueue.Delivery
	for _, stream := range res {
		for _, msg := range stream.Messages {
			item, decodeErr := decodeItem(msg)
			if decodeErr != nil {
				q.logger.WarnContext(ctx, "dropping undecodable message", "stream_id", msg.ID, "error", decodeErr)
				_ = q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID).Err()
				continue
			}
			item.ReceiveCount = 1
			out = append(out, workqueue.Delivery{Item: item, Receipt: msg.ID})
		}
	}
	return out, nil
}

func (q *RedisQueue) deliveryCounts(ctx context.Context, msgs []redis.XMessage) (map[string]int, error) {
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Start:    msgs[0].ID,
		End:      msgs[len(msgs)-1].ID,
		Count:    int64(len(msgs)),
		Consumer: q.cfg.Consumer,
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read pending counts")
	}

	counts := make(map[string]int, len(pending))
	for _, p := range pending {
		counts[p.ID] = int(p.RetryCount)
	}
	return counts, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d workqueue.Delivery) error {
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, d.Receipt).Err(); err != nil {
		return errors.Wrapf(err, "ack %s", d.Receipt)
	}
	// Acked messages have no further readers; trim them eagerly.
	_ = q.rdb.XDel(ctx, q.cfg.Stream, d.Receipt).Err()
	return nil
}

// Nack leaves the message pending. It becomes reclaimable once its idle time
// crosses the visibility window, which is the redelivery mechanism.
func (q *RedisQueue) Nack(context.Context, workqueue.Delivery) error {
	return nil
}

func (q *RedisQueue) redrive(ctx context.Context, streamID string, item workqueue.Item) {
	body, err := sonic.Marshal(item)
	if err == nil {
		if xerr := q.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: q.cfg.DLQStream,
			Values: map[string]interface{}{itemField: body},
		}).Err(); xerr != nil {
			q.logger.WarnContext(ctx, "DLQ stream append failed", "item_id", item.ID, "error", xerr)
		}
	}
	_ = q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, streamID).Err()
	_ = q.rdb.XDel(ctx, q.cfg.Stream, streamID).Err()

	if q.deadletters == nil {
		return
	}
	entry := deadletter.Entry{
		ID:         uuid.NewString(),
		Source:     deadletter.SourceWorkQueue,
		Reason:     deadletter.ReasonMaxReceiveCount,
		JobName:    "generate-analysis",
		Payload:    item.Payload(),
		Attempts:   item.ReceiveCount - 1,
		LastError:  "max receive count exceeded",
		EnqueuedAt: item.EnqueuedAt,
		DeadAt:     q.now().UTC(),
	}
	if err := q.deadletters.Add(ctx, entry); err != nil {
		q.logger.WarnContext(ctx, "dead-letter redrive failed", "item_id", item.ID, "error", err)
	}
}

func decodeItem(msg redis.XMessage) (workqueue.Item, error) {
	raw, ok := msg.Values[itemField]
	if !ok {
		return workqueue.Item{}, errors.Newf("message %s has no %s field", msg.ID, itemField)
	}

	var item workqueue.Item
	switch v := raw.(type) {
	case string:
		if err := sonic.Unmarshal([]byte(v), &item); err != nil {
			return workqueue.Item{}, errors.Wrap(err, "decode work item")
		}
	case []byte:
		if err := sonic.Unmarshal(v, &item); err != nil {
			return workqueue.Item{}, errors.Wrap(err, "decode work item")
		}
	default:
		return workqueue.Item{}, errors.Newf("unexpected payload type %T", v)
	}
	return item, nil
}
