package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flow-threat-detector/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Stream layout shared by the detector (producer) and the alerts
// consumer. Every entry stores one encoded StreamMessage under the
// "msg" field.
const (
	DefaultStream    = "ml:predictions"
	DefaultGroup     = "ml_consumers"
	DefaultDLQStream = "ml:predictions:dlq"

	DefaultDedupTTL = 24 * time.Hour
	DefaultRetryTTL = time.Hour

	processedKeyPrefix = "ml:processed:"
	retryKeyPrefix     = "ml:retry:"
)

// Config holds the Redis connection and stream settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	Stream    string
	Group     string
	DLQStream string

	// MaxLen caps the prediction stream length (approximate trim).
	// Zero leaves the stream unbounded.
	MaxLen int64

	// DedupTTL bounds how long processed message markers live.
	DedupTTL time.Duration
	// RetryTTL bounds how long per-entry retry counters live.
	RetryTTL time.Duration
}

// Entry is one raw stream entry: the Redis entry ID plus the encoded
// message payload. Payload is nil when the entry has no msg field.
type Entry struct {
	ID      string
	Payload []byte
}

// DLQEntry is a dead letter stream entry as served by the API.
type DLQEntry struct {
	ID              string          `json:"id"`
	OriginalEntryID string          `json:"original_entry_id"`
	Error           string          `json:"error"`
	FailedAt        string          `json:"failed_at"`
	Message         json.RawMessage `json:"message,omitempty"`
	Raw             string          `json:"raw,omitempty"`
}

// Client wraps the Redis connection for stream publishing, consumer
// group reads, idempotency markers, and retry counters.
type Client struct {
	rdb    *redis.Client
	cfg    Config
	logger *logrus.Logger
}

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = DefaultDLQStream
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if cfg.RetryTTL <= 0 {
		cfg.RetryTTL = DefaultRetryTTL
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %v", cfg.Addr, err)
	}

	logger.Infof("Connected to Redis at %s (stream %s)", cfg.Addr, cfg.Stream)
	return &Client{rdb: rdb, cfg: cfg, logger: logger}, nil
}

// EnsureGroup creates the consumer group, starting from the beginning
// of the stream. An already existing group is not an error.
func (c *Client) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %v", c.cfg.Group, err)
	}
	return nil
}

// Publish appends one message to the prediction stream and returns the
// assigned entry ID.
func (c *Client) Publish(ctx context.Context, msg *model.StreamMessage) (string, error) {
	payload, err := msg.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %v", err)
	}

	args := &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: map[string]any{"msg": payload},
	}
	if c.cfg.MaxLen > 0 {
		args.MaxLen = c.cfg.MaxLen
		args.Approx = true
	}

	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %v", c.cfg.Stream, err)
	}
	return id, nil
}

// ReadGroup blocks up to block for new entries assigned to consumer.
// A timeout with no entries returns (nil, nil).
func (c *Client) ReadGroup(ctx context.Context, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			entries = append(entries, toEntry(msg))
		}
	}
	return entries, nil
}

// ClaimStale transfers entries that sat unacknowledged longer than
// minIdle to consumer, picking up work left by dead consumers.
func (c *Client) ClaimStale(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toEntry(msg))
	}
	return entries, nil
}

func toEntry(msg redis.XMessage) Entry {
	e := Entry{ID: msg.ID}
	if raw, ok := msg.Values["msg"]; ok {
		if s, ok := raw.(string); ok {
			e.Payload = []byte(s)
		}
	}
	return e
}

// Ack acknowledges entries in the consumer group.
func (c *Client) Ack(ctx context.Context, ids ...string) error {
	return c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, ids...).Err()
}

// DeadLetter copies an entry to the DLQ stream with the failure reason
// and acknowledges the original so it is never redelivered.
func (c *Client) DeadLetter(ctx context.Context, entry Entry, reason string) error {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: map[string]any{
			"original_entry_id": entry.ID,
			"msg":               entry.Payload,
			"error":             reason,
			"failed_at":         time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to dead letter entry %s: %v", entry.ID, err)
	}
	return c.Ack(ctx, entry.ID)
}

// MarkProcessed atomically claims a message ID. It returns true when
// this call was the first to claim it within the dedup window.
func (c *Client) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	return c.rdb.SetNX(ctx, processedKeyPrefix+messageID, "1", c.cfg.DedupTTL).Result()
}

// ClearProcessed releases a claim so a redelivery can retry the
// message.
func (c *Client) ClearProcessed(ctx context.Context, messageID string) error {
	return c.rdb.Del(ctx, processedKeyPrefix+messageID).Err()
}

// IncrRetry bumps the retry counter for a stream entry and returns the
// new count.
func (c *Client) IncrRetry(ctx context.Context, entryID string) (int64, error) {
	key := retryKeyPrefix + entryID
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	c.rdb.Expire(ctx, key, c.cfg.RetryTTL)
	return n, nil
}

// DLQEntries returns the newest dead letter entries, up to limit.
func (c *Client) DLQEntries(ctx context.Context, limit int64) ([]DLQEntry, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, c.cfg.DLQStream, "+", "-", limit).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]DLQEntry, 0, len(msgs))
	for _, msg := range msgs {
		e := DLQEntry{ID: msg.ID}
		if v, ok := msg.Values["original_entry_id"].(string); ok {
			e.OriginalEntryID = v
		}
		if v, ok := msg.Values["error"].(string); ok {
			e.Error = v
		}
		if v, ok := msg.Values["failed_at"].(string); ok {
			e.FailedAt = v
		}
		if v, ok := msg.Values["msg"].(string); ok {
			if json.Valid([]byte(v)) {
				e.Message = json.RawMessage(v)
			} else {
				e.Raw = v
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// StreamLen returns the prediction stream length.
func (c *Client) StreamLen(ctx context.Context) (int64, error) {
	return c.rdb.XLen(ctx, c.cfg.Stream).Result()
}

// DLQLen returns the dead letter stream length.
func (c *Client) DLQLen(ctx context.Context) (int64, error) {
	return c.rdb.XLen(ctx, c.cfg.DLQStream).Result()
}

// PendingCount returns how many delivered entries await an ack.
func (c *Client) PendingCount(ctx context.Context) (int64, error) {
	res, err := c.rdb.XPending(ctx, c.cfg.Stream, c.cfg.Group).Result()
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
