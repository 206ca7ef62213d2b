package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"Consilium/pkg/logger"
)

// MessageHandler handles the messages of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads each registered topic with its own group reader and hands
// messages to a fixed set of lanes. A (topic, partition) always lands on the
// same lane, so messages of one partition are handled in offset order while
// different partitions proceed in parallel.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	handlers map[string]MessageHandler
	hook     ConsumerHook
	dlq      *kafka.Writer

	readers []*kafka.Reader
	lanes   []chan kafka.Message
	cancel  context.CancelFunc
	fetchWG sync.WaitGroup
	laneWG  sync.WaitGroup
	stop    sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger,
		handlers: make(map[string]MessageHandler),
		hook:     NoopHook{},
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.DLQTopic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
	}
	initConsumerMetrics()
	return c, nil
}

// RegisterHandler binds handler to its topic. The first registration wins.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook replaces the lifecycle hook. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start launches the lanes and one fetch loop per topic, then returns.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("kafka consumer: no handlers registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.lanes = make([]chan kafka.Message, c.cfg.Workers)
	for i := range c.lanes {
		c.lanes[i] = make(chan kafka.Message, c.cfg.BufferSize)
		c.laneWG.Add(1)
		go c.runLane(ctx, i)
	}

	start := kafka.FirstOffset
	if c.cfg.StartLatest {
		start = kafka.LastOffset
	}
	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       topic,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: start,
		})
		c.readers = append(c.readers, r)
		c.fetchWG.Add(1)
		go c.fetch(ctx, r)
	}

	c.log.Info("kafka consumer started",
		logger.String("group_id", c.cfg.GroupID),
		logger.Int("lanes", c.cfg.Workers),
		logger.Int("topics", len(c.handlers)))
	return nil
}

// Stop cancels fetching and in-flight handlers, drains the lanes, then
// closes the readers and the DLQ writer. ctx bounds the wait.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stop.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.fetchWG.Wait()
			for _, lane := range c.lanes {
				close(lane)
			}
			c.laneWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for _, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka reader close failed", logger.String("topic", r.Config().Topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("kafka dlq writer close failed", logger.Error(cerr))
			}
		}
		c.log.Info("kafka consumer stopped")
	})
	return err
}

func (c *Consumer) fetch(ctx context.Context, r *kafka.Reader) {
	defer c.fetchWG.Done()
	topic := r.Config().Topic

	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka fetch failed", logger.String("topic", topic), logger.Error(err))
			if !sleep(ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}

		lane := c.lanes[c.laneFor(km.Topic, km.Partition)]
		consumerLaneDepth.WithLabelValues(topic).Set(float64(len(lane)))
		select {
		case lane <- km:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) laneFor(topic string, partition int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(len(c.lanes)))
}

func (c *Consumer) runLane(ctx context.Context, idx int) {
	defer c.laneWG.Done()
	for km := range c.lanes[idx] {
		// after cancel the remaining buffered messages stay uncommitted and are redelivered
		if ctx.Err() != nil {
			continue
		}
		c.process(ctx, km)
	}
}

func (c *Consumer) process(ctx context.Context, km kafka.Message) {
	handler, ok := c.handlers[km.Topic]
	if !ok {
		return
	}
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			c.log.Error("kafka handler panic", logger.String("topic", km.Topic), logger.Any("panic", r))
		}
		consumerMessages.WithLabelValues(km.Topic, outcome).Inc()
		consumerHandleSeconds.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())
	}()

	attempts, err := c.handleWithRetry(ctx, handler, km)
	if err != nil && ctx.Err() != nil {
		// shutting down: leave the offset for the next owner of the partition
		outcome = "interrupted"
		return
	}
	if err != nil {
		outcome = "failed"
		c.hook.OnError(ctx, km.Topic, km, km.Value, err)
		c.log.Error("kafka message failed",
			logger.String("topic", km.Topic),
			logger.Int("partition", km.Partition),
			logger.Int64("offset", km.Offset),
			logger.Int("attempts", attempts),
			logger.Error(err))
		if !c.deadLetter(ctx, km, err, attempts) {
			return
		}
		outcome = "dead_lettered"
	}
	c.commit(km)
}

// handleWithRetry returns the number of attempts made and the last error.
// It stops early on success, on an error Retryable rejects, or on cancel.
func (c *Consumer) handleWithRetry(ctx context.Context, handler MessageHandler, km kafka.Message) (int, error) {
	for attempt := 1; ; attempt++ {
		err := c.handleOnce(ctx, handler, km)
		if err == nil || attempt > c.cfg.RetryMax || !c.cfg.Retryable(err) {
			return attempt, err
		}
		c.hook.OnError(ctx, km.Topic, km, km.Value, err)
		consumerRetries.WithLabelValues(km.Topic).Inc()
		if !sleep(ctx, backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return attempt, err
		}
	}
}

func (c *Consumer) handleOnce(ctx context.Context, handler MessageHandler, km kafka.Message) error {
	if c.cfg.HandleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandleTimeout)
		defer cancel()
	}
	hctx, hkm, data, err := c.hook.BeforeHandle(ctx, km.Topic, km, km.Value)
	if err != nil {
		return err
	}
	err = handler.Handle(hctx, data)
	c.hook.AfterHandle(hctx, km.Topic, hkm, data, err)
	return err
}

// deadLetter reports whether the message is now safe to commit.
func (c *Consumer) deadLetter(ctx context.Context, km kafka.Message, cause error, attempts int) bool {
	if c.dlq == nil {
		return false
	}
	headers := append([]kafka.Header{
		{Key: "dlq_source_topic", Value: []byte(km.Topic)},
		{Key: "dlq_source_partition", Value: []byte(strconv.Itoa(km.Partition))},
		{Key: "dlq_source_offset", Value: []byte(strconv.FormatInt(km.Offset, 10))},
		{Key: "dlq_attempts", Value: []byte(strconv.Itoa(attempts))},
		{Key: "dlq_error", Value: []byte(cause.Error())},
	}, km.Headers...)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.dlq.WriteMessages(wctx, kafka.Message{Key: km.Key, Value: km.Value, Headers: headers}); err != nil {
		c.log.Error("kafka dlq write failed", logger.String("dlq_topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(km kafka.Message) {
	r := c.readerFor(km.Topic)
	if r == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil || errors.Is(err, io.ErrClosedPipe) {
			return
		}
		time.Sleep(backoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka commit failed",
		logger.String("topic", km.Topic),
		logger.Int64("offset", km.Offset),
		logger.Error(err))
}

func (c *Consumer) readerFor(topic string) *kafka.Reader {
	for _, r := range c.readers {
		if r.Config().Topic == topic {
			return r
		}
	}
	return nil
}

// backoff doubles from min per attempt up to max, minus up to half as jitter.
func backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := max
	if attempt < 32 {
		if exp := min << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	return d - time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
