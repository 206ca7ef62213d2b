package kafka

import (
	"fmt"
	"time"

	"Consilium/pkg/logger"
)

type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig tunes the reader group and the handling lanes behind it.
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	StartLatest   bool
	Workers       int
	BufferSize    int
	RetryMax      int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	DLQTopic      string
	MinBytes      int
	MaxBytes      int
	HandleTimeout time.Duration
	Retryable     func(error) bool
	Logger        *logger.Logger
}

func defaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		GroupID:    "consilium",
		Workers:    1,
		BufferSize: 16,
		RetryMax:   3,
		BackoffMin: 100 * time.Millisecond,
		BackoffMax: 5 * time.Second,
		MinBytes:   1,
		MaxBytes:   1 << 20,
		Retryable:  func(error) bool { return true },
		Logger:     logger.Nop(),
	}
}

func (c *ConsumerConfig) validate() error {
	switch {
	case len(c.Brokers) == 0:
		return fmt.Errorf("kafka consumer: brokers are required")
	case c.GroupID == "":
		return fmt.Errorf("kafka consumer: group id is required")
	case c.Workers < 1:
		return fmt.Errorf("kafka consumer: workers must be positive")
	case c.RetryMax < 0:
		return fmt.Errorf("kafka consumer: retry max must not be negative")
	}
	return nil
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = groupID }
}

// WithConsumerStartLatest makes a brand new group skip the backlog.
func WithConsumerStartLatest(latest bool) ConsumerOption {
	return func(c *ConsumerConfig) { c.StartLatest = latest }
}

// WithConsumerWorkers sets how many lanes handle messages concurrently.
// One partition always maps to one lane.
func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *ConsumerConfig) { c.Workers = n }
}

// WithConsumerBufferSize sets how many fetched messages may wait per lane.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerRetry sets retries after the first attempt and the backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ names the dead-letter topic. Empty disables dead-lettering.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerHandleTimeout bounds one handler attempt. Zero means no bound.
func WithConsumerHandleTimeout(d time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) { c.HandleTimeout = d }
}

// WithConsumerRetryable decides whether a handler error deserves another
// attempt. Rejected errors go straight to the DLQ.
func WithConsumerRetryable(fn func(error) bool) ConsumerOption {
	return func(c *ConsumerConfig) {
		if fn != nil {
			c.Retryable = fn
		}
	}
}

func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}
