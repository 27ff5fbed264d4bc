package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/config"
	"github.com/anatoly-dev/fleet-hub/pkg/metrics"
	"github.com/anatoly-dev/fleet-hub/pkg/models"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

var (
	ErrInvalidCommand = errors.New("invalid command")
	ErrNoHandler      = errors.New("no handler registered for command type")
)

type CommandHandler func(ctx context.Context, cmd *models.Command) error

// Consumer reads operator commands from Kafka and hands them to the handler
// registered for their type.
type Consumer struct {
	consumer  *kafka.Consumer
	handlers  map[models.MessageType]CommandHandler
	logger    *zap.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	topics    []string
	isRunning bool
	mutex     sync.Mutex
	metrics   *metrics.KafkaMetrics
}

func NewConsumer(cfg *config.KafkaConfig, logger *zap.Logger) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	consumer := newDispatcher(cfg.Topics, logger)
	consumer.consumer = c

	return consumer, nil
}

func newDispatcher(topics []string, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		handlers: make(map[models.MessageType]CommandHandler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		topics:   topics,
	}
}

func (c *Consumer) SetMetrics(metrics *metrics.KafkaMetrics) {
	c.metrics = metrics
}

func (c *Consumer) RegisterHandler(msgType models.MessageType, handler CommandHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.handlers[msgType] = handler
}

func (c *Consumer) Start() error {
	c.mutex.Lock()
	if c.isRunning {
		c.mutex.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.isRunning = true
	c.mutex.Unlock()

	if err := c.consumer.SubscribeTopics(c.topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	c.logger.Info("Kafka command consumer started", zap.Strings("topics", c.topics))

	c.wg.Add(1)
	go c.consumeMessages()

	return nil
}

func (c *Consumer) Stop() {
	c.mutex.Lock()
	if !c.isRunning {
		c.mutex.Unlock()
		return
	}
	c.isRunning = false
	c.mutex.Unlock()

	c.logger.Info("Stopping Kafka consumer")

	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("All Kafka consumer routines stopped")
	case <-time.After(10 * time.Second):
		c.logger.Warn("Timeout waiting for Kafka consumer routines to stop")
	}

	if err := c.consumer.Close(); err != nil {
		c.logger.Error("Error closing Kafka consumer", zap.Error(err))
	}

	c.logger.Info("Kafka consumer stopped")
}

func (c *Consumer) consumeMessages() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			ev := c.consumer.Poll(100)
			if ev == nil {
				continue
			}

			switch e := ev.(type) {
			case *kafka.Message:
				c.handleMessage(e)

				if c.metrics != nil && e.TopicPartition.Topic != nil {
					c.recordLag(e)
				}

			case kafka.Error:
				c.logger.Error("Kafka error", zap.Error(e), zap.String("code", e.Code().String()))

				if c.metrics != nil {
					c.metrics.KafkaErrors.WithLabelValues(e.Code().String()).Inc()
				}
			default:
			}
		}
	}
}

func (c *Consumer) recordLag(e *kafka.Message) {
	topic := *e.TopicPartition.Topic
	c.metrics.MessagesProcessed.WithLabelValues(topic).Inc()

	_, high, err := c.consumer.QueryWatermarkOffsets(topic, e.TopicPartition.Partition, 5000)
	if err != nil {
		return
	}

	lag := high - int64(e.TopicPartition.Offset)
	partition := strconv.Itoa(int(e.TopicPartition.Partition))
	c.metrics.ConsumerLag.WithLabelValues(topic, partition).Set(float64(lag))
}

func (c *Consumer) handleMessage(msg *kafka.Message) {
	c.logger.Debug("Received command from Kafka",
		zap.String("topic", *msg.TopicPartition.Topic),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)),
		zap.ByteString("key", msg.Key),
		zap.Int("value_len", len(msg.Value)))

	if err := c.Dispatch(c.ctx, msg.Value); err != nil {
		c.logger.Warn("Dropped Kafka command", zap.Error(err), zap.ByteString("payload", msg.Value))
	}
}

// Dispatch decodes one command payload and runs its handler.
func (c *Consumer) Dispatch(ctx context.Context, value []byte) error {
	var cmd models.Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		if c.metrics != nil {
			c.metrics.DeserializeErrors.Inc()
		}
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	if !cmd.IsValid() {
		return fmt.Errorf("%w: type=%q device_id=%q", ErrInvalidCommand, cmd.Type, cmd.DeviceID)
	}

	c.mutex.Lock()
	handler, ok := c.handlers[cmd.Type]
	c.mutex.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, cmd.Type)
	}

	if err := handler(ctx, &cmd); err != nil {
		return fmt.Errorf("failed to handle %s: %w", cmd.Type, err)
	}
	return nil
}
