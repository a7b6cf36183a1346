package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/jornet-server/internal/config"
	"github.com/jornet-server/internal/domain"
	"github.com/jornet-server/internal/integrity"
)

// ScoreMessage is the wire format of a signed submission on the topic. The
// submission is verified exactly like one posted over HTTP.
type ScoreMessage struct {
	Leaderboard uuid.UUID            `json:"leaderboard"`
	Submission  integrity.Submission `json:"submission"`
}

// Submitter accepts signed score submissions
type Submitter interface {
	Submit(ctx context.Context, leaderboardID uuid.UUID, sub integrity.Submission) error
}

// Consumer consumes signed score messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	submitter     Submitter
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, submitter Submitter, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return newConsumer(cfg, submitter, logger, consumerGroup), nil
}

func newConsumer(cfg *config.KafkaConfig, submitter Submitter, logger *slog.Logger, group sarama.ConsumerGroup) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		submitter:     submitter,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start begins consuming messages and returns once the first session is set up
func (c *Consumer) Start() error {
	c.logger.Info("starting kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{consumer: c, ready: c.ready}
			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}
			if c.ctx.Err() != nil {
				return
			}
			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	c.logger.Info("kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// HandleMessage decodes and submits one message. Transient failures are
// retried; a rejected submission is logged with its error class and
// dropped. It returns the final submission error, if any.
func (c *Consumer) HandleMessage(ctx context.Context, value []byte) error {
	var msg ScoreMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		c.logger.Warn("failed to unmarshal message", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if msg.Leaderboard == uuid.Nil || msg.Submission.Player == uuid.Nil {
		c.logger.Warn("invalid score message",
			"leaderboard_id", msg.Leaderboard,
			"player_id", msg.Submission.Player,
		)
		return domain.ErrInvalidRequest
	}

	attempts := max(c.config.RetryAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.submitter.Submit(ctx, msg.Leaderboard, msg.Submission)
		if err == nil {
			c.logger.Debug("score accepted",
				"leaderboard_id", msg.Leaderboard,
				"player_id", msg.Submission.Player,
			)
			return nil
		}
		if !retryable(err) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.RetryDelay):
		}
	}

	c.logger.Warn("score rejected",
		"class", ErrorClass(err),
		"leaderboard_id", msg.Leaderboard,
		"player_id", msg.Submission.Player,
		"error", err,
	)
	return err
}

// ErrorClass names the rejection category of a submission error
func ErrorClass(err error) string {
	if err == nil {
		return "accepted"
	}
	return domain.ErrorCode(err)
}

// retryable reports whether a submission may succeed if sent again
func retryable(err error) bool {
	return ErrorClass(err) == domain.CodeInternalError && !errors.Is(err, context.Canceled)
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim submits messages from a partition in order. Every message is
// marked once handled; rejects are not redelivered.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			ctx, cancel := context.WithTimeout(session.Context(), 10*time.Second)
			_ = h.consumer.HandleMessage(ctx, message.Value)
			cancel()
			session.MarkMessage(message, "")
		}
	}
}
