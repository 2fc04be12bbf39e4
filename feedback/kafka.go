package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rushteam/reclearn/core"
)

// KafkaConfig 是反馈消息消费配置。
type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `koanf:"topic" validate:"required_if=Enabled true"`
	GroupID string   `koanf:"group_id"`
}

// DefaultKafkaConfig 返回默认配置（不启用）。
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Topic:   "learning.feedback",
		GroupID: "reclearn-feedback",
	}
}

// Event 是反馈消息体（JSON）。timestamp 为 unix 毫秒，缺省为处理时间。
type Event struct {
	ID               string `json:"id"`
	UserID           string `json:"userId"`
	RecommendationID string `json:"recommendationId"`
	Action           string `json:"action"`
	Relevant         *bool  `json:"relevant,omitempty"`
	Timestamp        int64  `json:"timestamp,omitempty"`
}

// Feedback 转换为领域对象。
func (e *Event) Feedback() *core.Feedback {
	fb := &core.Feedback{
		ID:               e.ID,
		UserID:           e.UserID,
		RecommendationID: e.RecommendationID,
		Action:           core.FeedbackAction(e.Action),
		Relevant:         e.Relevant,
	}
	if e.Timestamp > 0 {
		fb.Timestamp = core.MillisToTime(e.Timestamp)
	}
	return fb
}

// MessageReader 是 kafka.Reader 的子集，便于测试替换。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler 处理一条反馈。
type Handler interface {
	Process(ctx context.Context, fb *core.Feedback) error
}

// KafkaConsumer 从 Kafka 消费反馈事件并交给 Processor 处理，实现 suture.Service。
//
// 投递语义为至少一次：
//   - 消息格式错误或反馈无效：记录日志后提交，不再重试
//   - 暂时性错误：不提交，Serve 返回错误，由 supervisor 重启后从上次提交位置继续
type KafkaConsumer struct {
	Handler Handler
	Logger  zerolog.Logger

	// NewReader 创建消息读取器，每次 Serve 创建一个
	NewReader func() MessageReader
}

// NewKafkaConsumer 创建消费者。
func NewKafkaConsumer(cfg KafkaConfig, handler Handler, logger zerolog.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		Handler: handler,
		Logger:  logger,
		NewReader: func() MessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:        cfg.Brokers,
				GroupID:        cfg.GroupID,
				Topic:          cfg.Topic,
				MinBytes:       1,
				MaxBytes:       1 << 20,
				MaxWait:        time.Second,
				ReadBackoffMin: 100 * time.Millisecond,
				ReadBackoffMax: time.Second,
			})
		},
	}
}

// String 用于 supervisor 日志。
func (c *KafkaConsumer) String() string { return "feedback-kafka-consumer" }

// Serve 持续消费直到 ctx 取消。
func (c *KafkaConsumer) Serve(ctx context.Context) error {
	reader := c.NewReader()
	defer func() {
		if err := reader.Close(); err != nil {
			c.Logger.Warn().Err(err).Msg("close kafka reader")
		}
	}()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch feedback message: %w", err)
		}
		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit feedback message: %w", err)
		}
	}
}

// handle 返回非 nil 表示消息需要重新投递。
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.Logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("drop malformed feedback message")
		return nil
	}
	err := c.Handler.Process(ctx, ev.Feedback())
	switch {
	case err == nil:
		return nil
	case core.IsTransient(err) || errors.Is(err, context.Canceled):
		return fmt.Errorf("process feedback of %s: %w", ev.UserID, err)
	default:
		c.Logger.Warn().Err(err).Str("user_id", ev.UserID).Int64("offset", msg.Offset).Msg("drop invalid feedback message")
		return nil
	}
}
