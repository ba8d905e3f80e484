package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 事件输出的参数。
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Durable  bool   `mapstructure:"durable"`
}

// RabbitMQSink 将事件发布到 fanout 交换机，并等待 broker 确认。
type RabbitMQSink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

var _ claims.Sink = (*RabbitMQSink)(nil)

// NewRabbitMQSink 连接 RabbitMQ 并声明交换机。
func NewRabbitMQSink(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ URL 不能为空")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = "poe.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 RabbitMQ channel 失败")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "声明 RabbitMQ 交换机失败")
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "开启 RabbitMQ 确认模式失败")
	}
	return &RabbitMQSink{conn: conn, ch: ch, exchange: exchange}, nil
}

// Deposit 发布事件并等待 broker 的 ack。
func (s *RabbitMQSink) Deposit(ctx context.Context, event claims.Event) error {
	if s == nil || s.ch == nil {
		return xerrors.New(xerrors.CodeEventDelivery, "RabbitMQ 未初始化")
	}
	payload, err := Encode(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventDelivery, err, "encode event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	confirmation, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, s.exchange, string(event.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Kind),
		Timestamp:    event.OccurredAt,
		Body:         payload,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventDelivery, fmt.Errorf("RabbitMQ 发布事件失败: %w", err), "")
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventDelivery, err, "等待 RabbitMQ 确认失败")
	}
	if !acked {
		return xerrors.Wrap(xerrors.CodeEventDelivery, errors.New("broker nacked event"), "")
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (s *RabbitMQSink) Close() error {
	if s == nil {
		return nil
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
