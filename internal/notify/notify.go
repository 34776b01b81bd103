// Package notify 把邮件通知异步发布到 RabbitMQ，由 cmd/mail 消费并发送
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/metrics"
)

// Channel 是 *amqp.Channel 中用到的方法
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Options struct {
	Queue          string
	PublishTimeout time.Duration
	Buffer         int
	Metrics        *metrics.Metrics
}

// Publisher 在单独的 goroutine 中发布消息，Dispatch 从不阻塞调用方
type Publisher struct {
	ch      Channel
	opts    Options
	queue   chan *domain.MailMessage
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewPublisher(ch Channel, opts Options) *Publisher {
	if opts.Queue == "" {
		opts.Queue = "email_queue"
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}

	p := &Publisher{
		ch:      ch,
		opts:    opts,
		queue:   make(chan *domain.MailMessage, opts.Buffer),
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}
	go p.loop()

	return p
}

// Dispatch 把消息放入缓冲区。缓冲区已满或已经关闭时丢弃消息并记录日志
func (p *Publisher) Dispatch(msg *domain.MailMessage) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		slog.Warn("通知发布器已关闭，丢弃邮件", "type", msg.Type, "to", msg.To)
		p.metrics.IncNotificationDropped()
		return
	}

	select {
	case p.queue <- msg:
	default:
		slog.Error("通知缓冲区已满，丢弃邮件", "type", msg.Type, "to", msg.To)
		p.metrics.IncNotificationDropped()
	}
}

// Close 停止接收新消息，并等待缓冲区中的消息发布完成或 ctx 结束
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) loop() {
	defer close(p.done)

	for msg := range p.queue {
		if err := p.publish(msg); err != nil {
			slog.Error("无法发布邮件到消息队列", "type", msg.Type, "to", msg.To, "error", err)
			p.metrics.IncNotificationPublished("failure")
			continue
		}
		p.metrics.IncNotificationPublished("success")
	}
}

func (p *Publisher) publish(msg *domain.MailMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.PublishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(
		ctx,
		"",
		p.opts.Queue,
		true,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
