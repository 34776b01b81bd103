package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/domain"
)

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	err       error
	block     chan struct{}
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, msg)
	c.keys = append(c.keys, key)
	return nil
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func TestPublisherPublishesJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, Options{Queue: "email_queue"})

	p.Dispatch(&domain.MailMessage{
		Type: domain.MailTypeShiftAssigned,
		To:   "a@example.com",
		Data: domain.ShiftAssignedMailData{EmployeeName: "张三", ShiftID: 7, Date: "2024-06-03"},
	})
	require.NoError(t, p.Close(context.Background()))

	require.Equal(t, 1, ch.count())
	require.Equal(t, "email_queue", ch.keys[0])
	require.Equal(t, "application/json", ch.published[0].ContentType)

	var msg struct {
		Type string         `json:"type"`
		To   string         `json:"to"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &msg))
	require.Equal(t, "shift_assigned", msg.Type)
	require.Equal(t, "a@example.com", msg.To)
	require.Equal(t, "张三", msg.Data["employeeName"])
}

func TestPublisherDropsWhenBufferFull(t *testing.T) {
	ch := &fakeChannel{block: make(chan struct{})}
	p := NewPublisher(ch, Options{Buffer: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			p.Dispatch(&domain.MailMessage{Type: domain.MailTypeShiftAssigned, To: "a@example.com"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch 阻塞了调用方")
	}

	close(ch.block)
	require.NoError(t, p.Close(context.Background()))
	require.Less(t, ch.count(), 10)
	require.GreaterOrEqual(t, ch.count(), 1)
}

func TestPublisherLogsFailures(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := NewPublisher(ch, Options{})

	p.Dispatch(&domain.MailMessage{Type: domain.MailTypeShiftAssigned, To: "a@example.com"})
	p.Dispatch(&domain.MailMessage{Type: domain.MailTypeShiftAssigned, To: "b@example.com"})

	require.NoError(t, p.Close(context.Background()))
	require.Zero(t, ch.count())
}

func TestPublisherDispatchAfterClose(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, Options{})
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))

	require.NotPanics(t, func() {
		p.Dispatch(&domain.MailMessage{Type: domain.MailTypeShiftAssigned, To: "a@example.com"})
	})
	require.Zero(t, ch.count())
}
