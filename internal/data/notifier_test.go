package data

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRelay 第一次投递时阻塞，直到 release 关闭
type blockingRelay struct {
	mu      sync.Mutex
	events  []*biz.NotificationEvent
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingRelay() *blockingRelay {
	return &blockingRelay{entered: make(chan struct{}), release: make(chan struct{})}
}

func (r *blockingRelay) Relay(ctx context.Context, ev *biz.NotificationEvent) error {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *blockingRelay) Events() []*biz.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*biz.NotificationEvent(nil), r.events...)
}

func TestNotifier_DropsWhenQueueFull(t *testing.T) {
	relay := newBlockingRelay()
	n, closeFn := NewNotifier(&conf.Bootstrap{Notify: &conf.Notify{QueueSize: 1}}, &Data{}, relay, log.DefaultLogger)
	ctx := context.Background()

	n.Publish(ctx, "u1", "first", map[string]int{"n": 1})
	<-relay.entered
	n.Publish(ctx, "u1", "second", map[string]int{"n": 2})

	// 队列已满，发布方不阻塞
	done := make(chan struct{})
	go func() {
		n.Publish(ctx, "u1", "third", map[string]int{"n": 3})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full queue")
	}

	close(relay.release)
	closeFn()

	events := relay.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Event)
	assert.Equal(t, "second", events[1].Event)
	var payload map[string]int
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, 2, payload["n"])

	// 关闭后发布直接丢弃
	n.Publish(ctx, "u1", "late", nil)
	assert.Len(t, relay.Events(), 2)
}

func TestEventRelay_NoRedis(t *testing.T) {
	relay := NewEventRelay(&conf.Bootstrap{}, &Data{})
	assert.NoError(t, relay.Relay(context.Background(), &biz.NotificationEvent{UserID: "u1", Event: "balance_updated"}))
}
