package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/conf"
	"sms-service/internal/constants"
	"sms-service/internal/metrics"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultNotifyQueueSize   = 1024
	defaultNotifySendTimeout = 3 * time.Second
	defaultNotifyTopic       = "sms_user_events"

	channelMQ     = "rocketmq"
	channelPubSub = "pubsub"
)

// eventRelay 写入 Redis Pub/Sub 用户频道
type eventRelay struct {
	data   *Data
	prefix string
}

// NewEventRelay 创建 Pub/Sub 转发器（返回 biz.EventRelay 接口）
func NewEventRelay(c *conf.Bootstrap, data *Data) biz.EventRelay {
	prefix := constants.RedisChannelUserEvents
	if c.Notify != nil && c.Notify.ChannelPrefix != "" {
		prefix = c.Notify.ChannelPrefix
	}
	return &eventRelay{data: data, prefix: prefix}
}

// Relay 发布到 user:events:{uid}；未配置 Redis 时丢弃
func (r *eventRelay) Relay(ctx context.Context, ev *biz.NotificationEvent) error {
	if r.data.rdb == nil {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.data.rdb.Publish(ctx, r.prefix+ev.UserID, body).Err()
}

// notifier 有界队列 + 单 worker 投递。队列满时丢弃并告警，发布方永不阻塞。
type notifier struct {
	data    *Data
	relay   biz.EventRelay
	topic   string
	timeout time.Duration
	queue   chan *biz.NotificationEvent
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	log     *log.Helper
	metrics *metrics.SMSMetrics
}

// NewNotifier 创建通知出口：启用 RocketMQ 时经 MQ 投递（由消费者转发到 Pub/Sub），否则直接转发
func NewNotifier(c *conf.Bootstrap, data *Data, relay biz.EventRelay, logger log.Logger) (biz.Notifier, func()) {
	n := &notifier{
		data:    data,
		relay:   relay,
		topic:   defaultNotifyTopic,
		timeout: defaultNotifySendTimeout,
		done:    make(chan struct{}),
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
	size := defaultNotifyQueueSize
	if c.Notify != nil {
		if c.Notify.QueueSize > 0 {
			size = int(c.Notify.QueueSize)
		}
		if c.Notify.SendTimeout != nil {
			n.timeout = c.Notify.SendTimeout.AsDuration()
		}
	}
	if c.Data != nil && c.Data.Rocketmq != nil && c.Data.Rocketmq.Topic != "" {
		n.topic = c.Data.Rocketmq.Topic
	}
	n.queue = make(chan *biz.NotificationEvent, size)

	n.wg.Add(1)
	go n.run()
	return n, n.close
}

// Publish 入队即返回
func (n *notifier) Publish(ctx context.Context, userID, event string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Errorf("Marshal notification failed: user_id=%s, event=%s, error=%v", userID, event, err)
		return
	}
	ev := &biz.NotificationEvent{
		UserID:     userID,
		Event:      event,
		Payload:    body,
		OccurredAt: time.Now(),
	}
	select {
	case <-n.done:
		return
	default:
	}
	select {
	case n.queue <- ev:
	default:
		n.log.Warnf("Notification queue full, dropping: user_id=%s, event=%s", userID, event)
		n.observe("queue", "dropped")
	}
}

func (n *notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ev)
		case <-n.done:
			// 退出前把已入队的投递完
			for {
				select {
				case ev := <-n.queue:
					n.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (n *notifier) deliver(ev *biz.NotificationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if n.data.mq != nil {
		body, err := json.Marshal(ev)
		if err == nil {
			msg := primitive.NewMessage(n.topic, body)
			msg.WithKeys([]string{ev.UserID})
			if _, err = n.data.mq.SendSync(ctx, msg); err == nil {
				n.observe(channelMQ, constants.ResultSuccess)
				return
			}
		}
		// 降级直接转发
		n.log.Warnf("Send notification to RocketMQ failed, falling back to pubsub: user_id=%s, event=%s, error=%v", ev.UserID, ev.Event, err)
		n.observe(channelMQ, constants.ResultFailed)
	}

	if err := n.relay.Relay(ctx, ev); err != nil {
		n.log.Warnf("Relay notification failed: user_id=%s, event=%s, error=%v", ev.UserID, ev.Event, err)
		n.observe(channelPubSub, constants.ResultFailed)
		return
	}
	n.observe(channelPubSub, constants.ResultSuccess)
}

func (n *notifier) observe(channel, result string) {
	if n.metrics != nil {
		n.metrics.NotifyTotal.WithLabelValues(channel, result).Inc()
	}
}

func (n *notifier) close() {
	n.once.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
}
