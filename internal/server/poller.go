package server

import (
	"context"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	defaultPollSpec    = "@every 30s"
	defaultTickTimeout = 2 * time.Minute
	stopTimeout        = 5 * time.Second
)

// PollerServer 以 kratos transport.Server 形式托管对账定时任务
type PollerServer struct {
	cron        *cron.Cron
	reconciler  *biz.Reconciler
	spec        string
	tickTimeout time.Duration
	enabled     bool
	baseCtx     context.Context
	cancel      context.CancelFunc
	log         *log.Helper
}

// NewPollerServer 创建对账服务
func NewPollerServer(c *conf.Bootstrap, reconciler *biz.Reconciler, logger log.Logger) *PollerServer {
	s := &PollerServer{
		reconciler:  reconciler,
		spec:        defaultPollSpec,
		tickTimeout: defaultTickTimeout,
		log:         log.NewHelper(logger),
	}
	if c != nil && c.Poller != nil {
		s.enabled = c.Poller.Enabled
		if c.Poller.Spec != "" {
			s.spec = c.Poller.Spec
		}
		if c.Poller.TickTimeout != nil {
			s.tickTimeout = c.Poller.TickTimeout.AsDuration()
		}
	}
	cl := &cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	return s
}

// Start 注册并启动定时任务
func (s *PollerServer) Start(ctx context.Context) error {
	if !s.enabled {
		s.log.Info("PollerServer is disabled, skipping startup")
		return nil
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	if _, err := s.cron.AddFunc(s.spec, s.RunOnce); err != nil {
		s.log.Errorf("Failed to add poller job: spec=%s, error=%v", s.spec, err)
		return err
	}
	s.log.Infof("Starting PollerServer, spec: %s", s.spec)
	s.cron.Start()
	return nil
}

// RunOnce 执行一次 tick，带超时
func (s *PollerServer) RunOnce() {
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, s.tickTimeout)
	defer cancel()
	s.reconciler.Tick(ctx)
}

// Stop 取消进行中的 tick 并等待退出
func (s *PollerServer) Stop(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	s.log.Info("Stopping PollerServer")
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopTimeout):
		s.log.Warn("PollerServer stop timeout")
	case <-ctx.Done():
	}
	return nil
}

// cronLogger 把 cron 日志接到 kratos log
type cronLogger struct {
	log *log.Helper
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(append([]interface{}{"msg", msg, "error", err}, keysAndValues...)...)
}
