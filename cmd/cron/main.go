package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/conf"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/env"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

const defaultPollSpec = "@every 30s"

var (
	flagconf  string
	flagonce  bool
	flagaudit string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
	flag.BoolVar(&flagonce, "once", false, "run a single reconcile tick and exit")
	flag.StringVar(&flagaudit, "audit", "", "verify ledger sum equals balance for the given user id and exit")
}

func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
			env.NewSource("SMS_"),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化日志 (使用 go-pkg/logger)
	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/sms-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}

	loggerInstance := logger.NewLogger(logConfig)

	// 添加基本字段
	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "sms-cron",
	)

	logHelper := log.NewHelper(loggerInstance)

	// 初始化应用
	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	tickTimeout := 2 * time.Minute
	spec := defaultPollSpec
	if bc.Poller != nil {
		if bc.Poller.TickTimeout != nil {
			tickTimeout = bc.Poller.TickTimeout.AsDuration()
		}
		if bc.Poller.Spec != "" {
			spec = bc.Poller.Spec
		}
	}

	if flagaudit != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		ok, err := app.ledger.Audit(ctx, flagaudit)
		if err != nil {
			logHelper.Errorf("[AUDIT] failed: user_id=%s, error=%v", flagaudit, err)
			return
		}
		logHelper.Infof("[AUDIT] user_id=%s, consistent=%t", flagaudit, ok)
		return
	}

	// 收到退出信号时取消进行中的对账
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	runTick := newTickRunner(baseCtx, tickTimeout, app.reconciler, logHelper)

	if flagonce {
		runTick()
		return
	}

	// 创建定时任务调度器（支持秒级调度，上一次未结束时跳过）
	cl := cron.VerbosePrintfLogger(&printfLogger{log: logHelper})
	cronScheduler := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err = cronScheduler.AddFunc(spec, runTick)
	if err != nil {
		logHelper.Errorf("Failed to add reconcile job: %v", err)
		return
	}

	// 启动定时任务
	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Infof("  - Order reconcile: %s", spec)
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	// 停止定时任务
	cancelBase()
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}

type printfLogger struct {
	log *log.Helper
}

func (l *printfLogger) Printf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

type reconcileTicker interface {
	Tick(ctx context.Context) *biz.TickReport
}

// newTickRunner 每次 tick 派生自 baseCtx，baseCtx 取消时进行中的 tick 随之退出
func newTickRunner(baseCtx context.Context, timeout time.Duration, r reconcileTicker, logHelper *log.Helper) func() {
	return func() {
		ctx, cancel := context.WithTimeout(baseCtx, timeout)
		defer cancel()
		report := r.Tick(ctx)
		if report.Skipped {
			return
		}
		logHelper.Infof("[CRON] Reconcile: checked=%d, transitioned=%d, expired=%d, failed=%d, duration=%s",
			report.Checked, report.Transitioned, report.Expired, report.Failed, report.Duration)
	}
}
