//go:build wireinject
// +build wireinject

package main

import (
	"sms-service/internal/biz"
	"sms-service/internal/conf"
	"sms-service/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// CronApp Cron 应用结构
type CronApp struct {
	reconciler *biz.Reconciler
	ledger     *biz.LedgerUseCase
}

// wireApp 初始化应用
func wireApp(*conf.Bootstrap, log.Logger) (*CronApp, func(), error) {
	panic(wire.Build(
		// Data 层
		data.ProviderSet,

		// Biz 层
		biz.ProviderSet,

		// App 结构
		wire.Struct(new(CronApp), "*"),
	))
}
