//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"leakdetector/internal/biz"
	"leakdetector/internal/conf"
	"leakdetector/internal/data"
	"leakdetector/internal/server"
	"leakdetector/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init the application.
func wireApp(*conf.Server, *conf.Data, *conf.Providers, *conf.Analysis, log.Logger) (*application, func(), error) {
	panic(wire.Build(server.ProviderSet, data.ProviderSet, biz.ProviderSet, service.ProviderSet, newApplication))
}
