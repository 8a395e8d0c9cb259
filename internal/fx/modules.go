package fx

import (
	"extendo/internal/api"
	"extendo/internal/config"
	"extendo/internal/database"
	"extendo/internal/logger"
	"extendo/internal/repository"
	"extendo/internal/server"
	"extendo/internal/service"
	"extendo/internal/store"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// cache
	fx.Provide(repository.NewSnapshotRepository),
	fx.Provide(store.NewHistoryStore),
	// api client
	fx.Provide(api.NewFaceitClient),
	// svc
	fx.Provide(service.NewStatsService),
	// server
	fx.Provide(server.NewServer),
)
