//go:build wireinject
// +build wireinject

package di

import (
	"EOSFit/pkg/config"
	"EOSFit/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application
// together with the cleanup that releases sinks, caches and clients.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideCache,

		// Repositories
		ProvideResultSink,
		ProvideFitStore,

		// Domain services
		ProvideFitDriver,
		ProvideDeriveEngine,

		// Use cases
		ProvideFitRunner,
		ProvideDeriver,
		ProvideTransitionFinder,
		ProvideFitJobHandler,

		// Transport
		ProvideEOSHandler,
		ProvideHTTPServer,
		ProvideKafkaConsumer,

		// Application
		ProvideApp,
	)
	return nil, nil, nil
}
