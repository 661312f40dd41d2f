package main

import (
	"context"

	"stock-stream/src/coordinator"
	datasource "stock-stream/src/data_source"
	"stock-stream/src/data_source/finnhub"
	"stock-stream/src/grpc_control"
	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
	"stock-stream/src/metrics"
	"stock-stream/src/models"
	"stock-stream/src/network"
	"stock-stream/src/server"
	"stock-stream/src/storage"

	"google.golang.org/grpc"
)

// app holds the long-lived components built at startup.
type app struct {
	config      *models.MConfig
	coordinator *coordinator.ConnectionCoordinator
	feeds       *datasource.FeedManager
	server      *server.StreamServer
	health      *grpc_control.HealthService
	grpc        *grpc.Server
	store       interfaces.ITradeStore
	recorder    *storage.TradeRecorder
}

// -----------------------------------------------------------------------------

func setupApp(cfg *models.MConfig, appLogger *logger.Logger) (*app, error) {
	m := metrics.New(metrics.NewRegistry())

	coord := coordinator.NewConnectionCoordinator(cfg.Coordinator, logger.NewLogger("Coordinator"), m)
	netMgr := setupNetwork(cfg)
	quotes := finnhub.NewQuoteSource(cfg, netMgr, logger.NewLogger("QuoteSource"))

	factory := finnhub.NewAdapterFactory(cfg, coord, quotes, logger.NewLogger("FeedAdapter"), m)
	feeds := datasource.NewFeedManager(factory, logger.NewLogger("FeedManager"))

	srv := server.NewStreamServer(cfg, coord, feeds, quotes, logger.NewLogger("StreamServer"), m)

	a := &app{
		config:      cfg,
		coordinator: coord,
		feeds:       feeds,
		server:      srv,
	}

	if cfg.Storage.Enabled {
		store, err := setupDatabase(cfg, appLogger)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.recorder = storage.NewTradeRecorder(store, &cfg.Storage, logger.NewLogger("TradeRecorder"), m)
		srv.Store = store
		srv.Sink = a.recorder
	} else {
		appLogger.Info("Trade storage disabled")
	}

	if cfg.GrpcPort > 0 {
		a.health = grpc_control.NewHealthService(coord, logger.NewLogger("HealthService"))
		a.grpc = grpc_control.NewServer(a.health)
	}

	return a, nil
}

// -----------------------------------------------------------------------------

// setupDatabase initializes the trade store based on config
func setupDatabase(cfg *models.MConfig, appLogger *logger.Logger) (interfaces.ITradeStore, error) {
	store, err := storage.NewTradeStore(cfg, logger.NewLogger("TradeStore"))
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		return nil, err
	}
	appLogger.Info("Trade store ready (%s)", cfg.Storage.DBType)
	return store, nil
}

// -----------------------------------------------------------------------------

// setupNetwork initializes the network manager
func setupNetwork(cfg *models.MConfig) interfaces.INetworkManager {
	return network.NewAsyncNetworkManager(&cfg.Network, logger.NewLogger("NetworkManager"))
}

// -----------------------------------------------------------------------------

func (a *app) shutdown(ctx context.Context, appLogger *logger.Logger) {
	if err := a.server.Stop(ctx); err != nil {
		appLogger.Warning("HTTP shutdown: %v", err)
	}
	if a.grpc != nil {
		a.grpc.GracefulStop()
	}
	if a.recorder != nil {
		a.recorder.Wait()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			appLogger.Warning("Closing trade store: %v", err)
		}
	}
	appLogger.Info("Shutdown complete")
}
