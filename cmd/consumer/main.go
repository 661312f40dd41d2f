package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stock-stream/src/config"
	"stock-stream/src/consumer"
	"stock-stream/src/coordinator"
	"stock-stream/src/logger"
	"stock-stream/src/models"
	"stock-stream/src/network"
)

// -----------------------------------------------------------------------------

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	symbols := flag.String("symbols", "AAPL,MSFT", "comma-separated watchlist")
	server := flag.String("server", "", "stream server base URL (overrides consumer.server_url)")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Consumer.ServerURL = *server
	}

	if err := logger.Init(cfg.MConfig); err != nil {
		fmt.Printf("Error setting up logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.NewLogger("Consumer")

	watchlist := consumer.NewMemoryWatchlist(coordinator.ParseSymbols(*symbols))
	watchlist.OnPrice = func(evt models.MPriceEvent) {
		fmt.Printf("%-10s %12.4f  vol=%-10.0f ts=%d\n", evt.Symbol, evt.Price, evt.Volume, evt.Timestamp)
	}

	netMgr := network.NewAsyncNetworkManager(&cfg.Network, logger.NewLogger("NetworkManager"))
	poller := consumer.NewRESTPoller(cfg.Consumer, netMgr, watchlist, logger.NewLogger("RESTPoller"))

	c := consumer.NewStreamConsumer(cfg.Consumer, watchlist, poller, log)
	c.OnStatus = func(s consumer.Status) {
		log.Info("Stream status: %s", s)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, consumer.ErrLiveDataDisabled) {
			log.Warning("Live data disabled after repeated failures; polling until interrupted")
			<-ctx.Done()
			poller.Stop()
			return
		}
		log.Error("Consumer stopped: %v", err)
		os.Exit(1)
	}
}
