package main

import (
	"context"

	"stock-stream/src/grpc_control"
	"stock-stream/src/logger"
)

// -----------------------------------------------------------------------------

// startServers launches the HTTP server, the gRPC health server and the
// background workers. Serve errors are reported on the returned channel.
func startServers(ctx context.Context, a *app, appLogger *logger.Logger) <-chan error {
	errCh := make(chan error, 2)

	// 1. SSE / REST server
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- err
		}
	}()

	// 2. gRPC health server
	if a.grpc != nil {
		go a.health.Run(ctx)
		go func() {
			if err := grpc_control.Serve(a.grpc, a.config.GrpcHost, a.config.GrpcPort, appLogger); err != nil {
				errCh <- err
			}
		}()
	}

	// 3. Trade recorder
	if a.recorder != nil {
		go a.recorder.Run(ctx)
	}

	return errCh
}
