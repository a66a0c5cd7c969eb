package main

import (
	"context"
	"log/slog"

	"catalogsync-backend/lib/serviceutil"
	"catalogsync-backend/lib/telemetry"
)

func InitTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	instance, err := telemetry.SetupFromEnv(ctx, "catalogd")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		instance.Shutdown(context.Background())
	}()
	telemetry.InstrumentPerfStats(ctx)
}
