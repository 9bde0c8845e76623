package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/analytics"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/config"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/db"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic/selectors"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// zap writes to stderr; stdout carries the MCP stream
	logger, err := observability.InitLoggerWithService(cfg.ServiceName + "-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, cfg); err != nil {
		logger.Error("mcp server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, 5, 2, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	var source models.AnalyticsSource = pg
	if cfg.AnalyticsBackend == config.BackendClickHouse {
		ch, err := analytics.OpenClickHouse(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			return fmt.Errorf("connect clickhouse: %w", err)
		}
		defer ch.Close()
		source = ch
	}

	selector := selectors.NewRuleBasedSelector(pg, observability.NewNoOpRegistry())
	selector.SetLogger(logger)
	agg := analytics.NewAggregator(pg, source)
	agg.SetLogger(logger)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "leapads",
		Version: "1.0.0",
	}, nil)
	NewToolServer(selector, agg, logger).Register(server)

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("mcp server running via stdio")
	if err := server.Run(ctx, transport); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w (transcript: %s)", err, logBuffer.String())
	}
	return nil
}
