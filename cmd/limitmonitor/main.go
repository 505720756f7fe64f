// Command limitmonitor boots the settlement exposure monitoring service:
// it loads config, connects to Postgres, performs the rule cache's blocking
// initial load, starts the background refresh loops, and serves HTTP until
// an interrupt signal arrives — the same flag/load/connect/serve/shutdown
// shape as the teacher's stellar-query-api/go/main.go, generalized to this
// domain's components.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/colinzhu/limit-monitoring-sub000/internal/approval"
	"github.com/colinzhu/limit-monitoring-sub000/internal/config"
	"github.com/colinzhu/limit-monitoring-sub000/internal/eventbus"
	"github.com/colinzhu/limit-monitoring-sub000/internal/httpapi"
	"github.com/colinzhu/limit-monitoring-sub000/internal/ingest"
	"github.com/colinzhu/limit-monitoring-sub000/internal/notify"
	"github.com/colinzhu/limit-monitoring-sub000/internal/rateprovider"
	"github.com/colinzhu/limit-monitoring-sub000/internal/ratesource"
	"github.com/colinzhu/limit-monitoring-sub000/internal/rulecache"
	"github.com/colinzhu/limit-monitoring-sub000/internal/ruleprovider"
	"github.com/colinzhu/limit-monitoring-sub000/internal/status"
	"github.com/colinzhu/limit-monitoring-sub000/internal/store"
	"github.com/colinzhu/limit-monitoring-sub000/internal/subtotal"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting limit-monitor", zap.String("service", cfg.Service.Name))

	db, err := store.Open(cfg.Postgres.DSN(), cfg.Postgres.MaxConnections)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to postgres")

	settlementStore := store.NewSettlementStore()
	groupStore := store.NewGroupStore()
	rateStore := store.NewExchangeRateStore()

	ruleHTTPClient := &http.Client{Timeout: time.Duration(cfg.RuleProvider.TimeoutSeconds) * time.Second}
	ruleProvider := ruleprovider.New(cfg.RuleProvider.Endpoint, ruleHTTPClient)
	rules := rulecache.New(ruleProvider, logger, time.Duration(cfg.RuleProvider.TimeoutSeconds)*time.Second)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := rules.Initialize(startupCtx); err != nil {
		cancelStartup()
		logger.Fatal("rule cache initialization failed", zap.Error(err))
	}
	cancelStartup()

	rateHTTPClient := &http.Client{Timeout: time.Duration(cfg.ExchangeRate.TimeoutSeconds) * time.Second}
	rateProvider := rateprovider.New(cfg.ExchangeRate.Endpoint, rateHTTPClient)
	rateRefresher := ratesource.NewRefresher(rateProvider, rateStore, db, logger, time.Duration(cfg.ExchangeRate.TimeoutSeconds)*time.Second)
	rateRefresher.Initialize(context.Background())

	bus := eventbus.New()
	engine := subtotal.New()
	ledger := approval.New()

	limit, err := decimal.NewFromString(cfg.Exposure.DefaultLimitUSD)
	if err != nil {
		logger.Fatal("invalid exposure.default_limit_usd", zap.Error(err))
	}
	limitProvider := status.FixedLimitProvider{Limit: limit}

	txBeginner := ingest.NewPostgresTxBeginner(db, settlementStore, engine)
	pipeline := ingest.New(txBeginner, rules, bus, cfg.ExchangeRate.FailOnMissingRate)

	webhook := notify.NewWebhookSink(cfg.Notify.WebhookURL, time.Duration(cfg.Notify.TimeoutSeconds)*time.Second, cfg.Notify.MaxElapsed)
	notifyCh := make(chan eventbus.GroupRecalculated, 256)
	bus.Subscribe(notifyCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rules.RunRefreshLoop(ctx, cfg.RuleProvider.RefreshInterval)
	go rateRefresher.RunRefreshLoop(ctx, cfg.ExchangeRate.RefreshInterval)
	go notify.Consume(ctx, webhook, notifyCh, logger)

	server := httpapi.NewServer(pipeline, settlementStore, groupStore, ledger, rules, limitProvider, db, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Service.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Service.WriteTimeoutSeconds) * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Service.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server forced to shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
