package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/bot"
	"github.com/addhe/awan-t-bot-sub000/internal/config"
	"github.com/addhe/awan-t-bot-sub000/internal/exchange"
	"github.com/addhe/awan-t-bot-sub000/internal/governor"
	"github.com/addhe/awan-t-bot-sub000/internal/journal"
	"github.com/addhe/awan-t-bot-sub000/internal/logger"
	"github.com/addhe/awan-t-bot-sub000/internal/metrics"
	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/addhe/awan-t-bot-sub000/internal/notify"
	"github.com/addhe/awan-t-bot-sub000/internal/persistence"
	"github.com/addhe/awan-t-bot-sub000/internal/position"
	"github.com/addhe/awan-t-bot-sub000/internal/pricefeed"
	"github.com/addhe/awan-t-bot-sub000/internal/strategy"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file (.json, .yaml or .yml)")
	flag.Parse()

	// Console logging until the file configuration is known.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, reading the process environment.")
	} else {
		logger.S().Info("Loaded environment from .env.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	if err := run(cfg); err != nil {
		logger.S().Fatalf("Bot stopped with error: %v", err)
	}
}

// run wires the components, runs the cycle loop until SIGINT/SIGTERM and then performs the
// shutdown sequence.
func run(cfg *models.Config) error {
	log := logger.L()

	gov := governor.New(governor.ConfigFrom(cfg.Governor), log.Named("governor"))

	// Public market data for paper trading needs no keys.
	market := exchange.NewBinanceGateway("", "", cfg.Exchange.IsTestnet)
	gw, err := exchange.New(cfg, market)
	if err != nil {
		return err
	}
	if cfg.Exchange.IsTestnet {
		log.Info("using Binance testnet")
	}

	store, err := persistence.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open status store: %w", err)
	}
	defer store.Close()

	var positionOpts []position.Option
	var botOpts []bot.Option
	if cfg.Store.JournalPath != "" {
		j, err := journal.Open(cfg.Store.JournalPath)
		if err != nil {
			return fmt.Errorf("open trade journal: %w", err)
		}
		defer j.Close()
		positionOpts = append(positionOpts, position.WithJournal(j))
		botOpts = append(botOpts, bot.WithHistory(j))
	}

	notifier := notify.New(cfg.Telegram, log.Named("notify"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PriceStream.Enabled {
		symbols := make([]string, len(cfg.Pairs))
		for i, p := range cfg.Pairs {
			symbols[i] = p.Symbol
		}
		feed := pricefeed.New(cfg.PriceStream, symbols, log.Named("pricefeed"))
		go feed.Run(ctx)
		maxAge := time.Duration(cfg.PriceStream.MaxAgeSeconds) * time.Second
		positionOpts = append(positionOpts, position.WithPriceSource(feed, maxAge))
	}

	var metricsServer *http.Server
	if cfg.System.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.System.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("metrics server listening", zap.String("addr", cfg.System.MetricsAddr))
	}

	pm := position.NewManager(gw, gov, store, cfg.Pairs, cfg.Trading, log.Named("position"), positionOpts...)
	if err := pm.Load(ctx); err != nil {
		return err
	}

	engine := strategy.NewBollStoch(cfg.Strategy)
	tradingBot := bot.NewTradingBot(cfg, gw, gov, pm, engine, store, notifier, log.Named("bot"), botOpts...)

	if err := tradingBot.Run(ctx); err != nil {
		log.Error("cycle loop ended with error", zap.Error(err))
	}

	log.Info("termination signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.System.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	tradingBot.Shutdown(shutdownCtx)
	if err := notifier.Close(shutdownCtx); err != nil {
		log.Warn("notifier did not drain before timeout", zap.Error(err))
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	log.Info("bot stopped")
	return nil
}
