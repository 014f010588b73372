package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sessiontrader/earnings-session-trader/internal/advisor"
	"github.com/sessiontrader/earnings-session-trader/internal/calendar"
	"github.com/sessiontrader/earnings-session-trader/internal/config"
	"github.com/sessiontrader/earnings-session-trader/internal/earningsstrategy"
	"github.com/sessiontrader/earnings-session-trader/internal/gateway"
	"github.com/sessiontrader/earnings-session-trader/internal/monitor"
	"github.com/sessiontrader/earnings-session-trader/internal/realtimefanout"
	"github.com/sessiontrader/earnings-session-trader/internal/selection"
	"github.com/sessiontrader/earnings-session-trader/internal/session"
	"github.com/sessiontrader/earnings-session-trader/internal/strategyrunner"
	"github.com/sessiontrader/earnings-session-trader/internal/tickercache"
	"github.com/sessiontrader/earnings-session-trader/internal/wstransport"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("starting earnings session trader")

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Warn().Err(err).Msg("failed to load config, using defaults")
		cfg = config.DefaultConfig()
	}

	cal := calendar.NewFixedOffsetCalendar(cfg.Scheduler.Timezone, calendar.RealClock{})

	cache, err := tickercache.NewFileCache(cfg.Cache.CacheDir, cfg.Cache.Enabled)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize ticker cache")
	}

	screener := selection.NewFinvizScreener(&http.Client{Timeout: 30 * time.Second})

	advisors := []selection.Advisor{
		advisor.NewGrokAdvisor(os.Getenv("XAI_API_KEY")),
		advisor.NewGeminiAdvisor(os.Getenv("GEMINI_API_KEY")),
	}

	pipeline := &selection.Pipeline{
		Screener:       screener,
		Advisors:       advisors,
		Cache:          cache,
		ScanPasses:     cfg.AIScanner.ScanPasses,
		PromptTemplate: cfg.AIScanner.PromptTemplate,
	}

	var gw gateway.OrderGateway
	if cfg.Broker.Mode == "live" {
		client := alpaca.NewClient(alpaca.ClientOpts{
			ApiKey:    cfg.Broker.APIKey,
			ApiSecret: cfg.Broker.APISecret,
			BaseURL:   cfg.Broker.BaseURL,
		})
		gw = gateway.NewAlpacaGateway(client)
		log.Info().Msg("live broker mode: Alpaca gateway wired")
	} else {
		gw = gateway.NewPaperGateway(decimal.NewFromFloat(cfg.Broker.PaperBuyingPower))
		log.Info().Float64("buying_power", cfg.Broker.PaperBuyingPower).Msg("paper broker mode")
	}

	transport := wstransport.NewTransport(cfg.Realtime.FeedURL)
	fanout := realtimefanout.New(transport, realtimefanout.Config{
		BaseDelay:   cfg.Realtime.ReconnectDelay,
		MaxAttempts: cfg.Realtime.MaxReconnectAttempts,
	})

	loc := cal.Location
	strategy := earningsstrategy.New(pipeline, gw, fanout, earningsstrategy.Config{
		CandlePeriod:   cfg.Strategy.CandlePeriod,
		WarmupHour:     warmupHour(cfg.Strategy.WarmupTime),
		WarmupMinute:   warmupMinute(cfg.Strategy.WarmupTime),
		Location:       loc,
		EntryOffsetPct: cfg.Strategy.EntryOffsetPct,
		StopLossPct:    cfg.Strategy.StopLossPct,
		TakeProfitPct:  cfg.Strategy.TakeProfitPct,
	})

	runner := strategyrunner.New([]strategyrunner.Strategy{strategy}, strategyrunner.Config{
		MaxRetries: cfg.Scheduler.StrategyMaxRetries,
		RetryDelay: cfg.Scheduler.StrategyRetryDelay,
	})

	orch := session.New(cal, runner, cache, session.Config{})

	ctx, cancel := context.WithCancel(context.Background())

	if err := fanout.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start realtime fan-out")
	}

	var monitorServer *monitor.Server
	if cfg.Monitor.Enabled {
		monitorServer = monitor.New(monitor.Config{Addr: cfg.Monitor.Port, Enabled: true}, statusAdapter{orch}, gw)
		go func() {
			if err := monitorServer.Start(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("monitor server error")
			}
		}()
	}

	go orch.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	orch.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if monitorServer != nil {
		if err := monitorServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("monitor server shutdown error")
		}
	}

	if err := fanout.Close(); err != nil {
		log.Error().Err(err).Msg("fan-out close error")
	}

	log.Info().Msg("earnings session trader stopped")
}

// statusAdapter narrows *session.Orchestrator to monitor.StatusSource,
// whose State() returns a plain string rather than session.State so the
// monitor package need not import session.
type statusAdapter struct {
	orch *session.Orchestrator
}

func (a statusAdapter) State() string { return a.orch.State().String() }

// warmupHour/warmupMinute parse the "HH:MM" config value. Malformed
// input falls back to the specification's 09:35 default rather than
// erroring at startup over a cosmetic config typo.
func warmupHour(hhmm string) int {
	h, _ := parseHHMM(hhmm)
	return h
}

func warmupMinute(hhmm string) int {
	_, m := parseHHMM(hhmm)
	return m
}

func parseHHMM(hhmm string) (int, int) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 9, 35
	}
	return t.Hour(), t.Minute()
}
