// okxagent reconciles an OKX account with an LLM trading advisor: it keeps
// an authoritative projection of positions, orders and balances, streams
// mark prices, periodically asks the advisor for decisions and executes
// them through the signed trading gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/okxtrader/agent/internal/account"
	"github.com/okxtrader/agent/internal/advisor"
	"github.com/okxtrader/agent/internal/bus"
	"github.com/okxtrader/agent/internal/config"
	"github.com/okxtrader/agent/internal/decision"
	"github.com/okxtrader/agent/internal/indicators"
	"github.com/okxtrader/agent/internal/leverage"
	"github.com/okxtrader/agent/internal/marketdata"
	"github.com/okxtrader/agent/internal/notify"
	"github.com/okxtrader/agent/internal/okxapi"
	"github.com/okxtrader/agent/internal/storage"
	"github.com/okxtrader/agent/internal/trading"
)

const version = "1.0.0"

// runTask supervises one long-lived task goroutine: a panic is logged and
// the task restarted after a short delay instead of taking down its
// siblings. Each task owns its failure boundary.
func runTask(ctx context.Context, name string, fn func(context.Context)) {
	go func() {
		for ctx.Err() == nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Str("task", name).Msg("task crashed, restarting")
					}
				}()
				fn(ctx)
			}()
			if ctx.Err() == nil {
				time.Sleep(time.Second)
			}
		}
	}()
}

// runOnceTask is runTask for one-shot work: the panic boundary without the
// restart loop.
func runOnceTask(ctx context.Context, name string, fn func(context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("task", name).Msg("task crashed")
			}
		}()
		fn(ctx)
	}()
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Strs("instruments", cfg.Instruments).
		Str("tradeMode", cfg.TradeMode).
		Msg("🚀 okxagent starting...")

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize trade ledger")
	}

	creds := okxapi.Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret, Passphrase: cfg.Passphrase}
	client := okxapi.NewClient(okxapi.BaseURLREST, creds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	commandBus := bus.New()
	state := account.NewState(commandBus)
	state.UpdateFilter(cfg.Instruments)
	levCache := leverage.NewCache()

	// REST bootstrap: seed the merged state and the leverage cache before
	// the WebSocket streams take over.
	if snapshot, err := account.FetchAccountSnapshot(ctx, client, cfg.Instruments); err != nil {
		log.Error().Err(err).Msg("account bootstrap failed, starting from an empty state")
	} else {
		state.Seed(snapshot)
		levCache.CaptureFromSnapshot(snapshot)
	}
	if markets, err := account.FetchMarketInfo(ctx, client, cfg.TradeMode, cfg.Instruments); err != nil {
		log.Error().Err(err).Msg("instrument metadata fetch failed, leverage cache starts cold")
	} else {
		levCache.SeedFromMarkets(markets)
	}

	wsClient := account.NewClient(creds, state)
	runTask(ctx, "ws-private", wsClient.RunPrivate)
	runTask(ctx, "ws-business", wsClient.RunBusiness)

	// Pre-fill the price stream from candle history so subscribers have a
	// chart to render before the first live tick arrives.
	runOnceTask(ctx, "history-bootstrap", func(ctx context.Context) {
		required := int(cfg.HistoryWindow.Minutes())
		if required < 1 {
			required = 1
		}
		for _, instID := range cfg.Instruments {
			points, err := marketdata.BootstrapHistory(ctx, client, instID, cfg.HistoryWindow, required)
			if err != nil {
				log.Warn().Err(err).Str("instId", instID).Msg("price history bootstrap failed")
				continue
			}
			for _, p := range points {
				commandBus.Send(bus.MarkPriceUpdate(p.InstID, p.Price, p.TimestampMs, p.Precision))
			}
		}
	})

	prices := marketdata.NewSubscriber(cfg.Instruments, commandBus)
	runTask(ctx, "mark-price", prices.Run)

	gateway := trading.NewGateway(client, cfg.TradeMode, commandBus)
	runTask(ctx, "trading-gateway", gateway.Run)

	// Opportunistic leverage capture from every broadcast snapshot.
	levSub := commandBus.Subscribe()
	runTask(ctx, "leverage-capture", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd, ok := <-levSub.C():
				if !ok {
					return
				}
				if cmd.Kind == bus.KindAccountSnapshot {
					levCache.CaptureFromSnapshot(cmd.Snapshot)
				}
			}
		}
	})

	storeSub := commandBus.Subscribe()
	runTask(ctx, "trade-ledger", func(ctx context.Context) {
		store.Run(ctx, storeSub)
	})

	var notifier notify.Notifier = notify.Noop{}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Error().Err(err).Msg("telegram notifier unavailable, falling back to no-op")
		} else {
			notifier = tg
		}
	}
	notifySub := commandBus.Subscribe()
	runTask(ctx, "notify-egress", func(ctx context.Context) {
		notify.Run(ctx, notifySub, notifier)
	})

	fetcher := indicators.NewFetcher(client)
	priceSource := livePriceSource{live: prices, rest: fetcher}
	executor := decision.NewExecutor(state, commandBus, cfg.Instruments, priceSource,
		gateway, levCache, store, cfg.OperatorName)
	if cfg.AdvisorAPIKey != "" {
		adv := advisor.NewClient(cfg.AdvisorEndpoint, cfg.AdvisorAPIKey, cfg.AdvisorModel,
			cfg.AdvisorSystemPrompt, advisor.JSONPromptBuilder)
		runTask(ctx, "decision-executor", func(ctx context.Context) {
			executor.Run(ctx, cfg.DecisionInterval, adv, fetcher)
		})
		log.Info().Dur("interval", cfg.DecisionInterval).Str("model", cfg.AdvisorModel).Msg("decision loop armed")
	} else {
		log.Warn().Msg("ADVISOR_API_KEY not set, decision loop disabled (account mirroring only)")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down...")
	commandBus.Send(bus.Exit())
	cancel()
}

// livePriceSource answers mark-price lookups from the WebSocket stream's
// latest observation and falls back to REST before the first tick arrives.
type livePriceSource struct {
	live *marketdata.Subscriber
	rest *indicators.Fetcher
}

func (p livePriceSource) PriceForInst(ctx context.Context, instID string) (float64, error) {
	if point, ok := p.live.Latest(instID); ok {
		return point.Price, nil
	}
	return p.rest.PriceForInst(ctx, instID)
}
