package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"alert-trader/internal/alerting"
	"alert-trader/internal/config"
	"alert-trader/internal/exchange"
	"alert-trader/internal/logging"
	"alert-trader/internal/metrics"
	"alert-trader/internal/server"
	"alert-trader/internal/service"
	"alert-trader/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// runtime holds what one command wired up and must release.
type runtime struct {
	svc     *service.Service
	store   *storage.Store
	mirror  *storage.CacheMirror
	metrics *metrics.Metrics
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

type buildOptions struct {
	paper   bool
	notify  bool
	// offline skips postgres and redis so nothing is persisted.
	offline bool
	config  *config.Config
}

func (a *App) newExchange(paper bool) exchange.Capability {
	cfg := a.Config.Exchange
	binance := exchange.NewBinance(exchange.BinanceOptions{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		RecvWindow: cfg.RecvWindow,
		Timeout:    cfg.RequestTimeout,
		UserAgent:  cfg.UserAgent,
	}, a.Logger)
	if paper || cfg.DryRun {
		return exchange.NewPaper(binance)
	}
	return binance
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	tg := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	return alerting.NewStatusFilter(tg, a.Config.Alerting.Statuses)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, error) {
	if !a.Config.Database.Enabled() {
		return nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}

	store := storage.NewStore(pool, a.Config.OrderLog.Retention)
	if dir := a.Config.Database.MigrationsPath; dir != "" {
		if err := store.Migrate(ctx, dir); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func (a *App) openMirror(ctx context.Context) (*storage.CacheMirror, func(), error) {
	if !a.Config.Redis.Enabled {
		return nil, nil, nil
	}
	rdb, err := storage.NewRedisClient(ctx, a.Config.Redis)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := rdb.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	return storage.NewCacheMirror(rdb, a.Config.OrderLog.Capacity), closer, nil
}

// build wires the service with whatever persistence the configuration enables.
func (a *App) build(ctx context.Context, opts buildOptions) (*runtime, error) {
	cfg := opts.config
	if cfg == nil {
		cfg = a.Config
	}
	rt := &runtime{metrics: metrics.New()}
	deps := service.Deps{
		Config:   cfg,
		Exchange: a.newExchange(opts.paper),
		Metrics:  rt.metrics,
		Logger:   a.Logger,
	}
	if opts.notify {
		if n := a.newNotifier(); n != nil {
			deps.Notifier = n
		}
	}

	if opts.offline {
		svc, err := service.New(deps)
		if err != nil {
			return nil, err
		}
		rt.svc = svc
		return rt, nil
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		rt.store = store
		rt.closers = append(rt.closers, store.Close)
		deps.Sinks = append(deps.Sinks, service.NamedSink{Name: "postgres", Sink: store})
		deps.History = store
		deps.Locker = store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; durable order log and refresh lock disabled")
	}

	mirror, closeMirror, err := a.openMirror(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if mirror != nil {
		rt.mirror = mirror
		rt.closers = append(rt.closers, closeMirror)
		deps.Sinks = append(deps.Sinks, service.NamedSink{Name: "redis", Sink: mirror})
		deps.Mirror = mirror
		if deps.History == nil {
			deps.History = mirror
		}
	}

	svc, err := service.New(deps)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.svc = svc
	return rt, nil
}

// Run executes the long-running webhook service.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateTrading(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopProfiling, err := startProfiling(a.Config.Profiling, a.Logger)
	if err != nil {
		return err
	}
	defer stopProfiling()

	rt, err := a.build(ctx, buildOptions{notify: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := rt.svc
	svc.Warm(ctx)

	srv := server.New(server.OptionsFromConfig(a.Config), svc, rt.metrics.Handler(), a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return svc.RunRefreshers(gctx) })

	if a.Config.Stream.Enabled {
		sc := a.Config.Stream
		stream := exchange.NewPriceStream(exchange.StreamOptions{
			URL:        sc.URL,
			Symbols:    a.Config.Trading.AllowedSymbols,
			Throttle:   sc.Throttle,
			StaleAfter: sc.StaleAfter,
			MaxBackoff: sc.MaxBackoff,
		}, svc.StreamSink(), a.Logger)
		stream.OnUpdate(func(symbol string, mid decimal.Decimal, _ time.Time) {
			a.Logger.Trace().Str("symbol", symbol).Str("mid", mid.String()).Msg("stream price")
		})
		g.Go(func() error {
			err := stream.Run(gctx)
			a.Logger.Info().Time("last_message", stream.LastMessage()).Msg("price stream stopped")
			return err
		})
	} else {
		a.Logger.Info().Msg("price stream disabled; prices follow the periodic refresh only")
	}

	a.Logger.Info().
		Bool("dry_run", a.Config.Exchange.DryRun).
		Int("symbols", len(a.Config.Trading.AllowedSymbols)).
		Msg("starting alert trader")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert trader stopped")
	return nil
}

// ExportOptions hold parameters for exporting the order history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	XLSXPath  string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Cache bool
}

// RefreshOptions select the stores the refresh command updates.
type RefreshOptions struct {
	Stores []string
}

// SimulateOptions configure a dry sizing run of one alert.
type SimulateOptions struct {
	PayloadPath string
	Payload     string
	Balances    map[string]string
	Notify      bool
}
