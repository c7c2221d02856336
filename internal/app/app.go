package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/alerts"
	"github.com/WangyangYe0512/Control-Simple/internal/arm"
	"github.com/WangyangYe0512/Control-Simple/internal/audit"
	"github.com/WangyangYe0512/Control-Simple/internal/autotoggle"
	"github.com/WangyangYe0512/Control-Simple/internal/basket"
	"github.com/WangyangYe0512/Control-Simple/internal/config"
	"github.com/WangyangYe0512/Control-Simple/internal/dispatch"
	"github.com/WangyangYe0512/Control-Simple/internal/ft"
	"github.com/WangyangYe0512/Control-Simple/internal/metrics"
	"github.com/WangyangYe0512/Control-Simple/internal/router"
	"github.com/WangyangYe0512/Control-Simple/internal/state"
	"github.com/WangyangYe0512/Control-Simple/internal/state/sqlite"
	"github.com/WangyangYe0512/Control-Simple/internal/stream"

	"go.uber.org/zap"
)

// chatClient is the slice of the Telegram client the app drives:
// inbound long polling and outbound replies.
type chatClient interface {
	Send(ctx context.Context, text string) error
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]alerts.Update, error)
}

// App wires the Telegram surface, the two venue clients and the
// supporting services together and runs them until shutdown.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	store  state.Store
	tg     chatClient
	router *router.Router
	prom   *metrics.Prometheus
	audit  *audit.Writer
	relays []*stream.Relay
	toggle *autotoggle.Toggle
	admins map[int64]struct{}
}

func New(cfg *config.Config, watchlist []string, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	tg := alerts.NewTelegram(cfg.Telegram, log)
	longClient := ft.New("long", cfg.Freqtrade.Long.BaseURL, cfg.Freqtrade.Long.User, cfg.Freqtrade.Long.Pass, cfg.Freqtrade.Long.Timeout, log)
	shortClient := ft.New("short", cfg.Freqtrade.Short.BaseURL, cfg.Freqtrade.Short.User, cfg.Freqtrade.Short.Pass, cfg.Freqtrade.Short.Timeout, log)
	clients := map[dispatch.Venue]*ft.Client{
		dispatch.VenueLong:  longClient,
		dispatch.VenueShort: shortClient,
	}

	pairs, err := basket.New(context.Background(), watchlist, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("basket: %w", err)
	}

	gate := arm.NewGate(cfg.Telegram.RequireArmValue(), cfg.Telegram.ArmTTL())
	defaults := dispatch.Defaults{
		Delay:        cfg.Defaults.Delay(),
		PollTimeout:  cfg.Defaults.PollTimeout(),
		PollInterval: cfg.Defaults.PollInterval(),
	}
	dispatcher := dispatch.NewDispatcher(map[dispatch.Venue]dispatch.VenueClient{
		dispatch.VenueLong:  longClient,
		dispatch.VenueShort: shortClient,
	}, dispatch.NewLeases(), m, log)

	rt := router.New(router.Config{
		Admins:   cfg.Telegram.Admins,
		Gate:     gate,
		Basket:   pairs,
		Executor: dispatcher,
		Venues: map[dispatch.Venue]router.VenueReader{
			dispatch.VenueLong:  longClient,
			dispatch.VenueShort: shortClient,
		},
		Defaults:     defaults,
		DefaultStake: cfg.Defaults.Stake,
		KV:           store,
		Metrics:      m,
		Log:          log,
	})

	auditWriter, err := audit.New(cfg.Audit, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("audit: %w", err)
	}

	var relays []*stream.Relay
	for venue, instance := range map[string]config.InstanceConfig{
		"long":  cfg.Freqtrade.Long,
		"short": cfg.Freqtrade.Short,
	} {
		if instance.WSToken == "" {
			continue
		}
		relay, err := stream.NewRelay(venue, instance.BaseURL, instance.WSToken, 5*time.Second, tg, log)
		if err != nil {
			_ = store.Close()
			_ = auditWriter.Close()
			return nil, fmt.Errorf("stream %s: %w", venue, err)
		}
		relays = append(relays, relay)
	}

	var toggle *autotoggle.Toggle
	if cfg.AutoToggle.Enabled {
		source := clients[dispatch.Venue(cfg.AutoToggle.Venue)]
		toggle = autotoggle.New(cfg.AutoToggle, source, dispatcher, defaults, store, tg, m, log)
	}

	admins := make(map[int64]struct{}, len(cfg.Telegram.Admins))
	for _, id := range cfg.Telegram.Admins {
		admins[id] = struct{}{}
	}

	return &App{
		cfg:    cfg,
		log:    log,
		store:  store,
		tg:     tg,
		router: rt,
		prom:   prom,
		audit:  auditWriter,
		relays: relays,
		toggle: toggle,
		admins: admins,
	}, nil
}

// Run starts the background services and blocks in the Telegram update
// loop until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if a.prom != nil {
		a.serveMetrics(ctx)
	}
	a.audit.Start(ctx)
	for _, relay := range a.relays {
		go func(relay *stream.Relay) {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stream relay stopped", zap.Error(err))
			}
		}(relay)
	}
	if a.toggle != nil {
		go func() {
			if err := a.toggle.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("auto-toggle stopped", zap.Error(err))
			}
		}()
	}

	a.log.Info("control bot started",
		zap.Int64("chat_id", a.cfg.Telegram.ChatID),
		zap.Int("admins", len(a.cfg.Telegram.Admins)),
		zap.Bool("require_arm", a.cfg.Telegram.RequireArmValue()),
	)
	a.updateLoop(ctx)
	return ctx.Err()
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	go func() {
		a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func (a *App) close() {
	if err := a.audit.Close(); err != nil {
		a.log.Warn("audit close failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close failed", zap.Error(err))
	}
}
