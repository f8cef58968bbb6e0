// Package app wires configuration into a running set of services.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/bars"
	"github.com/dgnsrekt/optionflow/internal/config"
	"github.com/dgnsrekt/optionflow/internal/flow"
	"github.com/dgnsrekt/optionflow/internal/gateway"
	"github.com/dgnsrekt/optionflow/internal/gex"
	"github.com/dgnsrekt/optionflow/internal/scanner"
	"github.com/dgnsrekt/optionflow/internal/scheduler"
	"github.com/dgnsrekt/optionflow/internal/service"
	"github.com/dgnsrekt/optionflow/internal/session"
	"github.com/dgnsrekt/optionflow/internal/universe"
	"github.com/dgnsrekt/optionflow/internal/upstream"
)

// purgeInterval is how often the in-memory bar cache drops expired entries.
const purgeInterval = 10 * time.Minute

// App holds every long-lived component of a process. All upstream
// traffic goes through the one Scheduler.
type App struct {
	Config     *config.Config
	Calendar   *session.Calendar
	Scheduler  *scheduler.Scheduler
	Gateway    *gateway.Gateway
	Bars       *bars.Resolver
	Classifier *flow.Classifier
	Flow       *service.Flow
	GEX        *gex.Service

	memory  *bars.MemoryStore
	closers []func() error
	logger  *zap.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	cal, err := session.NewNYSE()
	if err != nil {
		return nil, fmt.Errorf("loading exchange calendar: %w", err)
	}
	return NewWithClient(ctx, cfg, cal, upstream.NewClient(
		cfg.API.BaseURL,
		cfg.API.APIKey,
		time.Duration(cfg.API.TimeoutSec)*time.Second,
		logger,
	), logger)
}

// NewWithClient builds the App around an existing upstream client and
// calendar.
func NewWithClient(ctx context.Context, cfg *config.Config, cal *session.Calendar, client upstream.Client, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Calendar: cal, logger: logger}

	sched, err := scheduler.New(scheduler.Config{
		MaxConcurrent:    cfg.Scheduler.MaxConcurrent,
		MinInterval:      cfg.Scheduler.MinInterval(),
		BackoffUnit:      cfg.Scheduler.BackoffUnit(),
		RateLimitRetries: cfg.Scheduler.RateLimitRetries,
		TransientRetries: cfg.Scheduler.TransientRetries,
		DefaultTimeout:   cfg.Scheduler.BulkTimeout(),
		TickInterval:     cfg.Scheduler.TickInterval(),
		Classify:         gateway.ClassifyError,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Scheduler = sched
	a.Gateway = gateway.New(client, sched, gateway.Timeouts{
		Quote: cfg.Scheduler.QuoteTimeout(),
		Bulk:  cfg.Scheduler.BulkTimeout(),
	}, logger)

	store, err := a.openStore(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	a.Bars = bars.NewResolver(store, a.Gateway, bars.ResolverConfig{
		TTL:      cfg.Cache.TTL(),
		LiveTTL:  cfg.Cache.LiveTTL(),
		Location: cal.Location(),
	}, logger)

	band := universe.Band{CallFloor: cfg.Scan.CallFloor, PutCeiling: cfg.Scan.PutCeiling}
	uni := universe.NewResolver(a.Gateway, band, cal.Location(), logger)

	sc, err := scanner.New(a.Gateway, uni, a.Bars, cal, scanner.Config{
		Workers:       cfg.Scan.Workers,
		ContractBatch: cfg.Scan.ContractBatch,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Classifier, err = flow.NewClassifier(Tiers(cfg.Tiers))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building classifier: %w", err)
	}
	combo := flow.ComboConfig{StrikeTolerance: cfg.Combo.StrikeTolerance, Window: cfg.Combo.Window()}
	if err := combo.Validate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid combo config: %w", err)
	}
	a.Flow = service.NewFlow(sc, a.Classifier, combo, logger)

	gcfg := gex.DefaultServiceConfig()
	gcfg.HorizonDays = cfg.GEX.HorizonDays
	gcfg.Walls = cfg.GEX.Walls
	gcfg.RiskFreeRate = cfg.GEX.RiskFreeRate
	gcfg.Location = cal.Location()
	a.GEX = gex.NewService(a.Gateway, a.Gateway, gcfg, logger)

	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.CacheConfig) (bars.Store, error) {
	switch cfg.Backend {
	case "redis":
		rs, err := bars.NewRedisStore(ctx, bars.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting bar cache: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		a.logger.Info("bar cache backend", zap.String("backend", "redis"), zap.String("addr", cfg.Redis.Addr))
		return rs, nil
	case "memory", "":
		a.memory = bars.NewMemoryStore()
		a.logger.Info("bar cache backend", zap.String("backend", "memory"))
		return a.memory, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Start runs the scheduler and cache maintenance until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go a.Scheduler.Run(ctx)

	if a.memory == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.memory.Purge(); n > 0 {
					a.logger.Debug("purged expired bars", zap.Int("entries", n))
				}
			}
		}
	}()
}

// Close releases external connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Tiers converts configured tiers, ordered by level, falling back to the
// built-in table when none are configured.
func Tiers(cfg []config.TierConfig) []flow.Tier {
	if len(cfg) == 0 {
		return flow.DefaultTiers()
	}
	tiers := make([]flow.Tier, len(cfg))
	for i, t := range cfg {
		tiers[i] = flow.Tier{Level: t.Level, MinPrice: t.MinPrice, MinSize: t.MinSize, MinPremium: t.MinPremium}
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Level < tiers[j].Level })
	return tiers
}
