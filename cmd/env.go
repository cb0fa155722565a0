package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/capture"
	"github.com/sells-group/leadsync/internal/config"
	"github.com/sells-group/leadsync/internal/dispatch"
	"github.com/sells-group/leadsync/internal/distlock"
	"github.com/sells-group/leadsync/internal/engine"
	"github.com/sells-group/leadsync/internal/funnel"
	"github.com/sells-group/leadsync/internal/gate"
	"github.com/sells-group/leadsync/internal/normalize"
	"github.com/sells-group/leadsync/internal/resilience"
	"github.com/sells-group/leadsync/internal/resolve"
	"github.com/sells-group/leadsync/internal/store"
	"github.com/sells-group/leadsync/pkg/meta"
)

// appEnv holds the store and services needed by serve and stage.
type appEnv struct {
	Store   store.LeadStore
	Engine  *engine.Engine
	Capture *capture.Service
	Sender  *dispatch.Sender
	locker  distlock.Locker
	redis   *redis.Client // nil when locks are in-process
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Ping checks the store and, when it is remote, the dispatch locker.
func (e *appEnv) Ping(ctx context.Context) error {
	if err := e.Store.Ping(ctx); err != nil {
		return err
	}
	if p, ok := e.locker.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// CircuitState reports the sink circuit. Without a sender it is closed.
func (e *appEnv) CircuitState() resilience.CircuitState {
	if e.Sender == nil {
		return resilience.CircuitClosed
	}
	return e.Sender.CircuitState()
}

func initStore(ctx context.Context) (store.LeadStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadsync.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates config for mode, opens the store and wires the engine.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	fn, err := buildFunnel(cfg.Stages)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.locker, env.redis = buildLocker(cfg.Redis)

	phone := normalize.PhoneRules{
		CountryCode:    cfg.Normalize.CountryCode,
		NationalLength: cfg.Normalize.NationalLength,
		SuffixLength:   cfg.Normalize.SuffixLength,
	}

	env.Sender = dispatch.NewSender(buildMetaClient(cfg.Meta), resilience.FromCircuitConfig(
		cfg.Dispatch.CircuitFailureThreshold,
		cfg.Dispatch.CircuitResetSecs,
	))

	env.Engine = engine.New(engine.Deps{
		Store:  st,
		Funnel: fn,
		Resolver: resolve.New(st, resolve.Config{
			MaxAttempts:  cfg.Resolution.MaxAttempts,
			RetryDelay:   cfg.Resolution.RetryDelay,
			RescueWindow: cfg.Resolution.RescueWindow,
			NameRescue:   cfg.Resolution.NameRescue,
		}),
		Gate: gate.New(gate.Config{StaleAfter: cfg.Gate.StaleAfter}),
		Builder: dispatch.NewBuilder(dispatch.BuilderConfig{
			LeadEventSource: cfg.Dispatch.LeadEventSource,
			Currency:        cfg.Dispatch.Currency,
			ConversionValue: cfg.Dispatch.ConversionValue,
		}),
		Sender: env.Sender,
		Locker: env.locker,
		Phone:  phone,
	})

	env.Capture = capture.New(st, capture.Config{
		DedupWindow: cfg.Capture.DedupWindow,
		Platform:    cfg.Capture.Platform,
		FormName:    cfg.Capture.FormName,
	})

	return env, nil
}

// buildFunnel converts the configured stage table. An empty table keeps the
// built-in stages.
func buildFunnel(sc config.StagesConfig) (*funnel.Funnel, error) {
	stages := funnel.DefaultStages()
	if len(sc.Table) > 0 {
		stages = make([]funnel.Stage, 0, len(sc.Table))
		for _, s := range sc.Table {
			stages = append(stages, funnel.Stage{Tag: s.Tag, Event: s.Event, Status: s.Status, Website: s.Website})
		}
	}
	entry := sc.Entry
	if entry == "" {
		entry = funnel.DefaultEntryTag
	}
	policy := funnel.UnmappedPolicy(sc.UnmappedPolicy)
	if policy == "" {
		policy = funnel.UnmappedDrop
	}

	fn, err := funnel.New(stages, entry, policy)
	if err != nil {
		return nil, eris.Wrap(err, "build funnel")
	}
	return fn, nil
}

// buildLocker returns a Redis-backed locker when an address is configured.
func buildLocker(rc config.RedisConfig) (distlock.Locker, *redis.Client) {
	if rc.Addr == "" {
		zap.L().Debug("redis not configured, using in-process dispatch locks")
		return distlock.NewLocal(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	zap.L().Info("redis dispatch locks enabled", zap.String("addr", rc.Addr))
	return distlock.NewRedis(rdb, rc.LockTTL), rdb
}

func buildMetaClient(mc config.MetaConfig) meta.Client {
	opts := []meta.Option{
		meta.WithRateLimit(mc.RateLimit),
		meta.WithTimeout(mc.Timeout),
	}
	if mc.BaseURL != "" {
		opts = append(opts, meta.WithBaseURL(mc.BaseURL))
	}
	if mc.APIVersion != "" {
		opts = append(opts, meta.WithAPIVersion(mc.APIVersion))
	}
	if mc.TestEventCode != "" {
		opts = append(opts, meta.WithTestEventCode(mc.TestEventCode))
	}
	return meta.NewClient(mc.PixelID, mc.AccessToken, opts...)
}
