package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	mongoarchive "github.com/tripcrew/tripcrew/features/archive/mongo"
	clientsmongo "github.com/tripcrew/tripcrew/features/archive/mongo/clients/mongo"
	"github.com/tripcrew/tripcrew/features/fetch/exchangerate"
	"github.com/tripcrew/tripcrew/features/fetch/openmeteo"
	"github.com/tripcrew/tripcrew/features/fetch/serper"
	"github.com/tripcrew/tripcrew/features/model/anthropic"
	"github.com/tripcrew/tripcrew/features/model/bedrock"
	"github.com/tripcrew/tripcrew/features/model/middleware"
	"github.com/tripcrew/tripcrew/features/model/openai"
	pulsesink "github.com/tripcrew/tripcrew/features/stream/pulse"
	clientspulse "github.com/tripcrew/tripcrew/features/stream/pulse/clients/pulse"
	"github.com/tripcrew/tripcrew/runtime/planner/agent"
	"github.com/tripcrew/tripcrew/runtime/planner/archive"
	archiveinmem "github.com/tripcrew/tripcrew/runtime/planner/archive/inmem"
	"github.com/tripcrew/tripcrew/runtime/planner/hooks"
	"github.com/tripcrew/tripcrew/runtime/planner/model"
	"github.com/tripcrew/tripcrew/runtime/planner/orchestrator"
	sessioninmem "github.com/tripcrew/tripcrew/runtime/planner/session/inmem"
	"github.com/tripcrew/tripcrew/runtime/planner/telemetry"
	"github.com/tripcrew/tripcrew/runtime/planner/trip"
)

const budgetMapName = "tripcrew-model-budget"

// app holds the wired components and the resources to release on exit.
type app struct {
	orch    *orchestrator.Orchestrator
	pingers []health.Pinger
	closers []func(context.Context) error
}

// build wires the orchestrator and its backends from cfg.
func build(ctx context.Context, cfg *Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()
	tel := telemetry.Clue()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if rdb, err = newRedis(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		a.pingers = append(a.pingers, redisPinger{rdb})
	}

	client, err := newModelClient(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	limiter := model.NewRateLimiter(cfg.Model.TPM, cfg.Model.TPM)
	if rdb != nil {
		m, err := rmap.Join(ctx, budgetMapName, rdb)
		if err != nil {
			return nil, fmt.Errorf("join budget map: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { m.Close(); return nil })
		limiter = middleware.ShareBudget(ctx, limiter, m, cfg.Model.Provider+"/"+cfg.Model.Name)
	}
	stageAgent := agent.NewReAct(limiter.Wrap(client),
		agent.WithTemperature(cfg.Model.Temperature),
		agent.WithLogger(tel.Logger))

	caps, err := newCapabilities(cfg, rdb, tel.Logger)
	if err != nil {
		return nil, err
	}

	var store archive.Store = archiveinmem.New()
	if cfg.Mongo.URI != "" {
		ms, err := newMongoArchive(ctx, cfg.Mongo, a)
		if err != nil {
			return nil, err
		}
		store = ms
		a.pingers = append(a.pingers, ms)
	}

	bus := hooks.NewBus()
	if rdb != nil {
		pc, err := clientspulse.New(clientspulse.Options{Redis: rdb, MaxLen: 1000, AddTimeout: 5 * time.Second, TTL: cfg.Session.TTL})
		if err != nil {
			return nil, fmt.Errorf("pulse client: %w", err)
		}
		sink, err := pulsesink.NewSink(pulsesink.Options{Client: pc})
		if err != nil {
			return nil, fmt.Errorf("pulse sink: %w", err)
		}
		sub, err := bus.Register(sink)
		if err != nil {
			return nil, fmt.Errorf("register pulse sink: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return sub.Close() }, sink.Close)
	}
	if _, err := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, ev hooks.Event) error {
		log.Debug(ctx, log.KV{K: "event", V: string(ev.Type)}, log.KV{K: "session_id", V: ev.SessionID}, log.KV{K: "status", V: ev.Status})
		return nil
	})); err != nil {
		return nil, fmt.Errorf("register event logger: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Store:            sessioninmem.New(),
		Agent:            stageAgent,
		Capabilities:     caps,
		Telemetry:        tel,
		Bus:              bus,
		Archive:          store,
		AnswerTimeout:    cfg.Session.AnswerTimeout,
		SessionTTL:       cfg.Session.TTL,
		ReapInterval:     cfg.Session.ReapInterval,
		RecoverByKeyword: cfg.Session.RecoverByKeyword,
		DefaultYear:      cfg.Planner.DefaultYear,
	})
	if err != nil {
		return nil, err
	}
	a.orch = orch
	return a, nil
}

// close releases resources in reverse acquisition order, after the
// orchestrator has drained its turns.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.orch != nil {
		errs = append(errs, a.orch.Close(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func newModelClient(cfg ModelConfig) (model.Client, error) {
	switch cfg.Provider {
	case "anthropic":
		c, err := anthropic.NewFromAPIKey(cfg.APIKey, anthropic.Options{
			Model:       cfg.Name,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "openai":
		c, err := openai.NewFromAPIKey(cfg.APIKey, cfg.BaseURL, cfg.Name)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "bedrock":
		awsCfg := bedrock.StaticConfig(cfg.Region,
			os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"), os.Getenv("AWS_SESSION_TOKEN"))
		c, err := bedrock.NewFromConfig(awsCfg, bedrock.Options{
			DefaultModel: cfg.Name,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}

func newCapabilities(cfg *Config, rdb *redis.Client, logger telemetry.Logger) (trip.Capabilities, error) {
	weather := openmeteo.New()
	fxOpts := []exchangerate.Option{exchangerate.WithLogger(logger)}
	if rdb != nil {
		cache, err := exchangerate.NewRedisCache(rdb, "tripcrew:")
		if err != nil {
			return trip.Capabilities{}, fmt.Errorf("fx cache: %w", err)
		}
		fxOpts = append(fxOpts, exchangerate.WithCache(cache))
	}
	caps := trip.Capabilities{
		Geocoder:    weather,
		Forecaster:  weather,
		Rates:       exchangerate.New(fxOpts...),
		SearchLimit: cfg.Planner.SearchLimit,
	}
	if cfg.Search.APIKey != "" {
		s, err := serper.New(cfg.Search.APIKey, serper.WithRatePerMinute(cfg.Search.RatePerMinute))
		if err != nil {
			return trip.Capabilities{}, fmt.Errorf("search client: %w", err)
		}
		caps.Searcher = s
	}
	return caps, nil
}

func newRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

func newMongoArchive(ctx context.Context, cfg MongoConfig, a *app) (*mongoarchive.Store, error) {
	mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	a.closers = append(a.closers, mc.Disconnect)
	c, err := clientsmongo.New(clientsmongo.Options{Client: mc, Database: cfg.Database})
	if err != nil {
		return nil, fmt.Errorf("mongo archive: %w", err)
	}
	s, err := mongoarchive.NewStore(c)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pctx); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return s, nil
}

type redisPinger struct{ rdb *redis.Client }

func (redisPinger) Name() string { return "redis" }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
