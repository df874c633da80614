package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/example/box-scheduler/internal/aimharder"
	"github.com/example/box-scheduler/internal/config"
	"github.com/example/box-scheduler/internal/db"
	"github.com/example/box-scheduler/internal/executor"
	"github.com/example/box-scheduler/internal/logging"
	"github.com/example/box-scheduler/internal/migrate"
	"github.com/example/box-scheduler/internal/notify"
	"github.com/example/box-scheduler/internal/prebooking"
	"github.com/example/box-scheduler/internal/sectoken"
	"github.com/example/box-scheduler/internal/session"
	"github.com/example/box-scheduler/internal/sweep"
	"github.com/example/box-scheduler/internal/trigger"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg      config.Config
	db       *db.DB
	sessions *session.Store
	intents  *prebooking.Repo
	signer   *sectoken.Signer

	redis   *redis.Client
	broker  *trigger.AMQPBroker
	trigger *trigger.Trigger
	service *prebooking.Service

	notifySink *notify.AMQPSink
	exec       *executor.Executor
	sweeper    *sweep.Sweeper
}

func loadConfig() (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}

// openApp connects to Postgres (optionally migrating) and wires the stores.
// Broker-backed parts are added by withTrigger and withExecutor.
func openApp(ctx context.Context, cfg config.Config, migrateUp bool) (*app, error) {
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if migrateUp {
		if err := migrate.Up(ctx, d); err != nil {
			d.Close()
			return nil, err
		}
	}
	signer, err := sectoken.New(cfg.Keys.TokenKey)
	if err != nil {
		d.Close()
		return nil, err
	}
	return &app{
		cfg:      cfg,
		db:       d,
		sessions: session.NewStore(d, session.NewSealer(cfg.Keys.SealHashKey, cfg.Keys.SealBlockKey)),
		intents:  prebooking.NewRepo(d),
		signer:   signer,
	}, nil
}

func (a *app) newRedis() *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPass,
			DB:       a.cfg.RedisDB,
		})
	}
	return a.redis
}

// withTrigger wires the delayed-message broker and the creation service.
func (a *app) withTrigger() *app {
	a.broker = trigger.NewAMQPBroker(a.cfg.RabbitURL)
	a.trigger = trigger.New(a.broker, trigger.NewTombstones(a.newRedis()), a.signer, a.cfg.Timing.LeadTime)
	a.service = prebooking.NewService(a.intents, a.trigger)
	return a
}

// withExecutor wires the platform client, notifications, executor and sweep.
// Without a broker URL notifications are only logged.
func (a *app) withExecutor() *app {
	var sink notify.Sink = notify.LogSink{}
	if a.cfg.RabbitURL != "" {
		a.notifySink = notify.NewAMQPSink(a.cfg.RabbitURL)
		sink = a.notifySink
	}
	client := aimharder.New(a.cfg.AimHarderAuthURL, a.cfg.AimHarderBoxURL, a.cfg.HTTPTimeout)
	a.exec = executor.New(executor.Deps{
		Intents:   a.intents,
		Sessions:  a.sessions,
		Refresher: client,
		Booker:    client,
		Notifier:  notify.New(sink, a.cfg.OperatorEmail),
		Verifier:  a.signer,
		Clock:     executor.RealClock{},
		Timing:    a.cfg.Timing,
	})
	a.sweeper = sweep.New(a.intents, a.exec, a.cfg)
	return a
}

func (a *app) Close() {
	if a.exec != nil {
		a.exec.Wait()
	}
	if a.notifySink != nil {
		_ = a.notifySink.Close()
	}
	if a.broker != nil {
		_ = a.broker.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.db.Close()
	log.Debug().Msg("resources closed")
}
