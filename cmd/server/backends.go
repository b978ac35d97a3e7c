package main

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/campuschat/internal/identity"
	"github.com/Tyrowin/campuschat/internal/server"
	"github.com/Tyrowin/campuschat/internal/store"
)

// redisStreamMaxLen caps each conversation stream.
const redisStreamMaxLen = 10000

type backends struct {
	verifier  identity.Verifier
	directory identity.Directory
	messages  store.MessageLog
	closers   []func()
}

// Close releases backends in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *server.Config, log *zap.Logger) (*backends, error) {
	verifier, err := identity.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, errors.Wrap(err, "JWT_SECRET")
	}
	b := &backends{verifier: verifier}

	if err := b.openStore(ctx, cfg, log); err != nil {
		b.Close()
		return nil, err
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name("campuschat"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn("NATS disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			}),
		)
		if err != nil {
			b.Close()
			return nil, errors.Wrap(err, "connect NATS")
		}
		b.closers = append(b.closers, func() { _ = nc.Drain() })
		b.messages = store.NewNotifyingLog(b.messages, nc, cfg.NATSSubject, log.Named("notify"))
		log.Info("publishing message events", zap.String("subject", cfg.NATSSubject))
	}
	return b, nil
}

func (b *backends) seedDirectory(cfg *server.Config) error {
	users, err := identity.ParseSeedUsers(cfg.SeedUsers)
	if err != nil {
		return errors.Wrap(err, "SEED_USERS")
	}
	b.directory = identity.NewMemoryDirectory(users...)
	return nil
}

func (b *backends) openStore(ctx context.Context, cfg *server.Config, log *zap.Logger) error {
	log = log.With(zap.String("store", cfg.StoreDriver))

	switch cfg.StoreDriver {
	case server.DriverMemory:
		b.messages = store.NewMemoryLog()
		if err := b.seedDirectory(cfg); err != nil {
			return err
		}

	case server.DriverPostgres:
		pool, err := store.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, pool.Close)
		if err := store.EnsurePostgresSchema(ctx, pool); err != nil {
			return err
		}
		b.messages = store.NewPostgresLog(pool)
		b.directory = store.NewPostgresDirectory(pool)

	case server.DriverMongo:
		client, err := store.OpenMongo(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})
		db := client.Database(cfg.MongoDatabase)
		messages := store.NewMongoLog(db)
		if err := messages.EnsureIndexes(ctx); err != nil {
			return err
		}
		b.messages = messages
		b.directory = store.NewMongoDirectory(db)

	case server.DriverRedis:
		rdb, err := store.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		b.messages = store.NewRedisLog(rdb, redisStreamMaxLen)
		if err := b.seedDirectory(cfg); err != nil {
			return err
		}

	default:
		return errors.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	log.Info("message store ready")
	return nil
}
