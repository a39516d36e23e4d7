package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/config"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg        *config.Config
	mongo      *db.Mongo
	postgres   *db.Postgres
	redis      *redis.Client
	users      user.Service
	catalog    catalog.Service
	orders     order.Service
	auth       *auth.Authenticator
	reconciler *payment.Reconciler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	mongoConn, err := db.NewMongo(ctx, cfg.Mongo)
	if err != nil {
		return nil, err
	}
	a.mongo = mongoConn

	userRepo := user.NewRepository(mongoConn.Database)
	productRepo := catalog.NewRepository(mongoConn.Database)
	orderRepo := order.NewRepository(mongoConn.Database)
	if err := user.EnsureIndexes(ctx, userRepo); err != nil {
		a.close()
		return nil, err
	}
	if err := catalog.EnsureIndexes(ctx, productRepo); err != nil {
		a.close()
		return nil, err
	}
	if err := order.EnsureIndexes(ctx, orderRepo); err != nil {
		a.close()
		return nil, err
	}

	var cache catalog.Cache = catalog.NoopCache{}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, product cache disabled")
			_ = a.redis.Close()
			a.redis = nil
		} else {
			cache = catalog.NewRedisCache(a.redis, cfg.Redis.CacheTTL)
		}
	}

	a.users = user.NewService(userRepo)
	a.catalog = catalog.NewService(productRepo, cache)
	a.orders = order.NewService(orderRepo, a.catalog)

	a.auth, err = auth.NewAuthenticator(a.users, auth.Config{
		SecretKey: []byte(cfg.Auth.SecretKey),
		TokenTTL:  cfg.Auth.TokenTTL,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	journal, err := a.journal(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.reconciler = payment.NewReconciler(a.orders, journal)

	return a, nil
}

// journal uses PostgreSQL when configured. Without it the journal lives in
// memory and replays are only detected until restart.
func (a *app) journal(ctx context.Context) (payment.Journal, error) {
	if a.cfg.Payments.DatabaseURL == "" {
		log.Warn().Msg("PAYMENTS_DB_URL not set, using in-memory notification journal")
		return payment.NewMemoryJournal(), nil
	}

	pg, err := db.NewPostgres(ctx, a.cfg.Payments.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open payments database: %w", err)
	}
	a.postgres = pg
	return payment.NewPostgresJournal(pg.Pool), nil
}

func (a *app) ping(ctx context.Context) error {
	return a.mongo.Client.Ping(ctx, nil)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.mongo != nil {
		a.mongo.Close(ctx)
	}
}
