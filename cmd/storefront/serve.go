package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	handler "github.com/vasiliy-maslov/storefront/internal/handler/http"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newServeCmd() *cobra.Command {
	var withConsumer bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info().Msg("Storefront starting...")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			router := handler.NewRouter(handler.Deps{
				Auth:          a.auth,
				Users:         a.users,
				Catalog:       a.catalog,
				Orders:        a.orders,
				Reconciler:    a.reconciler,
				WebhookSecret: cfg.Payments.WebhookSecret,
				Ping:          a.ping,
			})
			if cfg.Payments.WebhookSecret == "" {
				log.Warn().Msg("PAYMENT_WEBHOOK_SECRET not set, webhook deliveries will be rejected")
			}

			server := &http.Server{
				Addr:         ":" + cfg.App.Port,
				Handler:      otelhttp.NewHandler(router, "storefront"),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			if withConsumer && len(cfg.Payments.KafkaBrokers) > 0 {
				consumer := payment.NewConsumer(a.reconciler, cfg.Payments.KafkaTopic, cfg.Payments.KafkaGroupID, cfg.Payments.KafkaBrokers...)
				stopConsumer := consumer.Start(ctx)
				defer stopConsumer()
			}

			serverErr := make(chan error, 1)
			go func() {
				log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case err := <-serverErr:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}

			log.Info().Msg("HTTP server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&withConsumer, "consume", true, "also consume payment notifications from Kafka when brokers are configured")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Consume payment notifications from Kafka without serving HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Payments.KafkaBrokers) == 0 {
				return errors.New("KAFKA_BROKERS is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			consumer := payment.NewConsumer(a.reconciler, cfg.Payments.KafkaTopic, cfg.Payments.KafkaGroupID, cfg.Payments.KafkaBrokers...)
			defer consumer.Close()
			consumer.Run(ctx)
			return nil
		},
	}
}
