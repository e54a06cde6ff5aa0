package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dukkani/dukkani/internal/app"
	"github.com/dukkani/dukkani/internal/config"
	"github.com/dukkani/dukkani/internal/telegram"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runtime struct {
	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	rt := &runtime{}
	var configFile string

	root := &cobra.Command{
		Use:           "dukkani",
		Short:         "Storefront backend: orders, catalog and the Telegram bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			log, err := app.NewLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.log = log
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "json", "log format: json|console")
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(newServeCmd(v, rt), newMigrateCmd(rt), newSetWebhookCmd(rt))
	return root
}

func newServeCmd(v *viper.Viper, rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}
	cmd.Flags().String("http-addr", ":8080", "HTTP listen address")
	cmd.Flags().String("grpc-addr", ":50051", "gRPC listen address, empty to disable")
	v.BindPFlag("http.addr", cmd.Flags().Lookup("http-addr"))
	v.BindPFlag("grpc.addr", cmd.Flags().Lookup("grpc-addr"))
	return cmd
}

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate(cmd.Context(), rt.cfg.Database, rt.log)
		},
	}
}

func newSetWebhookCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "set-webhook",
		Short: "Register telegram.webhook_url with the Bot API",
		RunE: func(cmd *cobra.Command, args []string) error {
			tg := rt.cfg.Telegram
			if tg.Token == "" || tg.WebhookURL == "" {
				return errors.New("telegram.token and telegram.webhook_url are required")
			}

			client := telegram.NewClient(tg.Token, telegram.WithAPIURL(tg.APIURL), telegram.WithLogger(rt.log))
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			if err := client.SetWebhook(ctx, tg.WebhookURL, tg.WebhookSecret); err != nil {
				return fmt.Errorf("set webhook: %w", err)
			}
			rt.log.Info().Str("url", tg.WebhookURL).Msg("webhook registered")
			return nil
		},
	}
}
