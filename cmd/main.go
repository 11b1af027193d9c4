package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pelusa-v/chatsync/internal/chat"
	"github.com/pelusa-v/chatsync/internal/config"
	"github.com/pelusa-v/chatsync/internal/handlers"
	"github.com/pelusa-v/chatsync/internal/logging"
	"github.com/pelusa-v/chatsync/internal/relay"
	"github.com/pelusa-v/chatsync/internal/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "chatsync",
		Short:         "Real-time chat synchronization client and reference relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (env "+config.PathEnvVar+")")
	root.AddCommand(serveCmd(), watchCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		logging.Error().Err(err).Msg("chatsync failed")
		os.Exit(1)
	}
}

func load() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}

func openHistory(cfg config.RelayConfig) (store.History, error) {
	if cfg.Store == "pebble" {
		return store.OpenPebble(cfg.DataDir, nil)
	}
	return store.NewMemory(), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket relay and HTTP collaborator endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			history, err := openHistory(cfg.Relay)
			if err != nil {
				return err
			}
			defer history.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := relay.NewHub(cfg.Relay.Seed(), history)
			go hub.Run(ctx)

			app := handlers.NewApp(hub)
			errCh := make(chan error, 1)
			go func() { errCh <- app.Listen(cfg.Relay.Listen) }()
			logging.Info().Str("listen", cfg.Relay.Listen).Str("store", cfg.Relay.Store).Msg("relay started")

			select {
			case err := <-errCh:
				return fmt.Errorf("relay listener: %w", err)
			case <-ctx.Done():
			}
			logging.Info().Msg("shutting down relay")
			return app.ShutdownWithTimeout(5 * time.Second)
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Connect as the configured user and log roster, message and typing updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			sess, err := chat.New(cfg.Client, chat.LogRenderer{}, chat.Deps{})
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := sess.Connect(ctx); err != nil {
				return err
			}
			if err := sess.RefreshDirectory(ctx); err != nil {
				logging.Warn().Err(err).Msg("directory refresh failed")
			}
			<-ctx.Done()
			return nil
		},
	}
}
