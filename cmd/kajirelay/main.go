// Command kajirelay connects to a remote opencode-style session service
// and relays its events to registered channel consumers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/Shakudo-io/kaji-opencode-relay/client"
	"github.com/Shakudo-io/kaji-opencode-relay/policy"
	"github.com/Shakudo-io/kaji-opencode-relay/router"
	"github.com/Shakudo-io/kaji-opencode-relay/store"
)

func main() {
	var (
		configPath string
		endpoint   string
		listen     string
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "kajirelay",
		Short:        "Relay opencode session events to channel consumers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if endpoint != "" {
				cfg.Endpoint = endpoint
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to yaml config file")
	root.Flags().StringVar(&endpoint, "endpoint", "", "remote service base URL")
	root.Flags().StringVar(&listen, "listen", "", "health/status listen address")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	parsed, err := charmlog.ParseLevel(level)
	if err != nil {
		parsed = charmlog.InfoLevel
	}
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           parsed,
		ReportTimestamp: true,
	})
	return slog.New(handler)
}

func run(ctx context.Context, cfg config) error {
	logger := newLogger(cfg.LogLevel)

	var engine *policy.Engine
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("failed to read policy file: %w", err)
		}
		engine, err = policy.NewEngine(ctx, string(data))
		if err != nil {
			return err
		}
	}

	cl, err := client.New(client.Options{
		Endpoint:      cfg.Endpoint,
		Directory:     cfg.Directory,
		BatchInterval: time.Duration(cfg.BatchInterval),
		Logger:        logger.With("component", "client"),
	})
	if err != nil {
		return err
	}

	st := store.New(store.Options{
		Fetcher: cl.Remote(),
		Logger:  logger.With("component", "store"),
	})
	cl.SubscribeBatches(st.Apply)
	cl.SubscribeStatus(func(s client.Status) {
		switch s.Kind {
		case client.StatusError:
			logger.Warn("connection error", "error", s.Err)
		case client.StatusReconnecting:
			logger.Info("reconnecting", "attempt", s.Attempt)
		default:
			logger.Info("connection status", "status", s.Kind)
		}
	})

	rt, err := router.New(router.Options{
		Service:          cl,
		Store:            st,
		RoundTripTimeout: time.Duration(cfg.RoundTripTimeout),
		Policy:           engine,
		Logger:           logger.With("component", "router"),
	})
	if err != nil {
		return err
	}
	rt.Register(&consoleConsumer{log: logger.With("component", "console"), autoApprove: cfg.AutoApprove})

	if err := rt.Initialize(ctx); err != nil {
		return err
	}
	if err := cl.Connect(ctx); err != nil {
		return err
	}
	if err := st.Bootstrap(ctx); err != nil {
		logger.Warn("initial bootstrap failed, continuing", "error", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"store":    st.Status(),
			"sessions": len(st.Sessions()),
		})
	})
	go func() {
		if err := e.Start(cfg.Listen); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
		}
	}()

	logger.Info("relay started", "endpoint", cfg.Endpoint, "listen", cfg.Listen)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.Shutdown(shutdownCtx)
	cl.Disconnect()
	rt.Shutdown(shutdownCtx)
	return nil
}
