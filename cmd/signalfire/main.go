package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	signalfire "github.com/signal-fire/client-go"
	"github.com/signal-fire/client-go/internal/config"
	"github.com/signal-fire/client-go/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "signalfire",
		Short:        "Signal-Fire signaling client",
		Long:         "Connect to a Signal-Fire signaling server and relay peer negotiation messages.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}
}

func connectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a signaling server and log inbound events",
		RunE:  runConnect,
	}
	cmd.Flags().String("config", "signalfire.yaml", "path to config file")
	return cmd
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	slog.SetDefault(logger)

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("starting signalfire client",
		"version", version.Version,
		"server", cfg.Server.URL,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	clientCfg := signalfire.DefaultConfig()
	clientCfg.ReconnectOnClose = cfg.Reconnect.OnClose
	clientCfg.ReconnectOnError = cfg.Reconnect.OnErrorEnabled()
	clientCfg.ReconnectInterval = cfg.Reconnect.Interval
	clientCfg.ReconnectAttempts = cfg.Reconnect.AttemptCount()
	clientCfg.HandshakeTimeout = cfg.Server.HandshakeTimeout
	clientCfg.WriteTimeout = cfg.Server.WriteTimeout
	clientCfg.PingInterval = cfg.Server.PingInterval
	clientCfg.MetricsRegistry = reg
	clientCfg.Events = signalfire.Events{
		OnStateChange: func(old, next signalfire.ConnectionState) {
			logger.Info("connection state changed", "from", old, "to", next)
		},
		OnDescription: func(ev signalfire.DescriptionEvent) {
			logger.Info("description received", "origin", ev.Origin, "bytes", len(ev.Description))
		},
		OnCandidate: func(ev signalfire.CandidateEvent) {
			logger.Info("candidate received", "origin", ev.Origin, "bytes", len(ev.Candidate))
		},
		OnCommand: func(ev signalfire.CommandEvent) {
			logger.Info("command received", "cmd", ev.Cmd, "origin", ev.Message.Origin)
		},
		OnError: func(err error) {
			logger.Warn("client error", "error", err)
		},
	}

	client := signalfire.New(clientCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		g.Go(func() error {
			return serveMetrics(gctx, ln, reg, logger)
		})
	}

	g.Go(func() error {
		if err := client.Connect(gctx, cfg.Server.URL); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		logger.Info("connected", "id", client.ID())

		<-gctx.Done()

		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Close(closeCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shut down")
	return nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	levelName, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveMetrics exposes Prometheus metrics at /metrics until ctx is
// cancelled, then shuts down gracefully.
func serveMetrics(ctx context.Context, ln net.Listener, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", ln.Addr())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
