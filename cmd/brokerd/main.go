// Command brokerd runs the topic publish/subscribe broker.
//
// Settings come from the environment (optionally seeded from a dotenv
// file); flags given on the command line override them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Thejuampi/minibroker/broker"
	"github.com/Thejuampi/minibroker/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// settings is everything brokerd reads from the environment.
type settings struct {
	Broker  broker.Config
	Logging logging.Config
}

type cliFlags struct {
	envFile string

	addr          string
	admin         string
	readBuf       int
	writeBuf      int
	outDepth      int
	noDelay       bool
	logConn       bool
	statsInterval time.Duration
	closeLinger   time.Duration

	logLevel  string
	logFormat string
	logFile   string
}

func newRootCmd() *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:           "brokerd",
		Short:         "Topic publish/subscribe broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd, flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	bindFlags(cmd, &flags)
	return cmd
}

func bindFlags(cmd *cobra.Command, flags *cliFlags) {
	fs := cmd.Flags()
	fs.StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	fs.StringVar(&flags.addr, "addr", "", "broker listen address (env BROKER_ADDR)")
	fs.StringVar(&flags.admin, "admin", "", "admin API, metrics and WebSocket listen address (env BROKER_ADMIN_ADDR)")
	fs.IntVar(&flags.readBuf, "read-buf", 0, "bytes read per request (env BROKER_READ_BUFFER)")
	fs.IntVar(&flags.writeBuf, "write-buf", 0, "per-connection write buffer size (env BROKER_WRITE_BUFFER)")
	fs.IntVar(&flags.outDepth, "out-depth", 0, "per-connection outbound queue depth (env BROKER_OUT_DEPTH)")
	fs.BoolVar(&flags.noDelay, "nodelay", true, "set TCP_NODELAY (env BROKER_NODELAY)")
	fs.BoolVar(&flags.logConn, "log-conn", true, "log connect/disconnect events (env BROKER_LOG_CONN)")
	fs.DurationVar(&flags.statsInterval, "stats-interval", 0, "periodic stats log interval, 0 disables (env BROKER_STATS_INTERVAL)")
	fs.DurationVar(&flags.closeLinger, "close-linger", 0, "time allowed to flush output to a closing peer (env BROKER_CLOSE_LINGER)")
	fs.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	fs.StringVar(&flags.logFormat, "log-format", "", "console or json (env LOG_FORMAT)")
	fs.StringVar(&flags.logFile, "log-file", "", "also write JSON logs to this rotating file (env LOG_FILE)")
}

// loadSettings parses the environment and applies the flags the user set.
func loadSettings(cmd *cobra.Command, flags cliFlags) (settings, error) {
	var cfg settings
	if err := broker.LoadEnv(&cfg, flags.envFile); err != nil {
		return settings{}, err
	}

	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Broker.Addr = flags.addr
	}
	if changed("admin") {
		cfg.Broker.AdminAddr = flags.admin
	}
	if changed("read-buf") {
		cfg.Broker.ReadBufferSize = flags.readBuf
	}
	if changed("write-buf") {
		cfg.Broker.WriteBufferSize = flags.writeBuf
	}
	if changed("out-depth") {
		cfg.Broker.OutboundDepth = flags.outDepth
	}
	if changed("nodelay") {
		cfg.Broker.NoDelay = flags.noDelay
	}
	if changed("log-conn") {
		cfg.Broker.LogConnections = flags.logConn
	}
	if changed("stats-interval") {
		cfg.Broker.StatsInterval = flags.statsInterval
	}
	if changed("close-linger") {
		cfg.Broker.CloseLinger = flags.closeLinger
	}
	if changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = flags.logFormat
	}
	if changed("log-file") {
		cfg.Logging.File = flags.logFile
	}

	if err := cfg.Broker.Validate(); err != nil {
		return settings{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg settings) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv, err := broker.New(cfg.Broker, broker.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		logger.Error("cannot start broker", zap.Error(err))
		return err
	}

	logger.Info("brokerd starting",
		zap.String("addr", srv.Addr().String()),
		zap.String("admin", cfg.Broker.AdminAddr),
		zap.Bool("nodelay", cfg.Broker.NoDelay),
		zap.Int("read_buffer", cfg.Broker.ReadBufferSize),
		zap.Int("write_buffer", cfg.Broker.WriteBufferSize),
		zap.Int("out_depth", cfg.Broker.OutboundDepth),
		zap.Duration("stats_interval", cfg.Broker.StatsInterval),
		zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))

	err = srv.Run(ctx)
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("shutdown complete")
	}
	return err
}

func main() {
	gin.SetMode(gin.ReleaseMode)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "brokerd: %v\n", err)
		os.Exit(1)
	}
}
