package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mtconnect-agent/backend/internal/adapter"
	"github.com/mtconnect-agent/backend/internal/agent"
	"github.com/mtconnect-agent/backend/internal/api"
	"github.com/mtconnect-agent/backend/internal/archive"
	"github.com/mtconnect-agent/backend/internal/config"
	"github.com/mtconnect-agent/backend/internal/devices"
	"github.com/mtconnect-agent/backend/internal/models"
	"github.com/mtconnect-agent/backend/internal/relay"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	var (
		configPath string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:          "mtconnect-agent",
		Short:        "MTConnect agent collecting SHDR adapter data and serving it over HTTP",
		Version:      fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath, verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agent.config.yaml", "path to the agent configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "Load the devices file and print its devices and data items",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			devs, err := devices.LoadFile(cfg.Storage.DevicesFile)
			if err != nil {
				return err
			}
			printDevices(cmd, devs)
			return nil
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setup(configPath string, verbose bool) (*config.AppConfig, *zap.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	zcfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.Advanced.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return cfg, logger, nil
}

func run(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) error {
	a, err := agent.New(agent.OptionsFromConfig(cfg, logger))
	if err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	devs, err := devices.LoadFile(cfg.Storage.DevicesFile)
	if err != nil {
		return fmt.Errorf("failed to load devices: %w", err)
	}
	for _, dev := range devs {
		a.RegisterDevice(dev)
	}

	g, gctx := errgroup.WithContext(ctx)

	var archiveReader api.ArchiveReader
	if cfg.Storage.Archive.Enabled {
		ar, err := archive.Open(archive.Options{
			Path:        cfg.Storage.Archive.Path,
			BatchSize:   cfg.Storage.Archive.BatchSize,
			Threads:     cfg.Advanced.DuckDBThreads,
			MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer ar.Close()
		a.OnObservationAdded(ar.Add)
		archiveReader = ar
		g.Go(func() error { return ar.Run(gctx, time.Second) })
	}

	if cfg.Relay.Enabled {
		opts, err := relay.OptionsFromConfig(cfg.Relay, logger)
		if err != nil {
			return err
		}
		pub, err := relay.Dial(ctx, cfg.Relay.Address, cfg.Relay.ClientID, cfg.Relay.QoS, logger)
		if err != nil {
			return fmt.Errorf("failed to connect relay: %w", err)
		}
		defer pub.Close()
		r := relay.New(pub, opts)
		r.Attach(a)
		for _, dev := range a.Devices() {
			r.HandleDevice(dev)
		}
		g.Go(func() error { return r.Run(gctx) })
	}

	for _, ac := range cfg.Adapters {
		client := adapter.NewClient(adapter.ConfigFromAdapter(ac), a, logger)
		g.Go(func() error { return client.Run(gctx) })
	}

	if cfg.Storage.MonitorConfigFiles {
		w, err := devices.NewWatcher(cfg.Storage.DevicesFile, func(devs []*models.Device) {
			for _, dev := range devs {
				a.RegisterDevice(dev)
			}
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to watch devices file: %w", err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error { return a.RunMetrics(gctx, cfg.MetricsInterval()) })

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e, cfg, logger)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Agent:   a,
		Archive: archiveReader,
		Version: Version,
		Logger:  logger,
	}))

	// Configure server with settings from the config file
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	g.Go(func() error {
		logger.Info("http server listening",
			zap.String("addr", s.Addr),
			zap.String("version", Version),
			zap.String("buildTime", BuildTime),
			zap.Int("devices", len(devs)),
			zap.Int("adapters", len(cfg.Adapters)))
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.SetAvailable(false, time.Now().UTC())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("agent stopped", zap.Error(err))
	return err
}

func printDevices(cmd *cobra.Command, devs []*models.Device) {
	out := cmd.OutOrStdout()
	for _, dev := range devs {
		fmt.Fprintf(out, "%s (%s) uuid=%s\n", dev.Name, dev.ID, dev.UUID)
		for _, bound := range models.FlattenDataItems(dev) {
			di := bound.DataItem
			fmt.Fprintf(out, "  %-24s %-10s %s", di.ID, di.Category, di.Type)
			if di.SubType != "" {
				fmt.Fprintf(out, ":%s", di.SubType)
			}
			fmt.Fprintln(out)
		}
	}
}
