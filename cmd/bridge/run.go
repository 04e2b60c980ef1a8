package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/config"
	"github.com/GriffinCanCode/scriptbridge/internal/control"
	"github.com/GriffinCanCode/scriptbridge/internal/engine"
	"github.com/GriffinCanCode/scriptbridge/internal/host"
	"github.com/GriffinCanCode/scriptbridge/internal/logging"
	"github.com/GriffinCanCode/scriptbridge/internal/loop"
	"github.com/GriffinCanCode/scriptbridge/internal/monitoring"
)

type runOptions struct {
	configFile string
	scripts    string
	control    string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the scripts and run until interrupted",
		Long: `run builds the script context, runs every script found in the scripts
directory and keeps serving callbacks until SIGINT or SIGTERM. SIGHUP
rebuilds the context from fresh configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configFile, "config", "", "settings file (TOML or YAML), overrides $"+config.FileEnv)
	cmd.Flags().StringVar(&opts.scripts, "scripts", "", "scripts directory (default from configuration)")
	cmd.Flags().StringVar(&opts.control, "control", "", "serve the control endpoint on this address")
	return cmd
}

// load reads configuration and applies the command line on top. It runs
// again on every rebuild.
func (o runOptions) load() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.configFile != "" {
		if err := cfg.Overlay(o.configFile); err != nil {
			return nil, err
		}
	}
	if o.scripts != "" {
		cfg.Scripts.Dir = o.scripts
	}
	if o.control != "" {
		cfg.Control.Enabled = true
		cfg.Control.Address = o.control
	}
	return cfg, nil
}

// newHost builds the object graph scripts start from: one page view and
// the toplevel window showing it.
func newHost() (*host.Registry, error) {
	reg := host.NewRegistry()
	view, err := host.NewPageView(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to create page view: %w", err)
	}
	window, err := reg.New("GtkWindow", map[string]host.Value{"title": host.String("bridge")})
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}
	reg.SetRoot("view", view)
	reg.SetRoot("window", window)
	return reg, nil
}

func run(ctx context.Context, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Component("main")

	log.Info("Starting bridge",
		zap.String("scripts", cfg.Scripts.Dir),
		zap.Bool("control", cfg.Control.Enabled),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := monitoring.NewMetrics()
	l := loop.New(logger.Logger)
	l.Start(ctx)
	defer l.Stop()

	reg, err := newHost()
	if err != nil {
		return err
	}

	m, err := engine.New(engine.Options{
		Host:    reg,
		Loop:    l,
		Logger:  logger.Logger,
		Metrics: metrics,
		Config:  opts.load,
	})
	if err != nil {
		return err
	}
	if err := m.Init(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	errCh := make(chan error, 1)
	if cfg.Control.Enabled {
		srv := control.New(cfg.Control, m, metrics, logger.Logger, cfg.Logging.Development)
		go func() { errCh <- srv.Run(ctx) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
wait:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Info("Rebuilding context")
				if fresh, err := opts.load(); err == nil {
					if err := logger.SetLevel(fresh.Logging.Level); err != nil {
						log.Warn("Ignoring log level", zap.Error(err))
					}
				}
				m.ScheduleReapply()
				continue
			}
			log.Info("Shutting down gracefully...", zap.String("signal", sig.String()))
			break wait
		case err := <-errCh:
			if err != nil {
				runErr = fmt.Errorf("control server: %w", err)
			}
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	if err := m.End(); err != nil {
		log.Warn("Failed to end engine", zap.Error(err))
	}
	cancel()
	return runErr
}
