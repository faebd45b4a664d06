// cmd/motorfleet/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/motor-fleet/internal/api"
	"github.com/tamzrod/motor-fleet/internal/config"
	"github.com/tamzrod/motor-fleet/internal/export"
	emodbus "github.com/tamzrod/motor-fleet/internal/export/modbus"
	"github.com/tamzrod/motor-fleet/internal/fleet"
)

func main() {
	cfgPath := flag.String("config", "motors.yaml", "path to the motor config (YAML or JSON)")
	motor := flag.String("motor", "", "motor to drive (optional)")
	rpm := flag.Float64("rpm", 0, "target rpm for -motor")
	listen := flag.String("http", "", "HTTP listen address, overrides http.listen")
	every := flag.Duration("print", time.Second, "telemetry print interval, 0 disables")
	debug := flag.Bool("debug", false, "development logging")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, *cfgPath, *motor, *rpm, *listen, *every); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("motorfleet exited", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(log *zap.Logger, cfgPath, motor string, rpm float64, listen string, every time.Duration) error {
	// --------------------
	// Load config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if listen != "" {
		cfg.HTTP = &config.HTTPConfig{Listen: listen}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Fleet (validates + normalizes cfg)
	// --------------------

	fl, err := fleet.New(ctx, cfg, fleet.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := fl.Shutdown(); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	if motor != "" {
		m, err := fl.Motor(motor)
		if err != nil {
			return err
		}
		if err := m.SetRPM(ctx, rpm); err != nil {
			return fmt.Errorf("set rpm: %w", err)
		}
		log.Info("rpm set", zap.String("motor", motor), zap.Float64("rpm", rpm))
	}

	g, ctx := errgroup.WithContext(ctx)

	// --------------------
	// Optional status export
	// --------------------

	if cfg.Export != nil {
		cli, err := emodbus.NewEndpointClient(emodbus.Config{
			Endpoint: cfg.Export.Endpoint,
			Timeout:  time.Duration(cfg.Export.TimeoutMs) * time.Millisecond,
		}, log.Named("export"))
		if err != nil {
			return fmt.Errorf("export endpoint %s: %w", cfg.Export.Endpoint, err)
		}
		defer cli.Close()

		exp, err := export.New(cfg, fl, cli, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return exp.Run(ctx) })
	}

	// --------------------
	// Optional HTTP API
	// --------------------

	if cfg.HTTP != nil {
		srv := api.New(fl, log)
		g.Go(func() error { return srv.Serve(ctx, cfg.HTTP.Listen) })
	}

	if every > 0 {
		g.Go(func() error { return printLoop(ctx, fl, every) })
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	return g.Wait()
}

// printLoop writes one line per motor with its cached telemetry.
func printLoop(ctx context.Context, fl *fleet.Manager, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, name := range fl.Names() {
			m, err := fl.Motor(name)
			if err != nil {
				return err
			}
			t, ok := m.RPM()
			if !ok {
				fmt.Printf("%-16s %-12s no telemetry\n", name, m.State())
				continue
			}
			fmt.Printf("%-16s %-12s rpm=%.0f V=%.1f A=%.2f fault=%d\n",
				name, m.State(), t.RPM, t.Voltage, t.Current, t.Fault)
		}
	}
}
