package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/pgva"
	"github.com/timzifer/pgva/config"
	"github.com/timzifer/pgva/internal/logging"
	"github.com/timzifer/pgva/telemetry"
	"github.com/timzifer/pgva/watch"
)

const usage = `usage: pgvactl -config <file> <command> [arg]

commands:
  info                         print driver and transport information
  sensors                      read the internal sensor snapshot
  status                       read and decode the device status word
  set-pressure <mbar>          set the output pressure setpoint
  set-pressure-chamber <mbar>  set the pressure chamber setpoint
  set-vacuum-chamber <mbar>    set the vacuum chamber setpoint
  actuate <duration>           open the actuation valve, e.g. 250ms
  pump <on|off>                enable or disable the pump
  watch                        evaluate watch rules until interrupted
`

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger, cleanup, err := logging.Setup(cfg.Logging, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	collector := telemetry.Noop()
	if cfg.Telemetry.Enabled {
		promCollector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			logger.Warn().Err(err).Msg("telemetry disabled")
		} else {
			collector = promCollector
			if cfg.Telemetry.Listen != "" {
				go serveMetrics(cfg.Telemetry.Listen, logger)
			}
		}
	}

	driver, err := pgva.New(cfg.Transport,
		pgva.WithLogger(logger),
		pgva.WithCollector(collector),
		pgva.WithDriverConfig(cfg.Driver),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create driver")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := driver.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	defer func() {
		if err := driver.Disconnect(); err != nil {
			logger.Error().Err(err).Msg("failed to disconnect")
		}
	}()

	if err := run(ctx, command, flag.Args()[1:], driver, cfg, logger, collector); err != nil {
		logger.Fatal().Err(err).Str("command", command).Msg("command failed")
	}
}

func run(ctx context.Context, command string, args []string, driver *pgva.Driver, cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) error {
	switch command {
	case "info":
		return driver.PrintDriverInformation(os.Stdout)
	case "sensors":
		snapshot, err := driver.InternalSensorData()
		if err != nil {
			return err
		}
		for _, reading := range snapshot {
			fmt.Printf("%s: %d mbar\n", reading.Channel, reading.Millibar)
		}
		return nil
	case "status":
		status, err := driver.Status()
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", status)
		return nil
	case "set-pressure":
		mbar, err := intArg(args, "mbar")
		if err != nil {
			return err
		}
		return driver.SetOutputPressure(mbar)
	case "set-pressure-chamber":
		mbar, err := intArg(args, "mbar")
		if err != nil {
			return err
		}
		return driver.SetPressureChamber(mbar)
	case "set-vacuum-chamber":
		mbar, err := intArg(args, "mbar")
		if err != nil {
			return err
		}
		return driver.SetVacuumChamber(mbar)
	case "actuate":
		if len(args) < 1 {
			return fmt.Errorf("actuate requires a duration argument")
		}
		duration, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", args[0], err)
		}
		return driver.TriggerActuationValve(ctx, duration)
	case "pump":
		if len(args) < 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("pump requires on or off")
		}
		return driver.TogglePump(args[0] == "on")
	case "watch":
		monitor, err := watch.NewMonitor(driver, cfg.Watch, logger, collector)
		if err != nil {
			return err
		}
		if err := monitor.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func intArg(args []string, name string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("missing %s argument", name)
	}
	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, args[0], err)
	}
	return value, nil
}

func serveMetrics(listen string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Error().Err(err).Str("listen", listen).Msg("metrics endpoint stopped")
	}
}
