package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertof/go-presence-exporter/ble"
	"github.com/robertof/go-presence-exporter/metrics"
	"github.com/robertof/go-presence-exporter/presence"
	"github.com/robertof/go-presence-exporter/publish"
	"github.com/robertof/go-presence-exporter/source"
	"github.com/robertof/go-presence-exporter/source/blerssi"
	"github.com/robertof/go-presence-exporter/source/nfc"
	"github.com/robertof/go-presence-exporter/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
  zerolog.DurationFieldUnit = time.Second
  zerolog.TimeFieldFormat = time.RFC3339Nano

  log.Logger = log.Output(zerolog.ConsoleWriter{
    Out: os.Stderr,
    TimeFormat: "15:04:05.000",
  })

  cfg := ParseArgs()

  if cfg.Trace || os.Getenv("TRACE") != "" {
      zerolog.SetGlobalLevel(zerolog.TraceLevel)
  } else if cfg.Debug || os.Getenv("DEBUG") != "" {
      zerolog.SetGlobalLevel(zerolog.DebugLevel)
  } else {
      zerolog.SetGlobalLevel(zerolog.InfoLevel)
  }

  if cfg.DiscoverDevices {
    doDeviceDiscovery(cfg)
    return
  }

  runners := initRunners(cfg)

  log.Info().
    Str("BindAddr", cfg.BindAddress).
    Array("Sources", utils.ToZeroLogArray(runners)).
    Int("PresentThreshold", cfg.PresentThreshold).
    Int("AbsentThreshold", cfg.AbsentThreshold).
    Dur("SampleTimeoutSec", cfg.SampleTimeout).
    Msg("Starting with the specified configuration")

  engine := presence.NewEngine(presence.Config{
    PresentThreshold: cfg.PresentThreshold,
    AbsentThreshold: cfg.AbsentThreshold,
    SampleTimeout: cfg.SampleTimeout,
  })

  publisher := initPublisher(cfg)
  defer publisher.Close()

  registry := prometheus.NewRegistry()

  metrics.RegisterCollector(engine.Snapshot, registry)
  ble.RegisterMetrics(registry)
  nfc.RegisterMetrics(registry)

  ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
  defer stop()

  g, ctx := errgroup.WithContext(ctx)

  samples := make(chan presence.Sample, 64)

  for _, runner := range runners {
    runner := runner

    g.Go(func() error {
      return runner.Run(ctx, samples)
    })
  }

  g.Go(func() error {
    return runIngest(ctx, engine, samples, publisher)
  })

  g.Go(func() error {
    return runTimeoutSweeps(ctx, engine, publisher, cfg.SweepInterval)
  })

  g.Go(func() error {
    return runServer(ctx, cfg.BindAddress, engine, registry)
  })

  if err := g.Wait(); err != nil {
    log.Fatal().Err(err).Msg("Exporter terminated with an error")
  }

  log.Info().Msg("Exporter shut down cleanly")
}

func initRunners(cfg config) []source.Runner {
  var runners []source.Runner

  if len(cfg.Peers) > 0 {
    bleHandle, err := ble.Init(cfg.BluetoothDeviceId, ble.FlagEnableDeviceAllowList)

    if err != nil {
      log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
    }

    addresses := make([]net.HardwareAddr, len(cfg.Peers))

    for i, peer := range cfg.Peers {
      addresses[i] = peer.Addr()
    }

    if err := bleHandle.SetAllowListedAddresses(addresses); err != nil {
      log.Error().Err(err).Msg("Failed to set device allow list")
    }

    runners = append(runners, blerssi.NewWatcher(bleHandle, cfg.Peers))
  }

  for _, reader := range cfg.Readers {
    runners = append(runners, reader)
  }

  return runners
}

func initPublisher(cfg config) publish.Publisher {
  if cfg.MQTTBroker == "" {
    log.Info().Msg("No MQTT broker configured - state changes will only be logged")

    return publish.NewLogPublisher()
  }

  publisher, err := publish.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientId, cfg.MQTTTopicPrefix)

  if err != nil {
    log.Fatal().Err(err).Msg("Failed to connect to the MQTT broker")
  }

  return publisher
}

func runIngest(
  ctx context.Context,
  engine *presence.Engine,
  samples <-chan presence.Sample,
  publisher publish.Publisher,
) error {
  for {
    select {
    case <-ctx.Done():
      return nil
    case sample := <-samples:
      metrics.CountSample()

      change, err := engine.Ingest(sample)

      if err != nil {
        metrics.CountRejection()

        if utils.ErrorIsAnyOf(err, presence.ErrInvalidSample, presence.ErrOutOfOrder) {
          log.Warn().
            Err(err).
            Stringer("Sample", sample).
            Msg("Sample rejected by presence engine")
        } else {
          log.Error().
            Err(err).
            Stringer("Sample", sample).
            Msg("Unexpected error ingesting sample - this should never happen!")
        }

        continue
      }

      publishChange(publisher, change)
    }
  }
}

func runTimeoutSweeps(
  ctx context.Context,
  engine *presence.Engine,
  publisher publish.Publisher,
  interval time.Duration,
) error {
  ticker := time.NewTicker(interval)
  defer ticker.Stop()

  for {
    select {
    case <-ctx.Done():
      return nil
    case now := <-ticker.C:
      for _, change := range engine.CheckTimeouts(now) {
        change := change

        publishChange(publisher, &change)
      }
    }
  }
}

func publishChange(publisher publish.Publisher, change *presence.Change) {
  if change == nil {
    return
  }

  metrics.CountChange()

  if err := publisher.PublishChange(*change); err != nil {
    metrics.CountPublishError()

    log.Error().
      Err(err).
      Stringer("Change", *change).
      Msg("Failed to publish state change")
  }
}

func runServer(
  ctx context.Context,
  bindAddress string,
  engine *presence.Engine,
  registry *prometheus.Registry,
) error {
  mux := http.NewServeMux()

  mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
  mux.Handle("/status", statusHandler(engine))

  server := &http.Server{
    Addr: bindAddress,
    Handler: mux,
  }

  go func() {
    <-ctx.Done()

    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5 * time.Second)
    defer cancel()

    server.Shutdown(shutdownCtx)
  }()

  log.Info().
    Str("ListenAddress", bindAddress).
    Msg("Starting HTTP server")

  if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
    return err
  }

  return nil
}
