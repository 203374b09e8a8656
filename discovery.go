package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"

	"github.com/robertof/go-presence-exporter/ble"
)

// Discovery mode scans for nearby BLE devices for a few seconds and prints
// what it saw, including the RSSI range - handy for picking an address and a
// sensible -ble rssi-floor.
func doDeviceDiscovery(cfg config) {
  log.Info().Msg("Starting in device discovery mode - collecting devices for 5 seconds...")

  handle, err := ble.Init(cfg.BluetoothDeviceId, ble.FlagScanTypeActive)

  if err != nil {
    log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
  }

  ctx := ble.WrapContextWithSigHandler(
    context.WithTimeout(
      context.Background(),
      5 * time.Second,
    ),
  )

  type deviceInfo struct {
    name string
    advertisements int
    minRSSI, maxRSSI int
    services map[string]bool
  }

  devices := make(map[string]deviceInfo)

  err = handle.ScanAll(ctx, func(a ble.Advertisement) {
    info, ok := devices[a.Addr().String()]

    if !ok {
      info = deviceInfo{
        minRSSI: a.RSSI(),
        maxRSSI: a.RSSI(),
        services: make(map[string]bool),
      }
    }

    if info.name == "" {
      info.name = a.LocalName()
    }

    if a.RSSI() != 0 {
      if info.advertisements == 0 || a.RSSI() < info.minRSSI {
        info.minRSSI = a.RSSI()
      }

      if info.advertisements == 0 || a.RSSI() > info.maxRSSI {
        info.maxRSSI = a.RSSI()
      }
    }

    info.advertisements += 1

    for _, uuid := range a.Services() {
      info.services[uuid.String()] = true
    }

    devices[a.Addr().String()] = info

    log.Debug().
      Str("Addr", a.Addr().String()).
      Str("Name", a.LocalName()).
      Int("RSSI", a.RSSI()).
      Strs("Services", maps.Keys(info.services)).
      Msg("Received device advertisement")
  })

  if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
    log.Fatal().Err(err).Msg("Failed to initiate scan")
  }

  log.Info().Int("Found", len(devices)).Msg("Finished device discovery")

  for addr, data := range devices {
    log.Info().
      Str("Addr", addr).
      Str("Name", data.name).
      Int("Advertisements", data.advertisements).
      Int("MinRSSI", data.minRSSI).
      Int("MaxRSSI", data.maxRSSI).
      Strs("Services", maps.Keys(data.services)).
      Msg("Found device")
  }
}
