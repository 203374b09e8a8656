package ble

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-ble/ble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
  advertisementsCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_ble_advertisements_total",
  })
  droppedAdvertisementsCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_ble_dropped_advertisements_total",
  })
  unknownAdvertisementsCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_ble_unknown_advertisements_total",
  })
)

func WrapContextWithSigHandler(ctx context.Context, cancel func()) context.Context {
  return ble.WithSigHandler(ctx, cancel)
}

// Perform an active or passive scan and return every advertisement found.
func (h *Handle) ScanAll(ctx context.Context, onDevice func(Advertisement)) error {
  err := h.dev.Scan(ctx, true, onDevice)

  if err != nil {
    return fmt.Errorf("failed to initiate scan: %w", err)
  }

  return nil
}

// Observe runs a continuous scan for the specified addresses and hands every
// matching advertisement to the handler, serialized per address. Unlike a
// one-shot collection scan there is no completion condition: observation ends
// only when the context does.
func (h *Handle) Observe(
  parentCtx context.Context,
  addresses []net.HardwareAddr,
  onAdvertisement func(Advertisement),
) error {
  addrMap := make(map[string]chan Advertisement)

  ctx, cancel := context.WithCancel(parentCtx)
  defer cancel()

  for _, addr := range addresses {
    addrStr := strings.ToLower(addr.String())
    ch := make(chan ble.Advertisement, 10)
    addrMap[addrStr] = ch

    // spawn a goroutine for each device in order to serialize advertisements coming in.
    go func() {
      for {
        select {
        case next := <-ch:
          if next == nil {
            return
          }

          onAdvertisement(next)
        case <-ctx.Done():
          return
        }
      }
    }()
  }

  callback := func(a Advertisement) {
    addr := strings.ToLower(a.Addr().String())

    // the BLE lib could send an advertisement even after `Scan()` returns. do not waste
    // time enqueueing data if we're done.
    select {
    case <-ctx.Done():
      return
    default:
    }

    ch, ok := addrMap[addr]

    if !ok {
      unknownAdvertisementsCounter.Inc()

      log.Trace().
        Str("Addr", a.Addr().String()).
        Str("LocalName", a.LocalName()).
        Msg("ble: received advertisement from non-observed device")

      return
    }

    advertisementsCounter.Inc()

    select {
    case ch <- a:
      log.Trace().
        Str("Addr", a.Addr().String()).
        Int("RSSI", a.RSSI()).
        Msg("ble: received advertisement, enqueueing")
    default:
      // the per-address worker is behind. presence only cares about the
      // latest observation, so dropping here is harmless.
      droppedAdvertisementsCounter.Inc()
    }
  }

  err := h.dev.Scan(ctx, false, callback)

  // swallow context.Canceled errors which are caused by our explicit cancellations.
  if errors.Is(err, context.Canceled) {
    err = nil
  }

  return err
}
