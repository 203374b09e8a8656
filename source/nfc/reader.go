package nfc

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertof/go-presence-exporter/presence"
	"github.com/robertof/go-presence-exporter/source"
	"github.com/rs/zerolog/log"
)

var (
  readsCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_nfc_reads_total",
  })
  readErrorsCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_nfc_read_errors_total",
  })
  foreignTagsCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "presence_exporter_nfc_foreign_tags_total",
  })
)

func RegisterMetrics(reg prometheus.Registerer) {
  reg.MustRegister(
    readsCounter,
    readErrorsCounter,
    foreignTagsCounter,
  )
}

const (
  DefaultBus = 1
  DefaultPollInterval = time.Second
)

// Reader polls a PN532 for one specific tag UID at a fixed interval. Each
// poll yields exactly one sample: confirming when the configured tag was in
// the field, a miss when the field was empty or held a different tag.
type Reader struct {
  name string
  uid []byte
  bus int
  i2cAddr int
  interval time.Duration
  irq *IRQConfig
}

func (r *Reader) Name() string {
  return r.name
}

// ID is the presence source id carried by every sample of this reader.
func (r *Reader) ID() string {
  return "tag:" + hex.EncodeToString(r.uid)
}

func (r *Reader) String() string {
  return fmt.Sprintf("nfc[name=%q, uid=%v, bus=%d]",
    r.name, hex.EncodeToString(r.uid), r.bus)
}

func (r *Reader) Run(ctx context.Context, out chan<- presence.Sample) error {
  link, err := openI2C(r.bus, r.i2cAddr, r.irq)

  if err != nil {
    return fmt.Errorf("failed to open PN532 on bus %d: %w", r.bus, err)
  }

  dev := NewDevice(link)
  defer dev.Close()

  if err := dev.Configure(ctx); err != nil {
    return fmt.Errorf("failed to configure PN532: %w", err)
  }

  ticker := time.NewTicker(r.interval)
  defer ticker.Stop()

  for {
    select {
    case <-ctx.Done():
      return nil
    case now := <-ticker.C:
      sample, ok := r.poll(ctx, dev, now)

      if !ok {
        continue
      }

      select {
      case <-ctx.Done():
        return nil
      case out <- sample:
      }
    }
  }
}

// poll performs one read attempt and converts it into a sample. A transport
// failure yields no sample at all (ok=false): a broken reader must not count
// as tag absence, the engine's sample timeout covers a reader that stays
// broken.
func (r *Reader) poll(ctx context.Context, dev *Device, now time.Time) (presence.Sample, bool) {
  readsCounter.Inc()

  sample := presence.Sample{
    SourceID: r.ID(),
    Timestamp: now,
  }

  uid, err := dev.ReadPassiveTarget(ctx)

  switch {
  case err == nil && bytes.Equal(uid, r.uid):
    sample.Present = true
  case err == nil:
    // some other tag. counts as a miss for the tracked one.
    foreignTagsCounter.Inc()

    log.Debug().
      Str("UID", hex.EncodeToString(uid)).
      Str("Reader", r.name).
      Msg("nfc: read a tag we are not tracking")
  case errors.Is(err, ErrNoTarget):
    // empty field: a plain miss.
  default:
    readErrorsCounter.Inc()

    log.Warn().
      Err(err).
      Str("Reader", r.name).
      Msg("nfc: tag read failed")

    return sample, false
  }

  return sample, true
}

type Factory struct{}

func (f *Factory) FromSpec(spec source.Spec) (*Reader, error) {
  r := Reader{
    bus: DefaultBus,
    i2cAddr: DefaultI2CAddress,
    interval: DefaultPollInterval,
  }

  uid, err := ParseUID(spec["uid"])

  if err != nil {
    return nil, fmt.Errorf("invalid uid: %w", err)
  }

  r.uid = uid

  if name := spec.Name(); name != "" {
    r.name = name
  } else {
    r.name = "tag-" + hex.EncodeToString(uid)
  }

  if bus := spec["bus"]; bus != "" {
    v, err := strconv.Atoi(bus)

    if err != nil || v < 0 {
      return nil, fmt.Errorf("invalid bus %q", bus)
    }

    r.bus = v
  }

  if addr := spec["i2c-addr"]; addr != "" {
    v, err := strconv.ParseInt(addr, 0, 16)

    if err != nil || v <= 0 || v > 0x7f {
      return nil, fmt.Errorf("invalid i2c-addr %q", addr)
    }

    r.i2cAddr = int(v)
  }

  if interval := spec[source.SpecFieldInterval]; interval != "" {
    v, err := time.ParseDuration(interval)

    if err != nil {
      return nil, fmt.Errorf("invalid interval: %w", err)
    }

    if v <= 0 {
      return nil, fmt.Errorf("interval must be positive, got %v", v)
    }

    r.interval = v
  }

  chip, line := spec["irq-chip"], spec["irq-line"]

  if (chip == "") != (line == "") {
    return nil, fmt.Errorf("irq-chip and irq-line must be provided together")
  }

  if chip != "" {
    v, err := strconv.Atoi(line)

    if err != nil || v < 0 {
      return nil, fmt.Errorf("invalid irq-line %q", line)
    }

    r.irq = &IRQConfig{Chip: chip, Line: v}
  }

  return &r, nil
}

func (f *Factory) Help() string {
  return `Supported parameters:
uid (hex string, required): UID of the tracked tag, e.g. '04:a2:24:d2'
name (string): Name of the tracked tag
bus (int): i2c bus the PN532 is attached to (default 1)
i2c-addr (int): i2c address of the PN532 (default 0x24)
interval (duration): Polling interval (default 1s)
irq-chip (string), irq-line (int): GPIO line wired to the PN532 IRQ pin. Optional; enables event-driven reads instead of status polling.`
}

// ParseUID decodes a tag UID from hex, with or without ':' or '-' separators.
// ISO14443A UIDs are 4, 7 or 10 bytes.
func ParseUID(s string) ([]byte, error) {
  if s == "" {
    return nil, fmt.Errorf("empty UID")
  }

  cleaned := strings.NewReplacer(":", "", "-", "").Replace(strings.ToLower(s))
  uid, err := hex.DecodeString(cleaned)

  if err != nil {
    return nil, fmt.Errorf("UID is not valid hex: %w", err)
  }

  switch len(uid) {
  case 4, 7, 10:
    return uid, nil
  default:
    return nil, fmt.Errorf("UID must be 4, 7 or 10 bytes, got %d", len(uid))
  }
}
