package blerssi

import (
  "fmt"
  "net"
  "strconv"
  "strings"
  "time"

  "github.com/robertof/go-presence-exporter/presence"
  "github.com/robertof/go-presence-exporter/source"
)

const (
  // Advertisements weaker than this are treated as absence: the device is
  // technically in range, but too far to count as "here".
  DefaultRSSIFloor = -90

  DefaultSampleInterval = time.Second
)

// Peer is a single tracked Bluetooth device, identified by its (resolved)
// MAC address.
type Peer struct {
  name string
  addr net.HardwareAddr
  rssiFloor int
  interval time.Duration
}

func (p *Peer) Name() string {
  return p.name
}

func (p *Peer) Addr() net.HardwareAddr {
  return p.addr
}

// ID is the presence source id carried by every sample of this peer.
func (p *Peer) ID() string {
  return "ble:" + strings.ToLower(p.addr.String())
}

func (p *Peer) String() string {
  return fmt.Sprintf("ble[name=%q, addr=%v, floor=%ddBm]", p.name, p.addr, p.rssiFloor)
}

type Factory struct{}

func (f *Factory) FromSpec(spec source.Spec) (*Peer, error) {
  p := Peer{
    rssiFloor: DefaultRSSIFloor,
    interval: DefaultSampleInterval,
  }

  addr := spec.Addr()

  if name := spec.Name(); name != "" {
    p.name = name
  } else {
    p.name = "ble-" + strings.ToLower(strings.ReplaceAll(addr, ":", ""))
  }

  hwAddr, err := net.ParseMAC(addr)
  if err != nil {
    return nil, fmt.Errorf("invalid addr: %w", err)
  }

  p.addr = hwAddr

  if floor := spec["rssi-floor"]; floor != "" {
    v, err := strconv.Atoi(floor)

    if err != nil {
      return nil, fmt.Errorf("invalid rssi-floor: %w", err)
    }

    if v < presence.MinStrength || v > presence.MaxStrength {
      return nil, fmt.Errorf("rssi-floor %d outside of [%d, %d]",
        v, presence.MinStrength, presence.MaxStrength)
    }

    p.rssiFloor = v
  }

  if interval := spec[source.SpecFieldInterval]; interval != "" {
    v, err := time.ParseDuration(interval)

    if err != nil {
      return nil, fmt.Errorf("invalid interval: %w", err)
    }

    if v <= 0 {
      return nil, fmt.Errorf("interval must be positive, got %v", v)
    }

    p.interval = v
  }

  return &p, nil
}

func (f *Factory) Help() string {
  return `Supported parameters:
addr (string, required): MAC address of the tracked device (must be fixed or already resolved)
name (string): Name of the tracked device
rssi-floor (int): RSSI in dBm below which the device counts as absent (default -90)
interval (duration): How often a sample is emitted for this device (default 1s)`
}
