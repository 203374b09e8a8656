package blerssi

import (
  "context"
  "net"
  "testing"
  "time"

  ble_mod "github.com/go-ble/ble"
  "github.com/robertof/go-presence-exporter/ble"
  "github.com/robertof/go-presence-exporter/presence"
  "github.com/robertof/go-presence-exporter/source"
)

func mustPeer(t *testing.T, spec string) *Peer {
  t.Helper()

  f := &Factory{}
  p, err := f.FromSpec(source.NewSpec(spec))

  if err != nil {
    t.Fatalf("FromSpec(%q) got error: %v", spec, err)
  }

  return p
}

func TestFactoryFromSpec(t *testing.T) {
  p := mustPeer(t, "addr=AA:BB:CC:DD:EE:FF,name=phone,rssi-floor=-75,interval=2s")

  if p.Name() != "phone" {
    t.Fatalf("name: got %q, wanted %q", p.Name(), "phone")
  }

  if p.ID() != "ble:aa:bb:cc:dd:ee:ff" {
    t.Fatalf("id: got %q", p.ID())
  }

  if p.rssiFloor != -75 {
    t.Fatalf("rssiFloor: got %d, wanted -75", p.rssiFloor)
  }

  if p.interval != 2 * time.Second {
    t.Fatalf("interval: got %v, wanted 2s", p.interval)
  }
}

func TestFactoryDefaults(t *testing.T) {
  p := mustPeer(t, "addr=aa:bb:cc:dd:ee:ff")

  if p.Name() != "ble-aabbccddeeff" {
    t.Fatalf("default name: got %q", p.Name())
  }

  if p.rssiFloor != DefaultRSSIFloor {
    t.Fatalf("default rssiFloor: got %d", p.rssiFloor)
  }

  if p.interval != DefaultSampleInterval {
    t.Fatalf("default interval: got %v", p.interval)
  }
}

func TestFactoryRejectsBadSpecs(t *testing.T) {
  f := &Factory{}

  for _, spec := range []string{
    "name=phone",                               // missing addr
    "addr=nonsense",                            // invalid MAC
    "addr=aa:bb:cc:dd:ee:ff,rssi-floor=-500",   // floor out of range
    "addr=aa:bb:cc:dd:ee:ff,rssi-floor=high",   // floor not a number
    "addr=aa:bb:cc:dd:ee:ff,interval=-1s",      // negative interval
  } {
    if _, err := f.FromSpec(source.NewSpec(spec)); err == nil {
      t.Fatalf("FromSpec(%q) unexpectedly succeeded", spec)
    }
  }
}

func TestPeerStateFlushWithoutAdvertisementsIsMiss(t *testing.T) {
  p := mustPeer(t, "addr=aa:bb:cc:dd:ee:ff")
  st := &peerState{peer: p}

  sample := st.flush(time.Now())

  if sample.Present || sample.HasStrength {
    t.Fatalf("empty window produced %v", sample)
  }

  if sample.SourceID != "ble:aa:bb:cc:dd:ee:ff" {
    t.Fatalf("unexpected source id %q", sample.SourceID)
  }
}

func TestPeerStateKeepsBestRSSI(t *testing.T) {
  p := mustPeer(t, "addr=aa:bb:cc:dd:ee:ff")
  st := &peerState{peer: p}

  st.observe(-80)
  st.observe(-60)
  st.observe(-90)

  sample := st.flush(time.Now())

  if !sample.Present || !sample.HasStrength || sample.Strength != -60 {
    t.Fatalf("got %v, wanted present sample at -60dBm", sample)
  }

  // the window resets after a flush.
  if next := st.flush(time.Now()); next.Present {
    t.Fatalf("window did not reset: %v", next)
  }
}

func TestPeerStateBelowFloorIsMiss(t *testing.T) {
  p := mustPeer(t, "addr=aa:bb:cc:dd:ee:ff,rssi-floor=-50")
  st := &peerState{peer: p}

  st.observe(-80)

  sample := st.flush(time.Now())

  if sample.Present {
    t.Fatalf("advertisement below the floor counted as presence: %v", sample)
  }

  if !sample.HasStrength || sample.Strength != -80 {
    t.Fatalf("expected strength -80dBm to be reported, got %v", sample)
  }
}

func TestPeerStateUnknownRSSIStillCounts(t *testing.T) {
  p := mustPeer(t, "addr=aa:bb:cc:dd:ee:ff")
  st := &peerState{peer: p}

  // some controllers report 0 when they cannot measure RSSI.
  st.observe(0)

  sample := st.flush(time.Now())

  if !sample.Present || sample.HasStrength {
    t.Fatalf("got %v, wanted present sample without strength", sample)
  }
}

// fakeObserver synchronously delivers a fixed set of advertisements, then
// blocks until the context is canceled.
type fakeObserver struct {
  advertisements []ble.Advertisement
}

func (f *fakeObserver) Observe(
  ctx context.Context,
  addresses []net.HardwareAddr,
  onAdvertisement func(ble.Advertisement),
) error {
  for _, a := range f.advertisements {
    onAdvertisement(a)
  }

  <-ctx.Done()
  return nil
}

type fakeAdvertisement struct {
  addr ble_mod.Addr
  rssi int
}

func (f fakeAdvertisement) LocalName() string { return "" }
func (f fakeAdvertisement) ManufacturerData() []byte { return nil }
func (f fakeAdvertisement) ServiceData() []ble_mod.ServiceData { return nil }
func (f fakeAdvertisement) Services() []ble_mod.UUID { return nil }
func (f fakeAdvertisement) OverflowService() []ble_mod.UUID { return nil }
func (f fakeAdvertisement) TxPowerLevel() int { return 0 }
func (f fakeAdvertisement) Connectable() bool { return false }
func (f fakeAdvertisement) SolicitedService() []ble_mod.UUID { return nil }
func (f fakeAdvertisement) RSSI() int { return f.rssi }
func (f fakeAdvertisement) Addr() ble_mod.Addr { return f.addr }

func TestWatcherEmitsSamples(t *testing.T) {
  peer := mustPeer(t, "addr=aa:bb:cc:dd:ee:ff,interval=10ms")

  observer := &fakeObserver{
    advertisements: []ble.Advertisement{
      fakeAdvertisement{addr: ble_mod.NewAddr("aa:bb:cc:dd:ee:ff"), rssi: -70},
    },
  }

  w := NewWatcher(observer, []*Peer{peer})

  ctx, cancel := context.WithCancel(context.Background())
  defer cancel()

  out := make(chan presence.Sample, 16)
  done := make(chan error, 1)

  go func() {
    done <- w.Run(ctx, out)
  }()

  var first presence.Sample

  select {
  case first = <-out:
  case <-time.After(time.Second):
    t.Fatal("no sample within 1s")
  }

  if !first.Present || first.Strength != -70 {
    t.Fatalf("first sample: got %v, wanted present at -70dBm", first)
  }

  // no further advertisements: the next window must be a miss.
  var second presence.Sample

  select {
  case second = <-out:
  case <-time.After(time.Second):
    t.Fatal("no second sample within 1s")
  }

  if second.Present {
    t.Fatalf("second sample: got %v, wanted a miss", second)
  }

  cancel()

  select {
  case err := <-done:
    if err != nil {
      t.Fatalf("Run returned error: %v", err)
    }
  case <-time.After(time.Second):
    t.Fatal("watcher did not stop after cancellation")
  }
}
