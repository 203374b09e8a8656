package blerssi

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/robertof/go-presence-exporter/ble"
	"github.com/robertof/go-presence-exporter/presence"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Observer is the scanning capability the watcher needs from the BLE stack.
// Satisfied by *ble.Handle.
type Observer interface {
  Observe(
    ctx context.Context,
    addresses []net.HardwareAddr,
    onAdvertisement func(ble.Advertisement),
  ) error
}

// Watcher observes advertisements for a set of peers over a single shared
// scan and emits one sample per peer per interval: a confirming sample when
// at least one advertisement above the RSSI floor arrived within the window,
// a miss otherwise.
type Watcher struct {
  observer Observer
  peers []*Peer
}

func NewWatcher(observer Observer, peers []*Peer) *Watcher {
  if len(peers) == 0 {
    panic("blerssi.NewWatcher called without peers")
  }

  return &Watcher{
    observer: observer,
    peers: peers,
  }
}

func (w *Watcher) String() string {
  return fmt.Sprintf("blerssi[peers=%d]", len(w.peers))
}

func (w *Watcher) Run(ctx context.Context, out chan<- presence.Sample) error {
  addresses := make([]net.HardwareAddr, len(w.peers))
  states := make(map[string]*peerState, len(w.peers))

  for i, peer := range w.peers {
    addresses[i] = peer.Addr()
    states[strings.ToLower(peer.Addr().String())] = &peerState{peer: peer}
  }

  g, ctx := errgroup.WithContext(ctx)

  g.Go(func() error {
    return w.observer.Observe(ctx, addresses, func(a ble.Advertisement) {
      state := states[strings.ToLower(a.Addr().String())]

      if state == nil {
        // the scan allow-list should make this impossible.
        log.Warn().
          Str("Addr", a.Addr().String()).
          Msg("blerssi: advertisement from address without a configured peer")
        return
      }

      state.observe(a.RSSI())
    })
  })

  for _, state := range states {
    state := state

    g.Go(func() error {
      ticker := time.NewTicker(state.peer.interval)
      defer ticker.Stop()

      for {
        select {
        case <-ctx.Done():
          return nil
        case now := <-ticker.C:
          sample := state.flush(now)

          select {
          case <-ctx.Done():
            return nil
          case out <- sample:
          }
        }
      }
    })
  }

  return g.Wait()
}

// peerState accumulates advertisements between two ticks of a peer.
type peerState struct {
  peer *Peer

  mu sync.Mutex
  seen bool
  hasRSSI bool
  bestRSSI int
}

func (s *peerState) observe(rssi int) {
  s.mu.Lock()
  defer s.mu.Unlock()

  s.seen = true

  // some controllers report 0 for "unknown". keep the observation, drop the
  // strength.
  if rssi < presence.MinStrength || rssi >= presence.MaxStrength {
    return
  }

  if !s.hasRSSI || rssi > s.bestRSSI {
    s.hasRSSI = true
    s.bestRSSI = rssi
  }
}

// flush converts the advertisements seen since the last tick into a single
// sample stamped at `now`, and resets the window.
func (s *peerState) flush(now time.Time) presence.Sample {
  s.mu.Lock()
  defer s.mu.Unlock()

  sample := presence.Sample{
    SourceID: s.peer.ID(),
    Timestamp: now,
  }

  if s.seen {
    if s.hasRSSI {
      sample.HasStrength = true
      sample.Strength = s.bestRSSI
      sample.Present = s.bestRSSI >= s.peer.rssiFloor
    } else {
      sample.Present = true
    }
  }

  s.seen = false
  s.hasRSSI = false
  s.bestRSSI = 0

  return sample
}
