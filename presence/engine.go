// Package presence converts noisy per-source detection samples into a stable
// boolean presence signal with counted-confirmation hysteresis. The engine
// performs no I/O and never reads the wall clock: sample acquisition belongs
// to the sources and timeout sweeps are driven by an external ticker passing
// an explicit `now`.
package presence

import (
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
  // ErrInvalidSample marks samples that are malformed (out-of-range strength,
  // bad source id). The sample is rejected and tracked state is untouched.
  ErrInvalidSample = errors.New("invalid sample")
  // ErrOutOfOrder marks samples whose timestamp regresses for their source.
  // The sample is dropped and tracked state is untouched.
  ErrOutOfOrder = errors.New("out of order sample")
)

const (
  DefaultPresentThreshold = 2
  // Larger than the present threshold to avoid flicker on transient signal
  // loss (a single failed tag read or a dropped advertisement).
  DefaultAbsentThreshold = 3
  DefaultSampleTimeout = 15 * time.Second
)

type Config struct {
  // Consecutive confirming samples needed to go Absent -> Present.
  PresentThreshold int
  // Consecutive missing samples needed to go Present -> Absent.
  AbsentThreshold int
  // How long a source may go without any sample before a timeout sweep
  // counts it as a miss.
  SampleTimeout time.Duration
}

func (c Config) withDefaults() Config {
  if c.PresentThreshold <= 0 {
    c.PresentThreshold = DefaultPresentThreshold
  }

  if c.AbsentThreshold <= 0 {
    c.AbsentThreshold = DefaultAbsentThreshold
  }

  if c.SampleTimeout <= 0 {
    c.SampleTimeout = DefaultSampleTimeout
  }

  return c
}

type Engine struct {
  cfg Config

  mu sync.Mutex
  states map[string]*TrackedState
}

func NewEngine(cfg Config) *Engine {
  return &Engine{
    cfg: cfg.withDefaults(),
    states: make(map[string]*TrackedState),
  }
}

// Ingest feeds one sample into the engine and returns the resulting state
// change, if any. Rejected samples (ErrInvalidSample, ErrOutOfOrder) leave
// every tracked state exactly as it was before the call.
func (e *Engine) Ingest(s Sample) (*Change, error) {
  if err := s.validate(); err != nil {
    return nil, err
  }

  e.mu.Lock()
  defer e.mu.Unlock()

  st, ok := e.states[s.SourceID]

  if !ok {
    // first observation of this source implicitly starts tracking it.
    st = &TrackedState{Current: StateAbsent}
    e.states[s.SourceID] = st

    log.Debug().
      Str("SourceID", s.SourceID).
      Msg("presence: tracking new source")
  } else if s.Timestamp.Before(st.LastSample) {
    return nil, pkgerrors.Wrapf(ErrOutOfOrder,
      "sample for %q at %v predates last sample at %v",
      s.SourceID, s.Timestamp, st.LastSample)
  }

  st.LastSample = s.Timestamp

  return e.apply(s.SourceID, st, s.Present, s.Timestamp), nil
}

// CheckTimeouts forces a miss for every source that has not produced a sample
// for longer than the configured SampleTimeout, and returns any resulting
// changes. Each forced miss resets the staleness clock, so a source that
// stays silent accrues one miss per SampleTimeout window - exactly as if the
// underlying reader kept reporting explicit failures.
func (e *Engine) CheckTimeouts(now time.Time) []Change {
  e.mu.Lock()
  defer e.mu.Unlock()

  var changes []Change

  for id, st := range e.states {
    if now.Sub(st.LastSample) <= e.cfg.SampleTimeout {
      continue
    }

    log.Debug().
      Str("SourceID", id).
      Time("LastSample", st.LastSample).
      Msg("presence: source went silent, forcing miss")

    st.LastSample = now

    if change := e.apply(id, st, false, now); change != nil {
      changes = append(changes, *change)
    }
  }

  return changes
}

// Snapshot returns a copy of every tracked state, keyed by source id.
func (e *Engine) Snapshot() map[string]TrackedState {
  e.mu.Lock()
  defer e.mu.Unlock()

  out := make(map[string]TrackedState, len(e.states))

  for id, st := range e.states {
    out[id] = *st
  }

  return out
}

// apply runs the hysteresis state machine for a single sample. A confirming
// sample always clears the miss counter and vice versa; a transition happens
// only once the relevant counter reaches its threshold.
func (e *Engine) apply(id string, st *TrackedState, present bool, at time.Time) *Change {
  if present {
    st.Misses = 0

    if st.Current == StatePresent {
      return nil
    }

    st.Confirmations += 1

    if st.Confirmations < e.cfg.PresentThreshold {
      return nil
    }

    return e.transition(id, st, StatePresent, at)
  }

  st.Confirmations = 0

  if st.Current == StateAbsent {
    return nil
  }

  st.Misses += 1

  if st.Misses < e.cfg.AbsentThreshold {
    return nil
  }

  return e.transition(id, st, StateAbsent, at)
}

func (e *Engine) transition(id string, st *TrackedState, to State, at time.Time) *Change {
  change := &Change{
    SourceID: id,
    From: st.Current,
    To: to,
    At: at,
  }

  st.Current = to
  st.LastTransition = at
  st.Confirmations = 0
  st.Misses = 0

  log.Info().
    Str("SourceID", id).
    Stringer("From", change.From).
    Stringer("To", change.To).
    Msg("presence: state changed")

  return change
}
