package presence

import (
	"fmt"
	"strconv"
	"time"
)

type State uint8

const (
  StateAbsent State = iota
  StatePresent
)

func (s State) String() string {
  switch s {
  case StateAbsent:
    return "Absent"
  case StatePresent:
    return "Present"
  default:
    panic("unknown presence state: " + strconv.Itoa(int(s)))
  }
}

// TrackedState is the per-source debounce state. A source is tracked from the
// first sample carrying its id until the process exits.
type TrackedState struct {
  Current State
  LastTransition time.Time
  LastSample time.Time

  // Consecutive confirming samples seen while Absent.
  Confirmations int
  // Consecutive missing samples seen while Present.
  Misses int
}

func (t TrackedState) String() string {
  return fmt.Sprintf("state[%v,confirmations=%d,misses=%d]",
    t.Current, t.Confirmations, t.Misses)
}

// Change is emitted whenever a source crosses a debounce threshold and
// settles into the opposite state.
type Change struct {
  SourceID string
  From, To State
  At time.Time
}

func (c Change) String() string {
  return fmt.Sprintf("change[%v: %v -> %v]", c.SourceID, c.From, c.To)
}
