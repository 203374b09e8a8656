package presence

import (
	"fmt"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

const (
  // Bounds for advertised signal strength, in dBm.
  MinStrength = -100
  MaxStrength = 0

  maxSourceIDLength = 128
)

// Sample is a single raw observation from a detection source. For NFC sources
// Present means a tag read succeeded within the polling window; for BLE
// sources it means an advertisement was seen above the configured RSSI floor.
type Sample struct {
  SourceID string
  Timestamp time.Time
  Present bool

  // RSSI in dBm, only meaningful when HasStrength is set.
  Strength int
  HasStrength bool
}

func (s Sample) String() string {
  if s.HasStrength {
    return fmt.Sprintf("sample[%v,present=%v,strength=%ddBm]",
      s.SourceID, s.Present, s.Strength)
  }

  return fmt.Sprintf("sample[%v,present=%v]", s.SourceID, s.Present)
}

func (s Sample) validate() error {
  if s.SourceID == "" {
    return errors.Wrap(ErrInvalidSample, "empty source id")
  }

  if len(s.SourceID) > maxSourceIDLength {
    return errors.Wrapf(ErrInvalidSample, "source id longer than %d bytes",
      maxSourceIDLength)
  }

  for _, r := range s.SourceID {
    if unicode.IsControl(r) || unicode.IsSpace(r) {
      return errors.Wrapf(ErrInvalidSample,
        "source id %q contains whitespace or control characters", s.SourceID)
    }
  }

  if s.Timestamp.IsZero() {
    return errors.Wrap(ErrInvalidSample, "zero timestamp")
  }

  if s.HasStrength && (s.Strength < MinStrength || s.Strength > MaxStrength) {
    return errors.Wrapf(ErrInvalidSample,
      "strength %d dBm outside of [%d, %d]", s.Strength, MinStrength, MaxStrength)
  }

  return nil
}
