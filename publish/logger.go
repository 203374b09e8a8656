package publish

import (
	"github.com/robertof/go-presence-exporter/presence"
	"github.com/rs/zerolog/log"
)

// LogPublisher writes state changes to the log instead of a broker. Used when
// no broker is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
  return &LogPublisher{}
}

func (p *LogPublisher) PublishChange(change presence.Change) error {
  log.Info().
    Str("SourceID", change.SourceID).
    Stringer("From", change.From).
    Stringer("To", change.To).
    Time("At", change.At).
    Msg("State change")

  return nil
}

func (p *LogPublisher) Close() error {
  return nil
}
