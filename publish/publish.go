// Package publish delivers presence changes to the home-automation side over
// MQTT. Payload formatting is kept separate from the transport so the wire
// format is testable without a broker.
package publish

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/robertof/go-presence-exporter/presence"
)

const DefaultTopicPrefix = "presence"

// Publisher pushes state changes downstream. Implementations must never be
// fatal: a failed publish is reported to the caller and the presence engine
// keeps running.
type Publisher interface {
  PublishChange(change presence.Change) error
  Close() error
}

// Payload is the JSON document published on every state change.
type Payload struct {
  Timestamp string `json:"timestamp"`
  Source string `json:"source"`
  State string `json:"state"`
  Previous string `json:"previous"`
}

func stateLabel(s presence.State) string {
  if s == presence.StatePresent {
    return "present"
  }

  return "absent"
}

// FormatPayload renders the JSON document for a change event.
func FormatPayload(change presence.Change) ([]byte, error) {
  return json.Marshal(Payload{
    Timestamp: change.At.UTC().Format(time.RFC3339),
    Source: change.SourceID,
    State: stateLabel(change.To),
    Previous: stateLabel(change.From),
  })
}

// ChangeTopic returns the topic a change is published on. MQTT topic-level
// separators and wildcards in the source id are replaced, everything else is
// carried verbatim.
func ChangeTopic(prefix, sourceID string) string {
  sanitized := strings.NewReplacer("/", "-", "+", "-", "#", "-").Replace(sourceID)

  return prefix + "/" + sanitized + "/state"
}

// AvailabilityTopic carries the retained online/offline marker (with a LWT
// flipping it to offline when the exporter dies).
func AvailabilityTopic(prefix string) string {
  return prefix + "/status"
}
