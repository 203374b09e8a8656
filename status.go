package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/robertof/go-presence-exporter/presence"
	"github.com/rs/zerolog/log"
)

type sourceStatus struct {
  State string `json:"state"`
  LastTransition *time.Time `json:"last_transition,omitempty"`
  LastSample *time.Time `json:"last_sample,omitempty"`
  Confirmations int `json:"confirmations"`
  Misses int `json:"misses"`
}

// statusHandler serves a JSON snapshot of every tracked source, for
// diagnostics alongside /metrics.
func statusHandler(engine *presence.Engine) http.Handler {
  return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
    snapshot := engine.Snapshot()
    out := make(map[string]sourceStatus, len(snapshot))

    for id, state := range snapshot {
      status := sourceStatus{
        State: state.Current.String(),
        Confirmations: state.Confirmations,
        Misses: state.Misses,
      }

      if !state.LastTransition.IsZero() {
        t := state.LastTransition
        status.LastTransition = &t
      }

      if !state.LastSample.IsZero() {
        t := state.LastSample
        status.LastSample = &t
      }

      out[id] = status
    }

    w.Header().Set("Content-Type", "application/json")

    if err := json.NewEncoder(w).Encode(out); err != nil {
      log.Error().Err(err).Msg("Failed to encode status response")
    }
  })
}
