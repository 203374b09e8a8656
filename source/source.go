// Package source defines how detection sources feed raw samples into the
// presence engine. A source owns its own acquisition I/O (BLE scans, NFC
// polling) and hands discrete samples over a channel; it never touches
// presence state directly.
package source

import (
	"context"
	"fmt"

	"github.com/robertof/go-presence-exporter/presence"
)

// Runner produces raw samples on `out` until the context is canceled. A nil
// error is only returned on clean cancellation.
type Runner interface {
  fmt.Stringer
  Run(ctx context.Context, out chan<- presence.Sample) error
}

type FactoryDocs interface {
  Help() string
}
