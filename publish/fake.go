package publish

import (
	"github.com/robertof/go-presence-exporter/presence"
)

// FakePublisher records published changes for test assertions.
type FakePublisher struct {
  Changes []presence.Change
  Payloads [][]byte

  // PublishError, if set, is returned by PublishChange.
  PublishError error

  Closed bool
}

func NewFakePublisher() *FakePublisher {
  return &FakePublisher{}
}

func (f *FakePublisher) PublishChange(change presence.Change) error {
  if f.PublishError != nil {
    return f.PublishError
  }

  payload, err := FormatPayload(change)

  if err != nil {
    return err
  }

  f.Changes = append(f.Changes, change)
  f.Payloads = append(f.Payloads, payload)

  return nil
}

func (f *FakePublisher) Close() error {
  f.Closed = true
  return nil
}
