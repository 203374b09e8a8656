package source_test

import (
  "reflect"
  "testing"

  "github.com/robertof/go-presence-exporter/source"
)

func TestNewSpec(t *testing.T) {
  got := source.NewSpec("addr=aa:bb:cc:dd:ee:ff, name = phone ,rssi-floor=-75")

  want := source.Spec{
    "addr": "aa:bb:cc:dd:ee:ff",
    "name": "phone",
    "rssi-floor": "-75",
  }

  if !reflect.DeepEqual(got, want) {
    t.Fatalf("got %v, wanted %v", got, want)
  }

  if got.Name() != "phone" || got.Addr() != "aa:bb:cc:dd:ee:ff" {
    t.Fatalf("accessors: name=%q addr=%q", got.Name(), got.Addr())
  }
}

func TestNewSpecSkipsInvalidEntries(t *testing.T) {
  got := source.NewSpec("addr=aa:bb:cc:dd:ee:ff,garbage")

  want := source.Spec{
    "addr": "aa:bb:cc:dd:ee:ff",
  }

  if !reflect.DeepEqual(got, want) {
    t.Fatalf("got %v, wanted %v", got, want)
  }
}
