package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/robertof/go-presence-exporter/presence"
	"github.com/robertof/go-presence-exporter/source"
	"github.com/robertof/go-presence-exporter/source/blerssi"
	"github.com/robertof/go-presence-exporter/source/nfc"
)

type config struct {
  Debug, Trace bool
  BindAddress string
  DiscoverDevices bool
  BluetoothDeviceId int

  PresentThreshold, AbsentThreshold int
  SampleTimeout, SweepInterval time.Duration

  MQTTBroker, MQTTClientId, MQTTTopicPrefix string

  Peers []*blerssi.Peer
  Readers []*nfc.Reader
}

// boundSpecList adapts a `key=value,key=value` source spec flag to a
// kind-specific factory.
type boundSpecList struct {
  parse func(spec source.Spec) error
}

func (b *boundSpecList) String() string {
  return ""
}

func (b *boundSpecList) Set(v string) error {
  return b.parse(source.NewSpec(v))
}

func specHelp(docs source.FactoryDocs) string {
  return "Source spec for this source in the form of `key=value,key=value`.\n" + docs.Help()
}

func ParseArgs() config {
  var cfg config

  flag.StringVar(&cfg.BindAddress, "bind", "localhost:9103", "Where the exporter will bind to")
  flag.IntVar(&cfg.BluetoothDeviceId, "bluetooth-device", 0, "Bluetooth (HCI) device ID")
  flag.BoolVar(&cfg.DiscoverDevices, "discover", false, "Discover available BLE devices and quit")
  flag.IntVar(&cfg.PresentThreshold, "present-threshold", presence.DefaultPresentThreshold,
    "Consecutive confirming samples required to report a source as present")
  flag.IntVar(&cfg.AbsentThreshold, "absent-threshold", presence.DefaultAbsentThreshold,
    "Consecutive missing samples required to report a source as absent")
  flag.DurationVar(&cfg.SampleTimeout, "sample-timeout", presence.DefaultSampleTimeout,
    "How long a source may stay silent before each further sweep counts as a miss")
  flag.DurationVar(&cfg.SweepInterval, "sweep-interval", time.Second,
    "How often silent sources are checked against -sample-timeout")
  flag.StringVar(&cfg.MQTTBroker, "mqtt-broker", "",
    "MQTT broker to publish state changes to (e.g. 'tcp://localhost:1883'). "+
    "When empty, changes are only logged")
  flag.StringVar(&cfg.MQTTClientId, "mqtt-client-id", "presence-exporter", "MQTT client ID")
  flag.StringVar(&cfg.MQTTTopicPrefix, "mqtt-topic-prefix", "presence",
    "Topic prefix for published state changes")
  flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logs")
  flag.BoolVar(&cfg.Trace, "trace", false, "Enable trace logs")

  bleFactory := &blerssi.Factory{}

  flag.Var(&boundSpecList{
    parse: func(spec source.Spec) error {
      peer, err := bleFactory.FromSpec(spec)

      if err != nil {
        return fmt.Errorf("failed to create BLE peer: %w", err)
      }

      cfg.Peers = append(cfg.Peers, peer)

      return nil
    },
  }, "ble", specHelp(bleFactory))

  nfcFactory := &nfc.Factory{}

  flag.Var(&boundSpecList{
    parse: func(spec source.Spec) error {
      reader, err := nfcFactory.FromSpec(spec)

      if err != nil {
        return fmt.Errorf("failed to create NFC reader: %w", err)
      }

      cfg.Readers = append(cfg.Readers, reader)

      return nil
    },
  }, "nfc", specHelp(nfcFactory))

  flag.Parse()

  if !cfg.DiscoverDevices && len(cfg.Peers) == 0 && len(cfg.Readers) == 0 {
    fmt.Fprintln(os.Stderr, "Error: at least one source (-ble or -nfc) is required!")
    flag.Usage()
    os.Exit(1)
  }

  return cfg
}
