package publish

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/robertof/go-presence-exporter/presence"
	"github.com/rs/zerolog/log"
)

const (
  connectTimeout = 10 * time.Second
  publishTimeout = 5 * time.Second
)

// MQTTPublisher publishes changes to a real broker. Changes are retained so
// that consumers joining late still see the current state of every source.
type MQTTPublisher struct {
  client paho.Client
  prefix string
}

func NewMQTTPublisher(broker, clientID, prefix string) (*MQTTPublisher, error) {
  if prefix == "" {
    prefix = DefaultTopicPrefix
  }

  opts := paho.NewClientOptions().
    AddBroker(broker).
    SetClientID(clientID).
    SetAutoReconnect(true).
    SetConnectRetry(true).
    SetConnectRetryInterval(5 * time.Second).
    SetWill(AvailabilityTopic(prefix), "offline", 1, true).
    SetOnConnectHandler(func(c paho.Client) {
      log.Debug().Str("Broker", broker).Msg("mqtt: connected")

      // (re)assert availability on every (re)connection.
      c.Publish(AvailabilityTopic(prefix), 1, true, "online")
    }).
    SetConnectionLostHandler(func(_ paho.Client, err error) {
      log.Warn().Err(err).Msg("mqtt: connection lost, retrying")
    })

  client := paho.NewClient(opts)
  token := client.Connect()

  if !token.WaitTimeout(connectTimeout) {
    return nil, fmt.Errorf("timed out connecting to broker %q", broker)
  }

  if err := token.Error(); err != nil {
    return nil, fmt.Errorf("failed to connect to broker %q: %w", broker, err)
  }

  return &MQTTPublisher{
    client: client,
    prefix: prefix,
  }, nil
}

func (p *MQTTPublisher) PublishChange(change presence.Change) error {
  payload, err := FormatPayload(change)

  if err != nil {
    return fmt.Errorf("failed to format payload: %w", err)
  }

  topic := ChangeTopic(p.prefix, change.SourceID)

  // QoS 1 + retained: presence transitions are rare and consumers must not
  // miss them.
  token := p.client.Publish(topic, 1, true, payload)

  if !token.WaitTimeout(publishTimeout) {
    return fmt.Errorf("timed out publishing to %q", topic)
  }

  if err := token.Error(); err != nil {
    return fmt.Errorf("failed to publish to %q: %w", topic, err)
  }

  log.Debug().
    Str("Topic", topic).
    Stringer("Change", change).
    Msg("mqtt: published state change")

  return nil
}

func (p *MQTTPublisher) Close() error {
  // best effort: mark ourselves offline before going away.
  p.client.Publish(AvailabilityTopic(p.prefix), 1, true, "offline").
    WaitTimeout(publishTimeout)

  p.client.Disconnect(1000)

  return nil
}
