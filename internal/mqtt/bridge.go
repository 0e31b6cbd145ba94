// Package mqtt connects the presence store to an MQTT broker. Producers can
// publish samples and inactive signals instead of calling the HTTP API, and
// the latest full snapshot is kept as a retained message for late joiners.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/metrics"
	"github.com/ukydev/live-presence/internal/models"
	"github.com/ukydev/live-presence/internal/presence"
)

// ErrIdentityMismatch is returned when a payload names a different identity
// than its topic.
var ErrIdentityMismatch = errors.New("payload user_id does not match topic")

// Client is the part of paho.Client the bridge uses.
type Client interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Writer is the store surface fed by ingest.
type Writer interface {
	Upsert(ctx context.Context, sample models.PositionSample) error
	Deactivate(ctx context.Context, userID string) error
}

const (
	kindPosition = "position"
	kindInactive = "inactive"
	kindSnapshot = "snapshot"
)

// Bridge routes broker messages into the store and snapshots back out.
type Bridge struct {
	client  Client
	writer  Writer
	prefix  string
	qos     byte
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewBridge creates a bridge under topic prefix, e.g. "presence".
func NewBridge(client Client, writer Writer, prefix string, m *metrics.Metrics) *Bridge {
	return &Bridge{
		client:  client,
		writer:  writer,
		prefix:  strings.Trim(prefix, "/"),
		qos:     1,
		timeout: 10 * time.Second,
		metrics: m,
	}
}

// Dial connects to broker and returns a bridge whose ingest subscriptions
// are renewed on every (re)connect.
func Dial(broker, clientID, prefix string, writer Writer, m *metrics.Metrics) (*Bridge, paho.Client, error) {
	b := NewBridge(nil, writer, prefix, m)
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			if err := b.Subscribe(); err != nil {
				log.WithError(err).Error("Failed to subscribe to MQTT ingest topics")
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})
	c := paho.NewClient(opts)
	b.client = c

	token := c.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		c.Disconnect(0)
		return nil, nil, fmt.Errorf("connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	log.WithField("broker", broker).Info("Connected to MQTT broker")
	return b, c, nil
}

// PositionTopic is where a producer publishes samples for userID.
func (b *Bridge) PositionTopic(userID string) string {
	return b.prefix + "/" + userID + "/" + kindPosition
}

// InactiveTopic is where a producer signals userID stopped sharing.
func (b *Bridge) InactiveTopic(userID string) string {
	return b.prefix + "/" + userID + "/" + kindInactive
}

// SnapshotTopic carries the retained full snapshot.
func (b *Bridge) SnapshotTopic() string {
	return b.prefix + "/" + kindSnapshot
}

// Subscribe registers the ingest topics. Call it again after a reconnect.
func (b *Bridge) Subscribe() error {
	for _, topic := range []string{b.PositionTopic("+"), b.InactiveTopic("+")} {
		token := b.client.Subscribe(topic, b.qos, b.HandleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		log.WithField("topic", topic).Info("Subscribed to MQTT topic")
	}
	return nil
}

// HandleMessage is the paho callback for ingest topics.
func (b *Bridge) HandleMessage(_ paho.Client, msg paho.Message) {
	userID, kind, ok := b.parseTopic(msg.Topic())
	if !ok {
		log.WithField("topic", msg.Topic()).Warn("Ignoring message on unknown topic")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var err error
	switch kind {
	case kindPosition:
		err = b.ingestPosition(ctx, userID, msg.Payload())
	case kindInactive:
		err = b.writer.Deactivate(ctx, userID)
	}
	b.metrics.ObserveMQTT(kind, err)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"topic": msg.Topic(), "user_id": userID}).Error("Failed to handle MQTT message")
	}
}

func (b *Bridge) ingestPosition(ctx context.Context, userID string, payload []byte) error {
	sample, err := presence.DecodeSample(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if sample.UserID == "" {
		sample.UserID = userID
	}
	if sample.UserID != userID {
		return ErrIdentityMismatch
	}
	return b.writer.Upsert(ctx, sample)
}

// parseTopic splits <prefix>/<id>/<kind>.
func (b *Bridge) parseTopic(topic string) (userID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, b.prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	switch parts[1] {
	case kindPosition, kindInactive:
		return parts[0], parts[1], true
	}
	return "", "", false
}

// PublishSnapshots publishes every snapshot from snapshots as the retained
// message until the channel closes or ctx is done.
func (b *Bridge) PublishSnapshots(ctx context.Context, snapshots <-chan models.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			err := b.publishSnapshot(snap)
			b.metrics.ObserveMQTT(kindSnapshot, err)
			if err != nil {
				log.WithError(err).Error("Failed to publish snapshot")
			}
		}
	}
}

func (b *Bridge) publishSnapshot(snap models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	token := b.client.Publish(b.SnapshotTopic(), b.qos, true, data)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("publish snapshot: timed out")
	}
	return token.Error()
}
