package simsrv

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/ptcchamber/chamberlab/chamber"
)

// DefaultTopic is the MQTT topic pattern status is mirrored to.
// {session} is replaced by the session id.
const DefaultTopic = "chamber/{session}/status"

const mirrorBacklog = 64

// Mirror receives a copy of every broadcast status
type Mirror interface {
	Publish(session string, st chamber.Status)
}

type nopMirror struct{}

func (nopMirror) Publish(string, chamber.Status) {}

// message is an outgoing MQTT message
type message struct {
	Topic   string
	Payload []byte
}

// MQTTMirror publishes status messages to a broker from a single worker
// goroutine.  Publish never blocks the session; when the worker falls
// behind, messages are dropped.
type MQTTMirror struct {
	client mqtt.Client
	topic  string
	out    chan message
	log    logrus.FieldLogger
}

// NewMQTTMirror wraps a connected client
func NewMQTTMirror(client mqtt.Client, topic string, log logrus.FieldLogger) *MQTTMirror {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTMirror{
		client: client,
		topic:  topic,
		out:    make(chan message, mirrorBacklog),
		log:    log.WithField("component", "mqtt"),
	}
}

// ConnectMQTT connects to broker, e.g. tcp://localhost:1883
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

// Publish queues st for the worker
func (m *MQTTMirror) Publish(session string, st chamber.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		m.log.WithError(err).Error("marshal status")
		return
	}
	msg := message{Topic: formatTopic(m.topic, session), Payload: payload}
	select {
	case m.out <- msg:
	default:
		m.log.WithField("topic", msg.Topic).Debug("mirror backlog full, dropping status")
	}
}

// Run publishes queued messages until ctx is done
func (m *MQTTMirror) Run(ctx context.Context) {
	m.log.Info("mqtt mirror started")
	for {
		select {
		case msg := <-m.out:
			token := m.client.Publish(msg.Topic, 0, false, msg.Payload)
			token.Wait()
			if token.Error() != nil {
				m.log.WithError(token.Error()).WithField("topic", msg.Topic).Warn("publish failed")
			}
		case <-ctx.Done():
			m.log.Info("mqtt mirror stopped")
			return
		}
	}
}

func formatTopic(pattern, session string) string {
	return strings.ReplaceAll(pattern, "{session}", session)
}
