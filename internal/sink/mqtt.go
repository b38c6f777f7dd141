package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/frame"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const mqttTimeout = 5 * time.Second

// CameraMessage is the retained payload published for one camera.
type CameraMessage struct {
	CalibrationID  string       `json:"calibration_id"`
	TrackerID      string       `json:"tracker_id"`
	Side           string       `json:"side"`
	CreatedAt      time.Time    `json:"created_at"`
	SquareLengthMm float64      `json:"square_length_mm"`
	Result         calib.Result `json:"result"`
}

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each camera's calibration as a retained message on
// <prefix>/<tracker>/<side>, so late subscribers pick up the active model.
type MQTT struct {
	client publisher
	prefix string
	conn   mqtt.Client
}

// DialMQTT connects to broker and returns a sink publishing under prefix.
func DialMQTT(broker, clientID, prefix string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(mqttTimeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "failed to connect to MQTT broker %s", broker)
	}
	logrus.WithField("broker", broker).Info("connected to MQTT broker")
	return &MQTT{client: client, prefix: prefix, conn: client}, nil
}

// Topic returns the topic of one camera of a tracker.
func (m *MQTT) Topic(trackerID string, side frame.Side) string {
	return fmt.Sprintf("%s/%s/%s", m.prefix, trackerID, side)
}

// Publish implements Sink.
func (m *MQTT) Publish(ctx context.Context, c Calibration) error {
	for _, side := range frame.Sides {
		payload, err := json.Marshal(CameraMessage{
			CalibrationID:  c.ID.String(),
			TrackerID:      c.TrackerID,
			Side:           side.String(),
			CreatedAt:      c.CreatedAt,
			SquareLengthMm: c.SquareLengthMm,
			Result:         c.Get(side),
		})
		if err != nil {
			return errors.Wrap(err, "failed to encode MQTT payload")
		}

		topic := m.Topic(c.TrackerID, side)
		token := m.client.Publish(topic, 1, true, payload)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "publish %s", topic)
		}
		if err := token.Error(); err != nil {
			return errors.Wrapf(err, "failed to publish %s", topic)
		}
		logrus.WithField("topic", topic).Debug("calibration published")
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.conn != nil {
		m.conn.Disconnect(250)
	}
	return nil
}
