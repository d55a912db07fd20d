package relay

import (
	"context"
	"fmt"
	"net"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTPublisher publishes over an MQTT v5 connection.
type MQTTPublisher struct {
	client *paho.Client
	qos    byte
}

// Dial connects to the broker at address. An empty clientID gets a
// generated one.
func Dial(ctx context.Context, address, clientID string, qos byte, logger *zap.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clientID == "" {
		clientID = "mtconnect-agent-" + uuid.NewString()[:8]
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", address, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnClientError: func(err error) {
			logger.Warn("mqtt client error", zap.Error(err))
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			logger.Warn("mqtt broker disconnected", zap.Uint8("reasonCode", d.ReasonCode))
		},
	})

	if _, err := client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		CleanStart: true,
		KeepAlive:  30,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}
	logger.Info("connected to mqtt broker", zap.String("address", address), zap.String("clientId", clientID))
	return &MQTTPublisher{client: client, qos: qos}, nil
}

// Publish sends payload to topic with the configured QoS.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	_, err := p.client.Publish(ctx, &paho.Publish{
		QoS:     p.qos,
		Retain:  retain,
		Topic:   topic,
		Payload: payload,
	})
	return err
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	return p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
