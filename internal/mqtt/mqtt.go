// mqtt.go: Package mqtt publishes fusion state to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/dronenet-go/internal/conf"
)

// Client is the broker connection used by the Publisher. Connect is
// rate-limited; once it succeeds the connection is kept alive until Disconnect.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// Config is the broker connection and publish behavior.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // prefix; state goes to <Topic>/state
	Retain            bool   // true to retain messages at the broker
	ReconnectCooldown time.Duration // minimum gap between Connect attempts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns the timeouts used when settings leave them out.
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    10 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings fills the defaults with the server's MQTT settings.
// An empty client id becomes dronenet-server.
func ConfigFromSettings(s *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.ClientID = s.ClientID
	if cfg.ClientID == "" {
		cfg.ClientID = "dronenet-server"
	}
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.Topic = s.Topic
	cfg.Retain = s.Retain
	return cfg
}
