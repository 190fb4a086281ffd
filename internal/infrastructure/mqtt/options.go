package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho expects.
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Presence names the retained status record kept for this client. The
// broker publishes the offline form as the client's Last Will.
type Presence struct {
	Topic    string
	ClientID string
}

// Presence states.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type presencePayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (p Presence) payload(status, reason string) []byte {
	data, err := json.Marshal(presencePayload{
		Status:    status,
		ClientID:  p.ClientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Marshal of a flat struct of strings cannot fail.
		return nil
	}
	return data
}

// buildClientOptions creates paho options from the bridge's MQTT config:
// broker URL (tcp or ssl), client ID, credentials, clean session, reconnect
// backoff, keepalive and TLS 1.2 minimum.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT registers the offline presence record as the Last Will
// (QoS 1, retained) so a crashed bridge is visible to the automation server.
func configureLWT(opts *pahomqtt.ClientOptions, p Presence) {
	if p.Topic == "" {
		return
	}
	opts.SetBinaryWill(p.Topic, p.payload(StatusOffline, "unexpected_disconnect"), 1, true)
}
