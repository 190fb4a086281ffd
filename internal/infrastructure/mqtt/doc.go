// Package mqtt wraps the Eclipse Paho client for the IO bridge.
//
// The automation server is reached exclusively over MQTT: device events go
// out on retained state topics, commands arrive on command topics, and each
// adapter registers its IO points under the io tree. Topics builds every
// topic name so publishers and subscribers agree.
//
// The client keeps a presence record (online, graceful offline, or the
// broker-published Last Will) and restores its subscriptions after a
// reconnect. Handler panics are recovered and logged.
//
// Usage:
//
//	topics := mqtt.Topics{Prefix: "iobridge"}
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Presence{
//	    Topic:    topics.Status(cfg.MQTT.Broker.ClientID),
//	    ClientID: cfg.MQTT.Broker.ClientID,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Subscribe(topics.AllCommands(), 1, handleCommand)
package mqtt
