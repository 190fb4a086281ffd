// Package bridge connects the device adapters to the automation server
// over MQTT.
//
// It publishes change events as retained state messages, routes inbound
// command topics to each adapter's dispatcher, runs the registration of IO
// points on every (re)connect and reports health on a fixed interval.
//
// Thread Safety: All exported methods are safe for concurrent use.
package bridge
