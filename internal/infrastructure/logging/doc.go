// Package logging provides structured logging for the IO bridge.
//
// It wraps log/slog. What the bridge adds on top:
//
//   - every record carries service=iobridge and the build version
//   - Component returns the child loggers handed to the adapters, the MQTT
//     client, the bridge core and the monitor, tagged component=<name>
//   - attributes named password, token, username or secret are written as
//     [redacted], so MQTT, InfluxDB and Hue credentials never reach the output
//   - NewWithWriter lets the interactive console route log lines through
//     its readline writer so they do not tear the prompt
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("hue").Info("light polled", "device", "Light1")
package logging
