// Package influxdb writes the bridge's diagnostic time series.
//
// Only bridge health and per-adapter counters are recorded here (poll
// successes and failures, emitted events, dispatched and dropped commands).
// Device values are never stored: history is the automation server's job.
//
// Writes go through the client's batching, non-blocking write API; failures
// surface asynchronously through SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without diagnostics history
//	}
package influxdb
