// Package monitor serves the bridge's local monitoring endpoints:
//
//	GET /healthz                     bridge health (503 while degraded)
//	GET /metrics                     Prometheus metrics
//	GET /devices                     every device with its last-known values
//	GET /devices/{adapter}/{device}  one device
//	GET /ws                          live event stream (websocket)
//
// The server follows the same lifecycle as other infrastructure components:
//
//	srv, err := monitor.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package monitor
