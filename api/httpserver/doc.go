// Package httpserver provides the HTTP surface shared by the kanon
// binaries.
//
// BaseServer wires a chi router with request id, real ip and panic recovery
// middleware, structured request logging through go-utils' httplogger, and
// optional CORS. Components plug their routes in by implementing
// RouteRegistrar. Every server also gets:
//
//   - /livez: liveness
//   - /readyz: readiness, 503 while draining
//   - /drain and /undrain: readiness control for load balancers
//   - /debug: pprof, when EnablePprof is set
//
// Prometheus metrics are served by a separate metrics.MetricsServer on
// MetricsAddr. Pass an existing one in HTTPServerConfig.Metrics to share a
// registry with components built before the server.
//
//	srv, err := httpserver.New(cfg, clientHandler)
//	if err != nil {
//	    return err
//	}
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
