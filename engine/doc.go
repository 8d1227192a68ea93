// Package engine wires the bridge subsystems together and is the
// application-level entry point.
//
// # Building an Engine
//
//	st := postgres.New(pool)
//	client := httpclient.New(endpoint, httpclient.WithRateLimit(20, 5))
//
//	eng, err := engine.New(st, client,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Running
//
// Start opens the change feed from the saved checkpoint and starts the
// watchdog. Stop closes the feed, waits for in-flight requests up to
// Config.ShutdownTimeout and saves the checkpoint.
//
// # Default Submit Middleware
//
// Every backend attempt runs through recover, tracing, metrics and
// logging, then any middleware added with [WithMiddleware], then the
// per-attempt timeout.
//
// # Options
//
//   - [WithConfig] replaces the default configuration
//   - [WithLogger] sets the shared logger
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds submit middleware
//   - [WithBackoff] overrides the retry delay strategy
//   - [WithoutWatchdog] disables the sweep on this instance
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
