// Package observability provides structured logging and metrics
// for the context engine.
//
// This package implements:
//   - Logger construction from LOG_LEVEL / LOG_FORMAT (zap-based)
//   - Prometheus metrics for the query path, refresh cycles and the
//     embedding client
//
// Components receive a *zap.Logger and a Metrics value through
// app.Dependencies; nothing here is global.
package observability
