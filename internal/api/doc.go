// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/discovery/trigger, /v1/batch/trigger, /v1/decay/trigger to run jobs.
//   - POST and GET /v1/pending for manual enqueue and queue inspection.
//   - POST /v1/scan to extract, embed, and store one URL synchronously.
//   - GET /v1/pages/{id} and POST /v1/pages/{id}/reconstruct for stored pages.
//   - GET /v1/status for job and queue state.
package api
