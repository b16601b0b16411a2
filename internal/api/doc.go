// Package api hosts the HTTP server, middleware, and REST handlers that control
// the Price-Wise scraper. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/price-wise/scraper/{run,stop} and GET .../status for the run lifecycle.
//   - GET /api/price-wise/scraper/file?target= for raw artifact downloads.
//   - POST /api/price-wise/analyzer/run and GET .../status for the recompute pass.
//   - GET/PUT /api/price-wise/config for the scraper configuration.
//   - GET /api/price-wise/runs for the optional run ledger.
package api
