/*
Package metrics exposes the pipeline's Prometheus surface and the
health endpoints served next to it.

Three kinds of signal feed it:

  - Worker instances increment the per-item counters and the duration
    histogram inline as items finish, fail, or defer.
  - The Collector refreshes at-rest gauges from the shared work store
    on a ticker: artifact counts, failure-stream lengths, the deferred
    queue, fresh instance heartbeats, and the external-model budget.
  - The resource monitor sets its utilization gauges and the throttle
    flag each sample.

The health registry aggregates component probes (the store, OCR and
inference endpoints, the document service) into /health, /ready and
/live handlers. Readiness gates only on the store; everything else
degrades rather than blocks.

All metrics are package-level and registered in init, so importing the
package is enough to make every signal scrapeable once the launcher
serves Handler() on the configured listen address.
*/
package metrics
