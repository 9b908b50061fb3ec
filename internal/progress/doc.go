// Package progress provides scan progress events and a non-blocking hub that
// batches them on a background goroutine and fans them out to sinks such as
// logs, Prometheus collectors or the scan store.
package progress
