// Package healthcheck implements periodic health checking for backend servers.
//
// Every tick probes all backends concurrently. A 2xx answer marks a backend
// healthy; a transport error, timeout, non-2xx status or a panicking probe
// marks it unhealthy. Nothing is retried within a tick and no probe failure
// escapes the monitor.
package healthcheck
