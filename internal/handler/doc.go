// Package handler implements the HTTP entry point of the load balancer.
// It wraps each request in an envelope, submits it to the configured
// dispatcher and holds the connection until the outcome has been written.
package handler
