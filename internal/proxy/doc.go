// Package proxy forwards dispatched requests to their backend with
// net/http/httputil reverse proxies, one per backend.
package proxy
