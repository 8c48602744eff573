// Package config loads the balancer configuration from a YAML file and
// environment variables and validates it before anything is started: server
// settings, the ordered backend list, strategy selection with its affinity
// table, health checking, rate limiting, metrics and logging.
package config
