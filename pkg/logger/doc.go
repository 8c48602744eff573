// Package logger builds the application's structured logger on top of
// log/slog: JSON records in prod, human-readable text everywhere else, with
// the deployment environment attached to every record.
package logger
