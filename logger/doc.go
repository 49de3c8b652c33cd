// Package logger provides structured logging for meshprobe using zerolog.
//
// Loggers carry a service name and optional component tag; fields are passed
// as maps so call sites stay free of zerolog types.
//
//	log := logger.WithComponent("health")
//	log.Warn("probe failed", logger.Fields("service_id", id, "target", target))
package logger
