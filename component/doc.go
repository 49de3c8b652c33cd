// Package component defines lifecycle-managed parts of a meshprobe process
// (agents, the deregistration reaper, the HTTP server) and a Registry that
// starts them in order and stops them in reverse.
package component
