// Package health probes client handles in parallel and keeps only the
// instances that answer.
//
// Probing settles every handle before returning: each probe runs under its
// own deadline, so one slow instance costs at most ProbeTimeout and never
// delays the verdict on the others. Instances that fail are closed and
// handed to a Reaper, which deregisters them in the background.
package health
