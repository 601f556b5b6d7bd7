// Package types defines the shared data model of the cluster federation
// subsystem: agents, spawn requests, capacity reports, and the structured
// error taxonomy used by every component.
package types
