// Package admin exposes the administrative HTTP API.
//
// The API is the only inbound surface the daemon accepts: a status
// snapshot, the emergency stop, and the emergency event list. It reports
// aggregate state only; requested clock values never appear in responses.
package admin
