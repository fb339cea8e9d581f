// Package session owns connection reliability primitives shared by the
// forwarding consumers and the device supervisor.
//
// Ownership boundary:
// - dial/write timeouts for outbound consumer links
// - retry/backoff schedules
// - attempt budgets for reconnect and restart loops
package session
