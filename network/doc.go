// Package network hosts a negotiation session over HTTP and lets remote
// parties use it as their event log.
//
// # Core Components
//
// Server: runs on the session host. It admits N parties, assigns their roles
// from a catalog, publishes the roster and appends the parties' signed events
// to the host's EventLog.
//
// Client: implements consensus.EventLog against a Server, so a remote
// consensus.Node runs unchanged on top of it.
//
// # Endpoints
//
//	POST /v1/join      admit a party, returns its id and bearer token
//	GET  /v1/roster    public roster, 409 until every party joined
//	GET  /v1/role      the caller's private role (auth)
//	POST /v1/events    append an event authored by the caller (auth)
//	GET  /v1/events    events after ?after=N, long-polling up to ?wait=D
//	GET  /v1/status    session progress and frozen flag
//	GET  /v1/outcome   the resolved outcome, 409 before resolution
//
// The host never interprets events: ordering is the log's job and validity is
// the fold's.
package network
