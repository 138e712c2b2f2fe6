// ABOUTME: Package documentation for the fieldnet gateway server
// ABOUTME: Describes the HTTP API, streams, health checks and listener modes

// Package gateway serves a network.Network over HTTP and gRPC.
//
// # HTTP API
//
// JSON endpoints under /api drive the network: agents join with
// POST /api/agents and receive a bearer token whose subject is their agent
// id. Requests acting on behalf of an agent must present that token once
// auth.jwt_secret is configured. Admin tokens unlock POST /api/admin/clear.
//
// Two Server-Sent Event streams push live changes:
//
//	GET /api/agents/{id}/stream   messages delivered to one agent
//	GET /api/field/stream         every recorded field snapshot
//
// Work items live under /api/work: POST creates one as created_by, and
// POST /api/work/{id}/progress and /complete act as agent_id. GET lists open
// items; ?all=true includes completed ones.
//
// GET /status renders a human-readable summary page.
//
// # Error mapping
//
//	registry.ErrNotRegistered  404
//	store.ErrNotFound          404
//	collective.ErrNotMember    403
//	work.ErrInvalid            400
//	work.ErrClosed             409
//	store.ErrUnavailable       503 with Retry-After
//
// # gRPC
//
// The gRPC listener serves grpc.health.v1.Health only. The status flips to
// NOT_SERVING while store pings fail.
//
// # Listeners
//
// By default the servers bind server.grpc_addr and server.http_addr. With
// tailscale.enabled the gateway joins the tailnet through tsnet instead and
// listens on :50051 and :80 (or :443 with tailscale.https or funnel).
package gateway
