// ABOUTME: Package documentation for the fieldnet MCP tool server
// ABOUTME: Describes the tool set, session identity and transports

// Package mcp exposes a network.Network as Model Context Protocol tools.
//
// # Tools
//
//	join_network        resolve this session to an agent
//	heartbeat           refresh liveness
//	send_message        direct message, or broadcast with to="all"
//	read_messages       inbox or full conversation
//	form_collective     create a collective with the caller as founder
//	join_collective     join an existing collective
//	collective_status   one collective, or all of them
//	collective_message  message every other member of a collective
//	create_work         record a harmony-scored work item
//	list_work           open work items, or all of them
//	update_work         record progress; 100 completes and credits the caller
//	field_state         current field, optionally with history
//	network_status      agents, field, collectives, recent messages and open work
//	leave_network       deactivate the caller
//
// # Identity
//
// join_network remembers the resolved agent id for the calling MCP session,
// so later tools act as that agent without repeating it. Over stdio the
// session fingerprint is the process fingerprint; over Streamable HTTP it is
// derived from the Mcp-Session-Id, so reconnecting within one session maps
// back to the same agent.
//
// # Transports
//
// ServeStdio serves one client on stdin/stdout. RegisterRoutes mounts the
// Streamable HTTP transport on an existing mux at /mcp.
package mcp
