// ABOUTME: Package network assembles the presence network from its components
// ABOUTME: Transports depend on this package rather than on the components directly

// Package network wires a store.Store into the session resolver, agent
// registry, message router, collective manager, work manager and field
// aggregator.
//
// Every mutation made through a Network notifies the aggregator, which
// coalesces them into field-log snapshots and publishes each snapshot on
// the stream hub alongside delivered messages.
package network
