// ABOUTME: Package field computes and records the aggregate field state of the network
// ABOUTME: Recompute is pure; Aggregator handles triggers, polling and the append-only log

// Package field turns the live population and recent messages into a single
// bounded coherence score with a dominant harmony and a pattern label.
//
// With no live agents the field is void. One agent seeds it from its own
// metrics. Two or more blend average coherence and love, then add bonuses for
// caring, wisdom and support messages in the trailing window, for message
// frequency, and for a harmony shared by more than half the population. The
// multi-agent total never exceeds 0.95.
//
// Components report mutations through Notifier. The Aggregator coalesces
// them, recomputes, appends a row to the field log and publishes it. It also
// recomputes on every poll tick so inactivity shows up in the log.
package field
