// ABOUTME: Package router delivers messages between registered agents
// ABOUTME: Every message carries harmony, field impact and love scores computed before it is stored

// Package router persists directed, broadcast and multicast messages.
//
// A send derives three fields from the content using the current harmony
// tables: the harmony category, the field impact and the love quotient.
// Broadcasts and collective messages are written as one row per recipient.
// Each delivered row bumps the sender's counters in one serialised write,
// is pushed to the recipient's stream topic and requests a field recompute.
//
// Sends are not retried. A caller that may retry passes an IdempotencyKey;
// a repeat within the cache ttl returns the original receipt.
package router
