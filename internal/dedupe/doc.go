// Package dedupe is a bounded TTL cache keyed by string. The router keeps
// idempotency-key receipts in it so a retried send returns the ids written the
// first time instead of delivering again.
package dedupe
