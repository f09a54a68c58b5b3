// Package dedupe provides idempotency for send requests using a time-based
// cache, so a client retrying a post with the same request ID appends the
// message to the thread only once.
package dedupe
