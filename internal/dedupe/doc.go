// ABOUTME: Package dedupe provides a TTL cache over client send nonces
// ABOUTME: Used by the message router to make client retries idempotent

package dedupe
