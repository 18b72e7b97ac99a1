// ABOUTME: Package chat is the live support chat core: registry, lifecycle, routing, presence
// ABOUTME: State is partitioned by session/user key and each partition is serialized

// Package chat implements the live support chat service: an in-memory
// registry of transport connections, the waiting/active/ended session state
// machine, admin claim, typing presence with bounded staleness, and the
// message router that persists and fans out every event in per-session
// order.
package chat
