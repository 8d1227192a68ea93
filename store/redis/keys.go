package redis

// Redis key naming conventions for bridge data.

const keyPrefix = "{bridge}:"

// ── Request keys ──

// requestKey returns the Hash key for a request: {bridge}:request:{id}
func requestKey(id string) string { return keyPrefix + "request:" + id }

// requestIDsKey is the Set tracking all request IDs for enumeration.
const requestIDsKey = keyPrefix + "request_ids"

// ── Feed keys ──

// feedKey is the Stream of created records.
const feedKey = keyPrefix + "feed"

// checkpointKey returns the cursor key for a consumer.
func checkpointKey(consumer string) string { return keyPrefix + "checkpoint:" + consumer }

// ── Reconcile keys ──

// reconcileKey returns the Hash key for an entry: {bridge}:reconcile:{id}
func reconcileKey(id string) string { return keyPrefix + "reconcile:" + id }

// reconcileIndexKey is the Sorted Set of entry IDs scored by creation time.
const reconcileIndexKey = keyPrefix + "reconcile_idx"
