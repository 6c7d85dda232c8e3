package incidents

// Tombstone exposes the eviction marker to external tests.
var Tombstone = tombstone
