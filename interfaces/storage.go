package interfaces

import "context"

// KVStore is the storage collaborator: an opaque string key-value
// interface used for the persisted session snapshot, the local factor
// key cache, and redirect-flow continuation state. No transactional
// guarantees are assumed beyond single-key atomicity.
type KVStore interface {
	// Get retrieves the value for a key. Returns ErrKeyNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value under a key, overwriting any prior value.
	Set(ctx context.Context, key, value string) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Name returns an identifier for logging.
	Name() string
}

// KVStoreFactory creates key-value stores from location URIs.
type KVStoreFactory interface {
	// KVStoreFor creates a store from a URI.
	// Supports memory://, file://, s3://, vault://
	KVStoreFor(locationURI string) (KVStore, error)
}
