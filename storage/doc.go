// Package storage implements the key-value storage collaborator used for
// session snapshots, the local factor key cache, and redirect-flow
// continuation state.
//
// Backends are created from location URIs by the Factory:
//
//   - memory:// - In-process map, for tests and ephemeral sessions
//   - file:///var/lib/keyshard - Local filesystem storage
//   - s3://bucket/prefix?region=us-east-1 - Amazon S3 or compatible object storage
//   - vault://vault.example.com:8200/secret/keyshard?token=... - HashiCorp Vault KV v2
//
// All backends implement interfaces.KVStore: opaque string values stored
// and retrieved by key, with single-key atomicity as the only guarantee.
package storage
