package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/keyshard/keyshard/interfaces"
)

// Factory creates key-value stores from URI strings.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a new factory instance.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// KVStoreFor creates a key-value store from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory:// - In-process map storage
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2 secrets engine
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) KVStoreFor(locationURI string) (interfaces.KVStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid location URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryKV(), nil
	case "file":
		return f.createFileKV(u)
	case "s3":
		return f.createS3KV(u)
	case "vault":
		return f.createVaultKV(u)
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %s", u.Scheme)
	}
}

// createFileKV creates a filesystem store.
// URI format: file:///var/lib/keyshard
func (f *Factory) createFileKV(u *url.URL) (interfaces.KVStore, error) {
	f.log.Debug("Creating file storage", slog.String("uri", u.String()))

	dir := u.Path
	if u.Host != "" {
		dir = u.Host + u.Path
	}
	if dir == "" {
		return nil, fmt.Errorf("file URI requires a directory path")
	}

	return NewFileKV(dir, f.log)
}

// createS3KV creates an S3 store.
// URI format: s3://[accessKey:secretKey@]bucket/prefix?region=us-east-1[&endpoint=...]
func (f *Factory) createS3KV(u *url.URL) (interfaces.KVStore, error) {
	f.log.Debug("Creating s3 storage", slog.String("bucket", u.Host))

	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("s3 URI requires a bucket name")
	}

	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	return NewS3KV(bucket, prefix, region, u.Query().Get("endpoint"), accessKey, secretKey, f.log)
}

// createVaultKV creates a Vault store.
// URI format: vault://host:port/mount/path?token=...[&scheme=https]
func (f *Factory) createVaultKV(u *url.URL) (interfaces.KVStore, error) {
	f.log.Debug("Creating vault storage", slog.String("host", u.Host))

	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("vault URI requires /mount/path")
	}

	scheme := u.Query().Get("scheme")
	if scheme == "" {
		scheme = "https"
	}

	address := fmt.Sprintf("%s://%s", scheme, u.Host)
	return NewVaultKV(address, parts[0], parts[1], u.Query().Get("token"), f.log)
}
