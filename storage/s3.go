package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/keyshard/keyshard/interfaces"
)

// S3KV implements a key-value store on Amazon S3 or compatible services.
type S3KV struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3KV creates an S3-backed store. If accessKey and secretKey are
// empty, the default credential chain is used.
func NewS3KV(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3KV, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3KV{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      prefix,
		log:         log,
		locationURI: uri,
	}, nil
}

// Get retrieves the value for a key. Returns ErrKeyNotFound if absent.
func (s *S3KV) Get(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return "", interfaces.ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read object body: %w", err)
	}

	s.log.Debug("Fetched value from S3",
		slog.String("key", key),
		slog.Int("size", len(data)))

	return string(data), nil
}

// Set stores a value under a key.
func (s *S3KV) Set(ctx context.Context, key, value string) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
		Body:   aws.ReadSeekCloser(bytes.NewReader([]byte(value))),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}

	s.log.Debug("Stored value to S3",
		slog.String("key", key),
		slog.Int("size", len(value)))

	return nil
}

// Delete removes a key. S3 deletes are idempotent.
func (s *S3KV) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCollaboratorUnavailable, err)
	}
	return nil
}

// Name returns the backend identifier for logging.
func (s *S3KV) Name() string {
	return "s3"
}

// LocationURI returns the URI identifying this backend.
func (s *S3KV) LocationURI() string {
	return s.locationURI
}

func (s *S3KV) objectKey(key string) string {
	return path.Join(s.prefix, key)
}
