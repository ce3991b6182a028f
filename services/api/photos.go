package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	gos3 "escapade/pkg/s3"
)

// PhotoBucket stores profile photos in S3 and hands out short-lived links.
type PhotoBucket struct {
	client *gos3.Client
	bucket string
	ttl    time.Duration
}

// NewPhotoBucket returns a PhotoBucket writing to bucket.
func NewPhotoBucket(client *gos3.Client, bucket string, ttl time.Duration) (*PhotoBucket, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PhotoBucket{client: client, bucket: bucket, ttl: ttl}, nil
}

// PutPhoto uploads data under the session's photo key.
func (p *PhotoBucket) PutPhoto(ctx context.Context, sessionID uuid.UUID, ext, contentType string, data []byte) (string, error) {
	key := gos3.PhotoKey(sessionID.String(), ext)
	if err := p.client.PutBytes(ctx, p.bucket, key, contentType, data); err != nil {
		return "", err
	}
	return key, nil
}

// URL presigns a GET for key.
func (p *PhotoBucket) URL(ctx context.Context, key string) (string, error) {
	return p.client.PresignGet(ctx, p.bucket, key, p.ttl)
}
