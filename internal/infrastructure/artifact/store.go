// Package artifact archives fitted model snapshots in S3-compatible storage,
// one JSON object per model version.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"zentry-anomalies/internal/domain"
	"zentry-anomalies/internal/ports"
)

// Store uploads model snapshots to a bucket.
type Store struct {
	client *minio.Client
	bucket string
}

var _ ports.ArtifactStore = (*Store)(nil)

// NewStore builds an S3 client for the given endpoint and bucket.
func NewStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// StoreModel uploads the serialized model under models/<version>.json and
// returns the object key.
func (s *Store) StoreModel(ctx context.Context, model domain.ClusterModel) (string, error) {
	body, err := json.Marshal(model)
	if err != nil {
		return "", fmt.Errorf("encode model: %w", err)
	}

	key := fmt.Sprintf("models/%s.json", model.Version)
	_, err = s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", &domain.AdapterIOError{Op: "store model snapshot", Kind: domain.IOConnection, Err: err}
	}
	return key, nil
}
