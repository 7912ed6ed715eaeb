package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioClient struct {
	Client *minio.Client
	Bucket string
}

// NewMinioClient initializes a new MinIO client writing to bucket.
func NewMinioClient(endpoint, accessKeyID, secretAccessKey, bucket string, useSSL bool) (*MinioClient, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}

	return &MinioClient{Client: client, Bucket: bucket}, nil
}

// EnsureBucket creates the archive bucket when it does not exist.
func (mc *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := mc.Client.BucketExists(ctx, mc.Bucket)
	if err != nil {
		return fmt.Errorf("store: check bucket %s: %w", mc.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := mc.Client.MakeBucket(ctx, mc.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("store: create bucket %s: %w", mc.Bucket, err)
	}
	return nil
}

// Archive uploads a finished run as a JSON object.
func (mc *MinioClient) Archive(ctx context.Context, characterID string, session model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("error marshalling session data: %w", err)
	}

	name := ArchiveObjectName(characterID, session.StartedAt, uuid.New())
	_, err = mc.Client.PutObject(ctx, mc.Bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("store: archive %s: %w", name, err)
	}

	return nil
}

// ArchiveObjectName returns the object key of a finished run.
func ArchiveObjectName(characterID string, startedAt time.Time, id uuid.UUID) string {
	return fmt.Sprintf("runs/%s/%s-%s.json", characterID, startedAt.UTC().Format(time.RFC3339), id)
}
