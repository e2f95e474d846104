package storage

import (
	"academy/academy/config"
	"academy/academy/types"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOClient struct {
	client *minio.Client
	bucket string
}

func NewMinIOClient(ctx context.Context, cfg config.Config) (*MinIOClient, error) {
	client, err := minio.New(
		cfg.MinIOEndpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
			Secure: cfg.MinIOUseSSL,
		},
	)
	if err != nil {
		return nil, err
	}
	// Create bucket if not exists
	exists, err := client.BucketExists(ctx, cfg.MinIOBucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIOBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &MinIOClient{client: client, bucket: cfg.MinIOBucket}, nil
}

// ReportKey places a run report under reports/YYYY/MM/DD/<run id>.json.
func ReportKey(r types.ProcessorReport) string {
	return path.Join("reports", r.StartedAt.UTC().Format("2006/01/02"), r.RunID+".json")
}

// SaveReport archives one sequence processor run and returns its object key.
func (m *MinIOClient) SaveReport(ctx context.Context, report types.ProcessorReport) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", err
	}
	key := ReportKey(report)
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("put report %s: %w", key, err)
	}
	return key, nil
}

func (m *MinIOClient) GetReport(ctx context.Context, key string) (*types.ProcessorReport, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	var report types.ProcessorReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", key, err)
	}
	return &report, nil
}

// ListReports returns the keys of archived reports for one UTC day ("2006/01/02").
func (m *MinIOClient) ListReports(ctx context.Context, day string) ([]string, error) {
	var keys []string
	prefix := path.Join("reports", day) + "/"
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
