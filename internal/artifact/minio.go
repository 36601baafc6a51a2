// Package artifact stores exported decision reports in S3-compatible
// object storage.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Report describes one archived report object.
type Report struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	URL          string    `json:"url,omitempty"`
}

// Store archives exported reports in a MinIO bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		log.Printf("artifact: created bucket %s", bucket)
	}

	return &Store{client: client, bucket: bucket}, nil
}

// PutReport archives an exported report and returns its object key.
// Keys are partitioned by decision id so repeated exports are kept.
func (s *Store) PutReport(ctx context.Context, decisionID, filename string, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("reports/%s/%s-%s", decisionID, time.Now().UTC().Format("20060102T150405Z"), filename)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put report %s: %w", key, err)
	}
	return key, nil
}

// ListReports returns a decision's archived reports, newest first. The
// timestamped key prefix makes lexical order chronological.
func (s *Store) ListReports(ctx context.Context, decisionID string) ([]Report, error) {
	prefix := "reports/" + decisionID + "/"
	reports := []Report{}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list reports %s: %w", prefix, obj.Err)
		}
		reports = append(reports, Report{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Key > reports[j].Key })
	return reports, nil
}

// PresignedURL returns a temporary download link for an archived report.
func (s *Store) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign report %s: %w", key, err)
	}
	return u.String(), nil
}
