// Package gcs writes scan records as JSON objects to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"prefix"`
}

// BlobStore writes artifacts to a configured GCS bucket. It implements
// scan.Sink and scan.RecordReader.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var (
	_ scan.Sink         = (*BlobStore)(nil)
	_ scan.RecordReader = (*BlobStore)(nil)
)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns where the records of scanID live.
func (s *BlobStore) ObjectName(scanID string) string {
	name := "scans/" + scanID + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// WriteScan uploads records as one JSON object.
func (s *BlobStore) WriteScan(ctx context.Context, records scan.Records) error {
	if records.Payload.ScanID == "" {
		return errors.New("scan id is required")
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal scan records: %w", err)
	}
	if _, err := s.PutObject(ctx, s.ObjectName(records.Payload.ScanID), "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload scan %s: %w", records.Payload.ScanID, err)
	}
	return nil
}

// ScanRecords downloads what WriteScan uploaded.
func (s *BlobStore) ScanRecords(ctx context.Context, scanID string) (scan.Records, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.ObjectName(scanID)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return scan.Records{}, fmt.Errorf("%w: %s", scan.ErrScanNotFound, scanID)
	}
	if err != nil {
		return scan.Records{}, fmt.Errorf("open scan %s: %w", scanID, err)
	}
	defer func() { _ = r.Close() }()
	var records scan.Records
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return scan.Records{}, fmt.Errorf("decode scan %s: %w", scanID, err)
	}
	return records, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
