// Package local writes scan records as JSON files on the local filesystem.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where scan files will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts to the local filesystem. It implements
// scan.Sink and scan.RecordReader with one JSON file per scan.
type BlobStore struct {
	baseDir string
}

var (
	_ scan.Sink         = (*BlobStore)(nil)
	_ scan.RecordReader = (*BlobStore)(nil)
)

// New creates a new local filesystem-backed store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{
		baseDir: cfg.BaseDir,
	}, nil
}

// WriteScan stores records at scans/<scanID>.json.
func (s *BlobStore) WriteScan(ctx context.Context, records scan.Records) error {
	if records.Payload.ScanID == "" {
		return errors.New("scan id is required")
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scan records: %w", err)
	}
	if _, err := s.PutObject(ctx, scanPath(records.Payload.ScanID), "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write scan %s: %w", records.Payload.ScanID, err)
	}
	return nil
}

// ScanRecords reads back what WriteScan stored.
func (s *BlobStore) ScanRecords(_ context.Context, scanID string) (scan.Records, error) {
	fullPath, err := s.resolve(scanPath(scanID))
	if err != nil {
		return scan.Records{}, err
	}
	// #nosec G304 -- resolve keeps the path inside baseDir.
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return scan.Records{}, fmt.Errorf("%w: %s", scan.ErrScanNotFound, scanID)
	}
	if err != nil {
		return scan.Records{}, fmt.Errorf("read scan %s: %w", scanID, err)
	}
	var records scan.Records
	if err := json.Unmarshal(data, &records); err != nil {
		return scan.Records{}, fmt.Errorf("decode scan %s: %w", scanID, err)
	}
	return records, nil
}

// PutObject writes data to a file on the local filesystem and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	if err := os.WriteFile(fullPath, byteData, 0o600); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("file://%s", fullPath), nil
}

// resolve joins path to baseDir, rejecting paths that escape it.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	cleanBaseDir := filepath.Clean(s.baseDir)
	cleanFullPath := filepath.Clean(filepath.Join(s.baseDir, path))
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFullPath, nil
}

func scanPath(scanID string) string {
	return filepath.Join("scans", scanID+".json")
}
