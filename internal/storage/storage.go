// Package storage archives closed-period usage statements.
//
// Two backends are provided:
//   - LocalStorage: files under a base directory, for development
//   - R2Storage: Cloudflare R2 (or any S3-compatible endpoint), for production
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage is a flat key/value object store.
type Storage interface {
	// Put stores data at key. Without opts.Overwrite an existing key fails
	// with ErrKeyExists.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the object at key; the caller closes the reader.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// PutOptions configures how an object is stored.
type PutOptions struct {
	ContentType string
	Overwrite   bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where objects are stored.
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Endpoint overrides the R2 endpoint derived from AccountID, e.g. for a
	// local MinIO.
	Endpoint string

	// Region defaults to "auto".
	Region string
}

const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// =============================================================================
// Statement Archive
// =============================================================================

const statementContentType = "application/json"

// StatementKey returns the archive key of a statement.
// Format: statements/{subscriberID}/{periodStart}.json
func StatementKey(subscriberID uuid.UUID, periodStart time.Time) string {
	return fmt.Sprintf("statements/%s/%s.json", subscriberID, domain.PeriodKey(periodStart))
}

// StatementPrefix returns the key prefix holding a subscriber's statements.
func StatementPrefix(subscriberID uuid.UUID) string {
	return fmt.Sprintf("statements/%s/", subscriberID)
}

// SaveStatement writes a statement as JSON. Re-archiving the same period
// overwrites the previous copy.
func SaveStatement(ctx context.Context, s Storage, st domain.Statement) (string, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal statement: %w", err)
	}

	key := StatementKey(st.SubscriberID, st.PeriodStart)
	if err := s.Put(ctx, key, bytes.NewReader(data), PutOptions{
		ContentType: statementContentType,
		Overwrite:   true,
	}); err != nil {
		return "", err
	}
	return key, nil
}

// LoadStatement reads the statement archived for a subscriber and period.
func LoadStatement(ctx context.Context, s Storage, subscriberID uuid.UUID, periodStart time.Time) (*domain.Statement, error) {
	rc, _, err := s.Get(ctx, StatementKey(subscriberID, periodStart))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var st domain.Statement
	if err := json.NewDecoder(rc).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode statement: %w", err)
	}
	return &st, nil
}
