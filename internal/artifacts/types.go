package artifacts

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// Artifact is a tool-produced output handed to a Repository for storage:
// a screenshot, a downloaded file, a recording. This replaces the
// generated protobuf message the original service received over the wire;
// this module has no RPC boundary, so a plain struct carries the same
// fields without a wire codec.
type Artifact struct {
	Id         string
	Type       string
	MimeType   string
	Filename   string
	Size       int64
	Reference  string
	TtlSeconds int32
	Data       []byte
}

// Metadata is what a Repository persists about an Artifact once its bytes
// are handed off to a Store — everything but the bytes themselves.
type Metadata struct {
	ID         string
	SessionID  string
	EdgeID     string
	Type       string
	MimeType   string
	Filename   string
	Size       int64
	Reference  string
	TTLSeconds int32
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Filter selects a subset of artifacts for Repository.ListArtifacts.
type Filter struct {
	SessionID     string
	EdgeID        string
	Type          string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// PutOptions configures a Store.Put call.
type PutOptions struct {
	MimeType string
	TTL      time.Duration
	Metadata map[string]string
}

// Store persists artifact bytes and hands back an opaque reference a
// Repository records alongside the artifact's Metadata. LocalStore and
// S3Store are the two backends this module ships.
type Store interface {
	Put(ctx context.Context, artifactID string, data io.Reader, opts PutOptions) (string, error)
	Get(ctx context.Context, artifactID string) (io.ReadCloser, error)
	Delete(ctx context.Context, artifactID string) error
	Exists(ctx context.Context, artifactID string) (bool, error)
	Close() error
}

// Repository couples a Store's bytes with queryable Metadata. MemoryRepository,
// PersistentRepository, and SQLRepository are the three implementations.
type Repository interface {
	StoreArtifact(ctx context.Context, artifact *Artifact, data io.Reader) error
	GetArtifact(ctx context.Context, artifactID string) (*Artifact, io.ReadCloser, error)
	ListArtifacts(ctx context.Context, filter Filter) ([]*Artifact, error)
	DeleteArtifact(ctx context.Context, artifactID string) error
	PruneExpired(ctx context.Context) (int, error)
}

var defaultTTLs = struct {
	mu   sync.RWMutex
	byType map[string]time.Duration
}{
	byType: map[string]time.Duration{
		"screenshot": 7 * 24 * time.Hour,
		"recording":  30 * 24 * time.Hour,
		"file":       14 * 24 * time.Hour,
	},
}

const defaultArtifactTTL = 24 * time.Hour

// GetDefaultTTL returns the retention window for an artifact type,
// falling back to a one-day default for anything not registered via
// SetDefaultTTLs.
func GetDefaultTTL(artifactType string) time.Duration {
	key := strings.ToLower(strings.TrimSpace(artifactType))
	defaultTTLs.mu.RLock()
	defer defaultTTLs.mu.RUnlock()
	if ttl, ok := defaultTTLs.byType[key]; ok {
		return ttl
	}
	return defaultArtifactTTL
}

// SetDefaultTTLs merges ttls into the type->retention table, letting a
// host override or extend the built-in defaults. Empty keys are ignored.
func SetDefaultTTLs(ttls map[string]time.Duration) {
	if ttls == nil {
		return
	}
	defaultTTLs.mu.Lock()
	defer defaultTTLs.mu.Unlock()
	for k, v := range ttls {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		defaultTTLs.byType[key] = v
	}
}
