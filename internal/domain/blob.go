package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver writes finished execution records to cold storage for audit.
type Archiver interface {
	// ArchiveExecution uploads a terminal execution context as a JSON
	// object and returns the object path.
	ArchiveExecution(ctx context.Context, ec ExecutionContext) (string, error)
	// ArchiveAuditLog uploads audit entries older than the cutoff and
	// returns the number archived.
	ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error)
}
