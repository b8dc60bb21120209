package domain

import (
	"context"
	"io"
	"time"
)

// BlobStore writes archive objects to object storage.
type BlobStore interface {
	Put(ctx context.Context, path string, data io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies old records from the database to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchivePositions(ctx context.Context, before time.Time) (int64, error)
}
