// Package blob abstracts the durable object store behind a small
// interface so the service layer never sees S3 directly.
package blob

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

// Object describes a stored blob.
type Object struct {
	URL      string // public or presigned URL the client can fetch
	Pathname string // store-internal key, needed for Head/Delete
	Size     int64
}

// Store is the contract the upload and download paths depend on.
type Store interface {
	// Put stores content under a fresh pathname derived from name and
	// returns the object reference.
	Put(ctx context.Context, name string, content io.Reader, size int64) (*Object, error)

	// Head returns metadata for a stored object.
	Head(ctx context.Context, pathname string) (*Object, error)

	// Delete removes a stored object. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, pathname string) error

	// DownloadURL returns a URL a client can be redirected to. For
	// private buckets this is a presigned GET.
	DownloadURL(ctx context.Context, pathname string) (string, error)
}
