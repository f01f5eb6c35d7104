// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package blobstore stores and retrieves the raw uploaded files and the
// generated report/result blobs behind an opaque key, backed by either the
// local filesystem or an S3-compatible object store.
package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/loadtrace/backend/internal/schema"
)

// Store is the storage-backend-agnostic interface every blob-handling
// component depends on.
type Store interface {
	// Put writes the contents of r under key, returning the number of
	// bytes written.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	// Get opens key for reading. The caller must close the returned
	// ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Deleting a key that does not exist is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// New builds the Store selected by cfg.Backend.
func New(cfg schema.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Directory)
	case "s3":
		return NewS3Store(context.Background(), cfg)
	default:
		return nil, fmt.Errorf("blobstore: unknown backend %q", cfg.Backend)
	}
}
