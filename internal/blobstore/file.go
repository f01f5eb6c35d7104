// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blobstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/loadtrace/backend/internal/util"
	"github.com/loadtrace/backend/pkg/log"
)

// FileStore keeps blobs on the local filesystem, two levels of hashed
// subdirectories deep so a directory never accumulates more than a few
// thousand entries, the same fan-out idea the archive backend uses for
// jobs (there keyed by job ID, here by a hash of the opaque key).
type FileStore struct {
	root string
}

// NewFileStore opens (creating if necessary) a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("blobstore: file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) pathFor(key string) string {
	sum := sha1.Sum([]byte(key))
	hexSum := hex.EncodeToString(sum[:])
	return filepath.Join(s.root, hexSum[0:2], hexSum[2:4], key)
}

// Put writes r to the on-disk path derived from key, creating parent
// directories as needed.
func (s *FileStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	path := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		log.Errorf("blobstore: writing %q failed: %v", key, err)
		return n, err
	}
	return n, nil
}

// Get opens the file for key.
func (s *FileStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	path := s.pathFor(key)
	if !util.CheckFileExists(path) {
		return nil, os.ErrNotExist
	}
	return os.Open(path)
}

// Delete removes the file for key, if present.
func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
