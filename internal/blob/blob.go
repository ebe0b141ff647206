// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blob adapts long-term file storage to the flat primitives the
// consolidation engine relies on: folders, find-by-name, upload, download,
// overwrite in place and listing. No operation is transactional.
package blob

import (
	"context"
	"fmt"
	"time"
)

// Entry is one item of a folder listing.
type Entry struct {
	ID       string
	Name     string
	IsFolder bool
	Size     int64
}

// Store is the blob storage service consumed by the intake pipeline.
type Store interface {
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	FindFolder(ctx context.Context, name, parentID string) (string, bool, error)
	FolderExists(ctx context.Context, folderID string) (bool, error)
	FindFile(ctx context.Context, name, folderID string) (string, bool, error)
	Upload(ctx context.Context, folderID, name string, content []byte) (string, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	Update(ctx context.Context, fileID string, content []byte) error
	List(ctx context.Context, folderID string) ([]Entry, error)
}

// GetOrCreateFolder returns the id of the folder called name under parentID,
// creating it only when it does not exist yet.
func GetOrCreateFolder(ctx context.Context, s Store, name, parentID string) (string, error) {
	id, ok, err := s.FindFolder(ctx, name, parentID)
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, err)
	}
	if ok {
		return id, nil
	}
	id, err = s.CreateFolder(ctx, name, parentID)
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	return id, nil
}

// Bounded wraps a Store so every call carries its own deadline.
type Bounded struct {
	Store   Store
	Timeout time.Duration
}

func (b Bounded) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if b.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, b.Timeout)
}

func (b Bounded) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.Store.CreateFolder(ctx, name, parentID)
}

func (b Bounded) FindFolder(ctx context.Context, name, parentID string) (string, bool, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.Store.FindFolder(ctx, name, parentID)
}

func (b Bounded) FolderExists(ctx context.Context, folderID string) (bool, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.Store.FolderExists(ctx, folderID)
}

func (b Bounded) FindFile(ctx context.Context, name, folderID string) (string, bool, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.Store.FindFile(ctx, name, folderID)
}

func (b Bounded) Upload(ctx context.Context, folderID, name string, content []byte) (string, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.Store.Upload(ctx, folderID, name, content)
}

func (b Bounded) Download(ctx context.Context, fileID string) ([]byte, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.Store.Download(ctx, fileID)
}

func (b Bounded) Update(ctx context.Context, fileID string, content []byte) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.Store.Update(ctx, fileID, content)
}

func (b Bounded) List(ctx context.Context, folderID string) ([]Entry, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.Store.List(ctx, folderID)
}
