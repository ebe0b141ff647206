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

package blob

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memFolder struct {
	name   string
	parent string
}

type memFile struct {
	name    string
	folder  string
	content []byte
}

// Memory is an in-process Store with drive-like semantics: ids are opaque
// and CreateFolder does not deduplicate names.
type Memory struct {
	mu      sync.Mutex
	folders map[string]memFolder
	files   map[string]memFile

	// Call counters, read by tests.
	FolderCreates int
	Uploads       int
	Updates       int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		folders: make(map[string]memFolder),
		files:   make(map[string]memFile),
	}
}

// AddRoot registers a top-level folder, as provisioned for a broker.
func (m *Memory) AddRoot(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.folders[id] = memFolder{name: name}
	return id
}

func (m *Memory) CreateFolder(_ context.Context, name, parentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[parentID]; !ok {
		return "", fmt.Errorf("parent folder %s not found", parentID)
	}
	id := uuid.New().String()
	m.folders[id] = memFolder{name: name, parent: parentID}
	m.FolderCreates++
	return id, nil
}

func (m *Memory) FindFolder(_ context.Context, name, parentID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.folders {
		if f.parent == parentID && f.name == name {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (m *Memory) FolderExists(_ context.Context, folderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.folders[folderID]
	return ok, nil
}

func (m *Memory) FindFile(_ context.Context, name, folderID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.files {
		if f.folder == folderID && f.name == name {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (m *Memory) Upload(_ context.Context, folderID, name string, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folderID]; !ok {
		return "", fmt.Errorf("folder %s not found", folderID)
	}
	id := uuid.New().String()
	m.files[id] = memFile{name: name, folder: folderID, content: bytes.Clone(content)}
	m.Uploads++
	return id, nil
}

func (m *Memory) Download(_ context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return bytes.Clone(f.content), nil
}

func (m *Memory) Update(_ context.Context, fileID string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return fmt.Errorf("file %s not found", fileID)
	}
	f.content = bytes.Clone(content)
	m.files[fileID] = f
	m.Updates++
	return nil
}

func (m *Memory) List(_ context.Context, folderID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for id, f := range m.folders {
		if f.parent == folderID {
			out = append(out, Entry{ID: id, Name: f.name, IsFolder: true})
		}
	}
	for id, f := range m.files {
		if f.folder == folderID {
			out = append(out, Entry{ID: id, Name: f.name, Size: int64(len(f.content))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
