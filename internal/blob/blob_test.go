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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetOrCreateFolder_Idempotent verifies that two calls with the same
// arguments return the same id and create exactly one folder.
func TestGetOrCreateFolder_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	root := m.AddRoot("broker")

	first, err := GetOrCreateFolder(ctx, m, "CLIENT_DURAND_ANNE", root)
	require.NoError(t, err)
	second, err := GetOrCreateFolder(ctx, m, "CLIENT_DURAND_ANNE", root)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.FolderCreates)

	entries, err := m.List(ctx, root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsFolder)
}

// TestMemory_UpdateKeepsID verifies overwrite in place keeps the file id.
func TestMemory_UpdateKeepsID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	root := m.AddRoot("broker")

	id, err := m.Upload(ctx, root, "Payslip_DURAND_ANNE.pdf", []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, m.Update(ctx, id, []byte("v2")))

	found, ok, err := m.FindFile(ctx, "Payslip_DURAND_ANNE.pdf", root)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, found)

	data, err := m.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, 1, m.Uploads)
	assert.Equal(t, 1, m.Updates)
}

// TestMemory_UploadUnknownFolder verifies uploads need an existing folder.
func TestMemory_UploadUnknownFolder(t *testing.T) {
	_, err := NewMemory().Upload(context.Background(), "nope", "a.pdf", nil)
	assert.Error(t, err)
}

// slowStore blocks until its context is done.
type slowStore struct{ Store }

func (slowStore) Download(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// TestBounded_Timeout verifies the decorator bounds each call.
func TestBounded_Timeout(t *testing.T) {
	b := Bounded{Store: slowStore{}, Timeout: 20 * time.Millisecond}

	start := time.Now()
	_, err := b.Download(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

// TestKeys verifies prefix based folder and file ids.
func TestKeys(t *testing.T) {
	assert.Equal(t, "brokers/b1/CLIENT_X/", folderKey("CLIENT_X", "brokers/b1/"))
	assert.Equal(t, "brokers/b1/CLIENT_X/CNI_X.pdf", fileKey("CNI_X.pdf", "brokers/b1/CLIENT_X/"))
	assert.Equal(t, "root/a_b.pdf", fileKey("a/b.pdf", "root"))
	assert.Equal(t, "top/", folderKey("top", ""))
}
