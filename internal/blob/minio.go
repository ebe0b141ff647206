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
	"io"
	"mime"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/brokerdesk/intake/internal/config"
)

// folderMarker is the zero-byte object that makes an empty prefix a folder.
const folderMarker = ".folder"

// Minio stores files in an S3-compatible bucket. Folder ids are key prefixes
// ending in "/" and file ids are object keys, so the id of a file never
// changes when its content is overwritten.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio creates a client for the configured endpoint.
func NewMinio(cfg config.StorageConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *Minio) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *Minio) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	id := folderKey(name, parentID)
	_, err := s.client.PutObject(ctx, s.bucket, id+folderMarker, bytes.NewReader(nil), 0,
		minio.PutObjectOptions{ContentType: "application/x-directory"})
	if err != nil {
		return "", fmt.Errorf("put folder marker: %w", err)
	}
	return id, nil
}

func (s *Minio) FindFolder(ctx context.Context, name, parentID string) (string, bool, error) {
	id := folderKey(name, parentID)
	ok, err := s.FolderExists(ctx, id)
	return id, ok, err
}

func (s *Minio) FolderExists(ctx context.Context, folderID string) (bool, error) {
	return s.exists(ctx, strings.TrimSuffix(folderID, "/")+"/"+folderMarker)
}

func (s *Minio) FindFile(ctx context.Context, name, folderID string) (string, bool, error) {
	key := fileKey(name, folderID)
	ok, err := s.exists(ctx, key)
	return key, ok, err
}

func (s *Minio) Upload(ctx context.Context, folderID, name string, content []byte) (string, error) {
	key := fileKey(name, folderID)
	if err := s.put(ctx, key, content); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Minio) Download(ctx context.Context, fileID string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, fileID, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", fileID, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", fileID, err)
	}
	return data, nil
}

// Update overwrites the object in place. The key must already exist.
func (s *Minio) Update(ctx context.Context, fileID string, content []byte) error {
	ok, err := s.exists(ctx, fileID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("object %s not found", fileID)
	}
	return s.put(ctx, fileID, content)
}

func (s *Minio) List(ctx context.Context, folderID string) ([]Entry, error) {
	prefix := strings.TrimSuffix(folderID, "/") + "/"
	var out []Entry
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		switch {
		case name == folderMarker || name == "":
			continue
		case strings.HasSuffix(name, "/"):
			out = append(out, Entry{ID: obj.Key, Name: strings.TrimSuffix(name, "/"), IsFolder: true})
		default:
			out = append(out, Entry{ID: obj.Key, Name: name, Size: obj.Size})
		}
	}
	return out, nil
}

func (s *Minio) put(ctx context.Context, key string, content []byte) error {
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *Minio) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// folderKey derives the prefix of a child folder.
func folderKey(name, parentID string) string {
	return fileKey(name, parentID) + "/"
}

func fileKey(name, folderID string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "/", "_")
	parent := strings.TrimSuffix(folderID, "/")
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
