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

// Package pdfdoc converts attachments to PDF, merges PDFs in order and counts
// their pages. Everything happens in memory.
package pdfdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	// Decoders for formats the PDF importer cannot take directly.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrUnsupported is returned for attachments that cannot become a PDF.
var ErrUnsupported = errors.New("unsupported document format")

func init() {
	api.DisableConfigDir()
}

// Processor implements the document operations of the consolidation engine.
type Processor struct {
	conf *model.Configuration
}

// NewProcessor creates a processor with relaxed PDF validation, since scanned
// attachments are often slightly malformed.
func NewProcessor() *Processor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Processor{conf: conf}
}

// Kind classifies content as "pdf", "image" (importable as is), "raster"
// (decodable, re-encoded first) or "" when unsupported.
func Kind(filename string, content []byte) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "pdf"
	case ".jpg", ".jpeg", ".png":
		return "image"
	case ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return "raster"
	}
	switch ct := http.DetectContentType(content); {
	case ct == "application/pdf":
		return "pdf"
	case ct == "image/jpeg" || ct == "image/png":
		return "image"
	case strings.HasPrefix(ct, "image/"):
		return "raster"
	}
	return ""
}

// ToPDF converts one attachment to a PDF document. PDFs are validated and
// returned unchanged.
func (p *Processor) ToPDF(ctx context.Context, filename string, content []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch Kind(filename, content) {
	case "pdf":
		if _, err := p.PageCount(content); err != nil {
			return nil, fmt.Errorf("invalid pdf %s: %w", filename, err)
		}
		return content, nil
	case "image":
		return p.importImage(filename, content)
	case "raster":
		img, _, err := image.Decode(bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("decode image %s: %w", filename, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("re-encode image %s: %w", filename, err)
		}
		return p.importImage(filename, buf.Bytes())
	default:
		return nil, fmt.Errorf("%s: %w", filename, ErrUnsupported)
	}
}

func (p *Processor) importImage(filename string, content []byte) ([]byte, error) {
	var out bytes.Buffer
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, &out, []io.Reader{bytes.NewReader(content)}, imp, p.conf); err != nil {
		return nil, fmt.Errorf("import image %s: %w", filename, err)
	}
	return out.Bytes(), nil
}

// Merge concatenates PDFs in the given order. A single document is returned as is.
func (p *Processor) Merge(ctx context.Context, docs [][]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch len(docs) {
	case 0:
		return nil, errors.New("nothing to merge")
	case 1:
		return docs[0], nil
	}

	readers := make([]io.ReadSeeker, 0, len(docs))
	for _, d := range docs {
		readers = append(readers, bytes.NewReader(d))
	}
	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, p.conf); err != nil {
		return nil, fmt.Errorf("merge %d documents: %w", len(docs), err)
	}
	return out.Bytes(), nil
}

// PageCount returns the number of pages of a PDF.
func (p *Processor) PageCount(doc []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(doc), p.conf)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}
