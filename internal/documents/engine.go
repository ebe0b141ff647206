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

// Package documents turns the attachments of one message into per-type
// master files in the case folder. Each master file only ever grows: a new
// delivery of a type is merged after the pages already stored.
package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brokerdesk/intake/internal/blob"
	"github.com/brokerdesk/intake/internal/failure"
	"github.com/brokerdesk/intake/internal/metrics"
	"github.com/brokerdesk/intake/internal/models"
)

const textHintChars = 2000

// Converter turns attachments into PDFs and merges them.
type Converter interface {
	ToPDF(ctx context.Context, filename string, content []byte) ([]byte, error)
	Merge(ctx context.Context, docs [][]byte) ([]byte, error)
	PageCount(doc []byte) (int, error)
}

// TextExtractor reads the text layer of a PDF for type hints.
type TextExtractor interface {
	ExtractText(doc []byte, maxChars int) (string, error)
}

// RecordStore is the document record persistence the engine needs.
type RecordStore interface {
	ListRecords(ctx context.Context, caseID string) ([]models.DocumentRecord, error)
	FindRecordByHash(ctx context.Context, caseID, hash string) (*models.DocumentRecord, error)
	CreateRecord(ctx context.Context, r *models.DocumentRecord) error
	UpdateRecord(ctx context.Context, r *models.DocumentRecord) error
}

// Config tunes an Engine.
type Config struct {
	// Workers bounds how many groups are consolidated at once. Zero means one.
	Workers int
	// Text enables PDF text hints for files whose name says nothing.
	Text    TextExtractor
	Metrics *metrics.Metrics
	// Locks is shared between engines working on the same store.
	Locks *KeyedLocker
	// Lease extends the (case, type) lock across processes. Nil keeps it
	// process-local.
	Lease Lease
	// MaxAttachmentBytes rejects larger attachments. Zero means no limit.
	MaxAttachmentBytes int64
}

// Engine is the document consolidation engine.
type Engine struct {
	blobs   blob.Store
	records RecordStore
	conv    Converter
	catalog *Catalog
	text    TextExtractor
	metrics *metrics.Metrics
	locks   *KeyedLocker
	lease   Lease
	maxSize int64
	workers int
	now     func() time.Time
}

// NewEngine creates an engine over the given storage and catalog.
func NewEngine(blobs blob.Store, records RecordStore, conv Converter, catalog *Catalog, cfg Config) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Locks == nil {
		cfg.Locks = NewKeyedLocker()
	}
	return &Engine{
		blobs:   blobs,
		records: records,
		conv:    conv,
		catalog: catalog,
		text:    cfg.Text,
		metrics: cfg.Metrics,
		locks:   cfg.Locks,
		lease:   cfg.Lease,
		maxSize: cfg.MaxAttachmentBytes,
		workers: cfg.Workers,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GroupResult describes what happened to one master type of a message.
type GroupResult struct {
	MasterType MasterType
	FileName   string
	FileID     string
	Sources    []string
	// Pages is the page count of the master file after this message.
	Pages    int
	Appended bool
	RecordID string
	// Skipped is set when every file of the group turned out to be stored
	// already by a concurrent message.
	Skipped    bool
	Duplicates []string
	Err        error
}

// Report is the outcome of consolidating one message.
type Report struct {
	Groups     []GroupResult
	Duplicates []string
}

// Stored returns the names of the master files written.
func (r *Report) Stored() []string {
	var out []string
	for _, g := range r.Groups {
		if g.Err == nil && !g.Skipped {
			out = append(out, g.FileName)
		}
	}
	return out
}

// Failed returns the groups that could not be consolidated.
func (r *Report) Failed() []GroupResult {
	var out []GroupResult
	for _, g := range r.Groups {
		if g.Err != nil {
			out = append(out, g)
		}
	}
	return out
}

// Err joins the per-group errors, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, g := range r.Failed() {
		errs = append(errs, g.Err)
	}
	return errors.Join(errs...)
}

type pending struct {
	att  models.Attachment
	raw  RawType
	hash string
}

type group struct {
	master MasterType
	items  []pending
}

// Consolidate stores the attachments of one message in the case folder.
// Group failures are reported in the Report; the returned error is reserved
// for conditions that stop the whole message, such as a missing case folder.
func (e *Engine) Consolidate(ctx context.Context, c *models.Case, attachments []models.Attachment) (*Report, error) {
	if c.FolderID == "" {
		return nil, failure.FolderMissing("case", c.ID)
	}
	ok, err := e.blobs.FolderExists(ctx, c.FolderID)
	if err != nil {
		return nil, failure.Storage(fmt.Errorf("check folder of case %s: %w", c.ID, err), "folder check")
	}
	if !ok {
		return nil, failure.FolderMissing("case", c.ID)
	}

	report := &Report{}
	items, err := e.dedup(ctx, c, attachments, report)
	if err != nil {
		return nil, err
	}
	groups := e.group(items)
	if len(groups) == 0 {
		return report, nil
	}

	results := make([]GroupResult, len(groups))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, grp := range groups {
		g.Go(func() error {
			results[i] = e.consolidateGroup(ctx, c, grp)
			return nil
		})
	}
	_ = g.Wait()
	for _, res := range results {
		report.Duplicates = append(report.Duplicates, res.Duplicates...)
	}
	report.Groups = append(report.Groups, results...)

	slog.Info("attachments consolidated",
		"case_id", c.ID,
		"broker_id", c.BrokerID,
		"groups", len(groups),
		"failed", len(report.Failed()),
		"duplicates", len(report.Duplicates),
	)
	return report, nil
}

// dedup hashes every attachment and drops the ones already stored for the
// case or repeated within the message. Oversized attachments are reported as
// failed groups without being read further.
func (e *Engine) dedup(ctx context.Context, c *models.Case, attachments []models.Attachment, report *Report) ([]pending, error) {
	caseID := c.ID
	seen := make(map[string]bool, len(attachments))
	var out []pending
	for _, att := range attachments {
		if e.maxSize > 0 && int64(len(att.Content)) > e.maxSize {
			report.Groups = append(report.Groups, e.rejectOversized(c, att))
			continue
		}
		sum := sha256.Sum256(att.Content)
		hash := hex.EncodeToString(sum[:])
		if seen[hash] {
			report.Duplicates = append(report.Duplicates, att.Filename)
			e.metrics.DuplicateAttachment()
			continue
		}
		seen[hash] = true

		existing, err := e.records.FindRecordByHash(ctx, caseID, hash)
		if err != nil {
			return nil, failure.Persistence(fmt.Errorf("find record by hash: %w", err), "find record")
		}
		if existing != nil {
			slog.Info("attachment already stored, skipping",
				"case_id", caseID,
				"filename", att.Filename,
				"record_id", existing.ID,
			)
			report.Duplicates = append(report.Duplicates, att.Filename)
			e.metrics.DuplicateAttachment()
			continue
		}
		out = append(out, pending{att: att, raw: e.detect(att), hash: hash})
	}
	return out, nil
}

func (e *Engine) rejectOversized(c *models.Case, att models.Attachment) GroupResult {
	master := MasterOf(ClassifyName(att.Filename))
	err := fmt.Errorf("attachment %s is %d bytes, limit is %d", att.Filename, len(att.Content), e.maxSize)
	e.metrics.GroupFailed(string(master))
	slog.Warn("attachment too large, rejected",
		"case_id", c.ID,
		"filename", att.Filename,
		"size", len(att.Content),
		"limit", e.maxSize,
	)
	return GroupResult{
		MasterType: master,
		FileName:   MasterFileName(master, c.LastName, c.FirstName),
		Sources:    []string{att.Filename},
		Err:        failure.GroupFailed(err, string(master)),
	}
}

// detect classifies by file name, then by PDF text when the name is silent.
func (e *Engine) detect(att models.Attachment) RawType {
	raw := ClassifyName(att.Filename)
	if raw != RawUnrecognized || e.text == nil || !strings.HasSuffix(strings.ToLower(att.Filename), ".pdf") {
		return raw
	}
	text, err := e.text.ExtractText(att.Content, textHintChars)
	if err != nil {
		slog.Debug("pdf text hint unavailable", "filename", att.Filename, "error", err)
		return raw
	}
	return ClassifyText(text)
}

// group buckets attachments by master type in order of first appearance.
// Identity scans are ordered front, back, then complete documents.
func (e *Engine) group(items []pending) []group {
	var groups []group
	index := make(map[MasterType]int)
	for _, it := range items {
		m := MasterOf(it.raw)
		i, ok := index[m]
		if !ok {
			i = len(groups)
			index[m] = i
			groups = append(groups, group{master: m})
		}
		groups[i].items = append(groups[i].items, it)
	}
	for i := range groups {
		if groups[i].master == MasterIdentity {
			sort.SliceStable(groups[i].items, func(a, b int) bool {
				return sideRank(groups[i].items[a].raw) < sideRank(groups[i].items[b].raw)
			})
		}
	}
	return groups
}

func sideRank(r RawType) int {
	switch r {
	case RawIdentityFront:
		return 0
	case RawIdentityBack:
		return 1
	default:
		return 2
	}
}

func (e *Engine) consolidateGroup(ctx context.Context, c *models.Case, grp group) GroupResult {
	res := GroupResult{
		MasterType: grp.master,
		FileName:   MasterFileName(grp.master, c.LastName, c.FirstName),
	}
	for _, it := range grp.items {
		res.Sources = append(res.Sources, it.att.Filename)
	}

	err := e.storeGroup(ctx, c, &grp, &res)
	if err != nil {
		res.Err = failure.GroupFailed(err, string(grp.master))
		e.metrics.GroupFailed(string(grp.master))
		slog.Warn("attachment group failed",
			"case_id", c.ID,
			"master_type", grp.master,
			"files", res.Sources,
			"error", err,
		)
	}
	return res
}

func (e *Engine) storeGroup(ctx context.Context, c *models.Case, grp *group, res *GroupResult) error {
	// Conversion needs no lock.
	docs := make([][]byte, 0, len(grp.items))
	for _, it := range grp.items {
		doc, err := e.conv.ToPDF(ctx, it.att.Filename, it.att.Content)
		if err != nil {
			return fmt.Errorf("convert %s: %w", it.att.Filename, err)
		}
		docs = append(docs, doc)
	}

	unlock, err := e.lock(ctx, c.ID+"/"+string(grp.master))
	if err != nil {
		return err
	}
	defer unlock()

	// A concurrent message may have stored the same files since dedup ran.
	var keep []pending
	var keepDocs [][]byte
	for i, it := range grp.items {
		existing, err := e.records.FindRecordByHash(ctx, c.ID, it.hash)
		if err != nil {
			return failure.Persistence(fmt.Errorf("find record by hash: %w", err), "find record")
		}
		if existing != nil {
			slog.Info("attachment stored by a concurrent message, skipping",
				"case_id", c.ID,
				"filename", it.att.Filename,
				"record_id", existing.ID,
			)
			res.Duplicates = append(res.Duplicates, it.att.Filename)
			e.metrics.DuplicateAttachment()
			continue
		}
		keep = append(keep, it)
		keepDocs = append(keepDocs, docs[i])
	}
	if len(keep) == 0 {
		res.Skipped = true
		return nil
	}
	grp.items = keep
	res.Sources = res.Sources[:0]
	for _, it := range keep {
		res.Sources = append(res.Sources, it.att.Filename)
	}

	local, err := e.conv.Merge(ctx, keepDocs)
	if err != nil {
		return fmt.Errorf("merge group: %w", err)
	}
	final, err := e.reconcile(ctx, c, local, res)
	if err != nil {
		return err
	}
	res.Pages, err = e.conv.PageCount(final)
	if err != nil {
		return fmt.Errorf("count pages of %s: %w", res.FileName, err)
	}
	mode := "created"
	if res.Appended {
		mode = "appended"
	}
	e.metrics.Consolidated(string(grp.master), mode)

	return e.register(ctx, c, *grp, res)
}

// lock takes the (case, type) lock in process, then the cross-process lease
// when one is configured.
func (e *Engine) lock(ctx context.Context, key string) (func(), error) {
	unlock := e.locks.Lock(key)
	if e.lease == nil {
		return unlock, nil
	}
	release, err := e.lease.Acquire(ctx, key)
	if err != nil {
		unlock()
		return nil, failure.Storage(fmt.Errorf("acquire lease %s: %w", key, err), "lease")
	}
	return func() {
		release()
		unlock()
	}, nil
}

// reconcile appends local to the existing master file or uploads it as a new
// one, and returns the content now stored. Callers hold the (case, type) lock.
func (e *Engine) reconcile(ctx context.Context, c *models.Case, local []byte, res *GroupResult) ([]byte, error) {
	fileID, found, err := e.blobs.FindFile(ctx, res.FileName, c.FolderID)
	if err != nil {
		return nil, failure.Storage(err, "find file")
	}
	if !found {
		id, err := e.blobs.Upload(ctx, c.FolderID, res.FileName, local)
		if err != nil {
			return nil, failure.Storage(err, "upload")
		}
		res.FileID = id
		return local, nil
	}

	existing, err := e.blobs.Download(ctx, fileID)
	if err != nil {
		return nil, failure.Storage(err, "download")
	}
	merged, err := e.conv.Merge(ctx, [][]byte{existing, local})
	if err != nil {
		return nil, fmt.Errorf("append to %s: %w", res.FileName, err)
	}
	if err := e.blobs.Update(ctx, fileID, merged); err != nil {
		return nil, failure.Storage(err, "update")
	}
	res.FileID = fileID
	res.Appended = true
	return merged, nil
}

// register creates or updates the document record of the group.
func (e *Engine) register(ctx context.Context, c *models.Case, grp group, res *GroupResult) error {
	dt, known := e.catalog.Resolve(grp.master)

	records, err := e.records.ListRecords(ctx, c.ID)
	if err != nil {
		return failure.Persistence(err, "list records")
	}
	var rec *models.DocumentRecord
	for i := range records {
		r := &records[i]
		if (res.FileID != "" && r.FileID == res.FileID) || (known && r.TypeID == dt.ID) {
			rec = r
			break
		}
	}

	now := e.now()
	hashes := make([]string, 0, len(grp.items))
	for _, it := range grp.items {
		hashes = append(hashes, it.hash)
	}

	var meta map[string]any
	switch {
	case grp.master == MasterOther:
		meta = map[string]any{"filename": strings.Join(res.Sources, ", ")}
	default:
		meta = map[string]any{
			"filename": res.FileName,
			"pages":    res.Pages,
			"sources":  res.Sources,
		}
		if !known {
			meta["nature"] = string(grp.master)
		}
	}

	if rec == nil {
		rec = &models.DocumentRecord{CaseID: c.ID}
		if known {
			rec.TypeID = dt.ID
		}
		rec.Metadata = meta
	} else {
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		for k, v := range meta {
			rec.Metadata[k] = v
		}
	}
	rec.Status = models.DocumentReceived
	rec.FileID = res.FileID
	rec.ContentHash = hashes[len(hashes)-1]
	for _, h := range hashes {
		if !contains(rec.Hashes, h) {
			rec.Hashes = append(rec.Hashes, h)
		}
	}
	rec.ReceivedAt = &now

	if rec.ID == "" {
		err = e.records.CreateRecord(ctx, rec)
	} else {
		err = e.records.UpdateRecord(ctx, rec)
	}
	if err != nil {
		return failure.Persistence(err, "save record")
	}
	res.RecordID = rec.ID
	return nil
}
