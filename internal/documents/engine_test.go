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

package documents

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/intake/internal/blob"
	"github.com/brokerdesk/intake/internal/failure"
	"github.com/brokerdesk/intake/internal/models"
	"github.com/brokerdesk/intake/internal/pdfdoc"
	"github.com/brokerdesk/intake/internal/store"
)

// fakeConverter treats every line of a document as one page. Attachment
// content "pages=N;..." converts to N pages; "corrupt" fails.
type fakeConverter struct{}

func (fakeConverter) ToPDF(_ context.Context, name string, content []byte) ([]byte, error) {
	s := string(content)
	if strings.HasPrefix(s, "corrupt") {
		return nil, errors.New("cannot decode " + name)
	}
	n := 1
	head, _, _ := strings.Cut(s, ";")
	if v, err := strconv.Atoi(strings.TrimPrefix(head, "pages=")); err == nil && v > 0 {
		n = v
	}
	return []byte(strings.Repeat("page:"+name+"\n", n)), nil
}

func (fakeConverter) Merge(_ context.Context, docs [][]byte) ([]byte, error) {
	return bytes.Join(docs, nil), nil
}

func (fakeConverter) PageCount(doc []byte) (int, error) {
	return bytes.Count(doc, []byte("\n")), nil
}

type fakeText struct{ text string }

func (f fakeText) ExtractText([]byte, int) (string, error) { return f.text, nil }

type fixture struct {
	blobs   *blob.Memory
	records *store.Memory
	engine  *Engine
	c       *models.Case
}

func newFixture(t *testing.T, conv Converter, cfg Config) *fixture {
	t.Helper()
	blobs := blob.NewMemory()
	root := blobs.AddRoot("broker")
	folder, err := blobs.CreateFolder(context.Background(), "CLIENT_DURAND_ANNE", root)
	require.NoError(t, err)

	catalog := NewCatalog([]models.DocumentType{
		{ID: "t-id", Name: "IDENTITY", Mandatory: true},
		{ID: "t-pay", Name: "BULLETINS_DE_SALAIRE", Mandatory: true},
	})
	records := store.NewMemory()
	return &fixture{
		blobs:   blobs,
		records: records,
		engine:  NewEngine(blobs, records, conv, catalog, cfg),
		c: &models.Case{
			ID: "case-1", BrokerID: "b-1", LastName: "Durand", FirstName: "Anne",
			PrimaryEmail: "anne@example.com", FolderID: folder,
		},
	}
}

func att(name, content string) models.Attachment {
	return models.Attachment{Filename: name, Content: []byte(content), Size: len(content)}
}

// TestConsolidate_AppendsAcrossMessages verifies that two deliveries of the
// same type end in one master file whose pages are the sum of both, with one
// document record.
func TestConsolidate_AppendsAcrossMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeConverter{}, Config{})

	first, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{att("payslip_jan.pdf", "pages=2;jan")})
	require.NoError(t, err)
	require.Len(t, first.Groups, 1)
	assert.False(t, first.Groups[0].Appended)
	assert.Equal(t, 2, first.Groups[0].Pages)

	second, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{att("payslip_feb.pdf", "pages=3;feb")})
	require.NoError(t, err)
	require.Len(t, second.Groups, 1)
	assert.True(t, second.Groups[0].Appended)
	assert.Equal(t, 5, second.Groups[0].Pages)
	assert.Equal(t, first.Groups[0].FileID, second.Groups[0].FileID)

	entries, err := f.blobs.List(ctx, f.c.FolderID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Payslip_DURAND_ANNE.pdf", entries[0].Name)

	content, err := f.blobs.Download(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "page:payslip_jan.pdf"), "existing pages come first")

	recs, err := f.records.ListRecords(ctx, f.c.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "t-pay", recs[0].TypeID)
	assert.Equal(t, models.DocumentReceived, recs[0].Status)
	assert.Equal(t, entries[0].ID, recs[0].FileID)
	assert.Equal(t, 5, recs[0].Metadata["pages"])
	assert.Len(t, recs[0].Hashes, 2)
	assert.Equal(t, 1, f.blobs.Uploads)
	assert.Equal(t, 1, f.blobs.Updates)
}

// TestConsolidate_SkipsKnownHash verifies an already stored attachment is
// neither uploaded nor recorded twice.
func TestConsolidate_SkipsKnownHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeConverter{}, Config{})
	a := att("CNI.pdf", "pages=1;scan")

	_, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{a})
	require.NoError(t, err)

	report, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{a, a})
	require.NoError(t, err)
	assert.Empty(t, report.Groups)
	assert.Equal(t, []string{"CNI.pdf", "CNI.pdf"}, report.Duplicates)

	recs, _ := f.records.ListRecords(ctx, f.c.ID)
	assert.Len(t, recs, 1)
	assert.Equal(t, 1, f.blobs.Uploads)
	assert.Equal(t, 0, f.blobs.Updates)
}

// TestConsolidate_IsolatesGroupFailure verifies a corrupt file fails only its group.
func TestConsolidate_IsolatesGroupFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeConverter{}, Config{Workers: 4})

	report, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{
		att("bulletin_salaire.pdf", "corrupt data"),
		att("CNI.pdf", "pages=1;scan"),
		att("releve_compte.pdf", "pages=2;bank"),
	})
	require.NoError(t, err)
	require.Len(t, report.Groups, 3)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, MasterPayslip, failed[0].MasterType)
	assert.Equal(t, failure.CodeGroupFailed, failure.TextCode(failed[0].Err))
	assert.Error(t, report.Err())
	assert.ElementsMatch(t,
		[]string{"Identity_DURAND_ANNE.pdf", "Bank_Statements_DURAND_ANNE.pdf"},
		report.Stored())

	recs, _ := f.records.ListRecords(ctx, f.c.ID)
	assert.Len(t, recs, 2)
}

// TestConsolidate_MissingFolderIsFatal verifies an absent case folder stops
// the message instead of dropping attachments.
func TestConsolidate_MissingFolderIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeConverter{}, Config{})

	c := *f.c
	c.FolderID = ""
	_, err := f.engine.Consolidate(ctx, &c, []models.Attachment{att("CNI.pdf", "x")})
	assert.True(t, failure.IsFatal(err))

	c.FolderID = "deleted-folder"
	_, err = f.engine.Consolidate(ctx, &c, []models.Attachment{att("CNI.pdf", "x")})
	assert.True(t, failure.IsFatal(err))
	assert.Equal(t, 0, f.blobs.Uploads)
}

// TestConsolidate_AdHocAndFallback verifies records for types outside the
// catalog carry their nature, and the fallback bucket only the file names.
func TestConsolidate_AdHocAndFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeConverter{}, Config{})

	_, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{
		att("livret_famille.pdf", "pages=4;family"),
		att("scan0001.pdf", "pages=1;a"),
		att("scan0002.pdf", "pages=1;b"),
	})
	require.NoError(t, err)

	recs, err := f.records.ListRecords(ctx, f.c.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byName := map[string]models.DocumentRecord{}
	for _, r := range recs {
		assert.Empty(t, r.TypeID)
		assert.Equal(t, models.DocumentReceived, r.Status)
		byName[r.FileID] = r
	}

	famID, ok, _ := f.blobs.FindFile(ctx, "Family_Record_DURAND_ANNE.pdf", f.c.FolderID)
	require.True(t, ok)
	assert.Equal(t, "FAMILY_RECORD", byName[famID].Metadata["nature"])
	assert.Equal(t, 4, byName[famID].Metadata["pages"])

	otherID, ok, _ := f.blobs.FindFile(ctx, "Other_Documents_DURAND_ANNE.pdf", f.c.FolderID)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"filename": "scan0001.pdf, scan0002.pdf"}, byName[otherID].Metadata)
}

// TestConsolidate_UpgradesMissingRecord verifies a record registered as
// missing becomes received instead of being duplicated.
func TestConsolidate_UpgradesMissingRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeConverter{}, Config{})
	require.NoError(t, f.records.CreateRecord(ctx, &models.DocumentRecord{
		CaseID: f.c.ID, TypeID: "t-id", Status: models.DocumentMissing,
	}))

	_, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{att("CNI.pdf", "pages=1;scan")})
	require.NoError(t, err)

	recs, _ := f.records.ListRecords(ctx, f.c.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, models.DocumentReceived, recs[0].Status)
	assert.NotEmpty(t, recs[0].FileID)
	assert.NotNil(t, recs[0].ReceivedAt)
}

// TestConsolidate_IdentitySidesOrdered verifies recto pages precede verso
// pages whatever the attachment order.
func TestConsolidate_IdentitySidesOrdered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeConverter{}, Config{})

	report, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{
		att("cni_verso.jpg", "pages=1;v"),
		att("cni_recto.jpg", "pages=1;r"),
	})
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)

	content, err := f.blobs.Download(ctx, report.Groups[0].FileID)
	require.NoError(t, err)
	assert.Equal(t, "page:cni_recto.jpg\npage:cni_verso.jpg\n", string(content))
}

// TestConsolidate_TextHint verifies a silent file name falls back to PDF text.
func TestConsolidate_TextHint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeConverter{}, Config{Text: fakeText{text: "BULLETIN DE PAIE mars 2025"}})

	report, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{att("scan0001.pdf", "pages=1;s")})
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	assert.Equal(t, MasterPayslip, report.Groups[0].MasterType)
}

func pngImage(t *testing.T, w int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, 20))))
	return buf.Bytes()
}

// TestConsolidate_RealPDFAppend runs the append property through the PDF processor.
func TestConsolidate_RealPDFAppend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, pdfdoc.NewProcessor(), Config{})

	_, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{
		{Filename: "payslip_jan.png", Content: pngImage(t, 30)},
	})
	require.NoError(t, err)
	report, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{
		{Filename: "payslip_feb.png", Content: pngImage(t, 31)},
	})
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	require.NoError(t, report.Groups[0].Err)
	assert.Equal(t, 2, report.Groups[0].Pages)
}

// gatedConverter holds every conversion until n of them have started, so
// concurrent messages all pass the early hash check before any stores.
type gatedConverter struct {
	fakeConverter
	started sync.WaitGroup
}

func newGatedConverter(n int) *gatedConverter {
	g := &gatedConverter{}
	g.started.Add(n)
	return g
}

func (g *gatedConverter) ToPDF(ctx context.Context, name string, content []byte) ([]byte, error) {
	g.started.Done()
	g.started.Wait()
	return g.fakeConverter.ToPDF(ctx, name, content)
}

// TestConsolidate_ConcurrentSameFileStoredOnce verifies two messages
// carrying the same file for one case store it once.
func TestConsolidate_ConcurrentSameFileStoredOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newGatedConverter(2), Config{})
	a := att("payslip_jan.pdf", "pages=2;jan")

	reports := make([]*Report, 2)
	var wg sync.WaitGroup
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{a})
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	wg.Wait()

	var dups, stored int
	for _, r := range reports {
		require.NotNil(t, r)
		dups += len(r.Duplicates)
		stored += len(r.Stored())
		assert.Empty(t, r.Failed())
	}
	assert.Equal(t, 1, dups)
	assert.Equal(t, 1, stored)

	id, ok, err := f.blobs.FindFile(ctx, "Payslip_DURAND_ANNE.pdf", f.c.FolderID)
	require.NoError(t, err)
	require.True(t, ok)
	content, err := f.blobs.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(content), "\n"))
	assert.Equal(t, 1, f.blobs.Uploads)
	assert.Equal(t, 0, f.blobs.Updates)

	recs, _ := f.records.ListRecords(ctx, f.c.ID)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Hashes, 1)
}

// TestConsolidate_RejectsOversized verifies an attachment above the limit
// fails its own group and the rest of the message is stored.
func TestConsolidate_RejectsOversized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeConverter{}, Config{MaxAttachmentBytes: 16})

	report, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{
		att("releve_compte.pdf", "pages=1;"+strings.Repeat("x", 64)),
		att("CNI.pdf", "pages=1;scan"),
	})
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, MasterBankStatement, failed[0].MasterType)
	assert.Equal(t, []string{"releve_compte.pdf"}, failed[0].Sources)
	assert.Equal(t, failure.CodeGroupFailed, failure.TextCode(failed[0].Err))
	assert.ErrorContains(t, failed[0].Err, "limit is 16")
	assert.Equal(t, []string{"Identity_DURAND_ANNE.pdf"}, report.Stored())
	assert.Equal(t, 1, f.blobs.Uploads)
}

// fakeLeaseRedis implements SETNX and the token-checked delete over a map.
type fakeLeaseRedis struct {
	mu       sync.Mutex
	keys     map[string]string
	acquires int
	releases int
}

func (r *fakeLeaseRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	r.keys[key] = value.(string)
	r.acquires++
	return redis.NewBoolResult(true, nil)
}

func (r *fakeLeaseRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(r.keys, keys[0])
	r.releases++
	return redis.NewCmdResult(int64(1), nil)
}

// TestRedisLease_WaitsForHolder verifies a second holder waits for release
// and gives up when its context ends.
func TestRedisLease_WaitsForHolder(t *testing.T) {
	rdb := &fakeLeaseRedis{keys: map[string]string{}}
	lease := NewRedisLease(rdb, time.Minute)
	lease.retry = 5 * time.Millisecond

	release, err := lease.Acquire(context.Background(), "case-1/PAYSLIP")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = lease.Acquire(short, "case-1/PAYSLIP")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		r, err := lease.Acquire(context.Background(), "case-1/PAYSLIP")
		if err == nil {
			r()
		}
		done <- err
	}()
	release()
	require.NoError(t, <-done)

	rdb.mu.Lock()
	defer rdb.mu.Unlock()
	assert.Empty(t, rdb.keys)
	assert.Equal(t, 2, rdb.acquires)
	assert.Equal(t, 2, rdb.releases)
}

// TestConsolidate_TakesLease verifies the engine holds the shared lease
// while it writes a group.
func TestConsolidate_TakesLease(t *testing.T) {
	ctx := context.Background()
	rdb := &fakeLeaseRedis{keys: map[string]string{}}
	f := newFixture(t, fakeConverter{}, Config{Lease: NewRedisLease(rdb, 0)})

	_, err := f.engine.Consolidate(ctx, f.c, []models.Attachment{att("CNI.pdf", "pages=1;scan")})
	require.NoError(t, err)

	rdb.mu.Lock()
	defer rdb.mu.Unlock()
	assert.Equal(t, 1, rdb.acquires)
	assert.Equal(t, 1, rdb.releases)
	assert.Empty(t, rdb.keys)
}
