package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"caseportal/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobs struct {
	objects   map[string][]byte
	uploadErr error
	urlErr    error
}

func (f *fakeBlobs) Upload(_ context.Context, path string, body io.Reader, _ int64, _ string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[path] = data
	return nil
}

func (f *fakeBlobs) PublicURL(path string) (string, error) {
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return "https://blobs.example.com/case-documents/" + path, nil
}

type fakeRecords struct {
	documents   []store.Document
	activities  []store.Activity
	documentErr error
	activityErr error
}

func (f *fakeRecords) InsertDocument(_ context.Context, item store.Document) (store.Document, error) {
	if f.documentErr != nil {
		return store.Document{}, f.documentErr
	}
	item.ID = "doc-1"
	item.UploadDate = time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	f.documents = append(f.documents, item)
	return item, nil
}

func (f *fakeRecords) InsertActivity(_ context.Context, item store.Activity) (store.Activity, error) {
	if f.activityErr != nil {
		return store.Activity{}, f.activityErr
	}
	f.activities = append(f.activities, item)
	return item, nil
}

func newPipeline(blobs *fakeBlobs, records *fakeRecords) *UploadPipeline {
	p := NewUploadPipeline(blobs, records, 10<<20, nil)
	p.now = func() time.Time { return time.Date(2025, 3, 7, 9, 30, 0, 0, time.UTC) }
	return p
}

func pdf(name string, size int) File {
	return File{Name: name, Size: int64(size), ContentType: "application/pdf", Body: bytes.NewReader(make([]byte, size))}
}

func TestUploadCreatesDocumentAndActivity(t *testing.T) {
	blobs, records := &fakeBlobs{}, &fakeRecords{}
	p := newPipeline(blobs, records)
	p.newID = func() string { return "f3a9" }

	doc, err := p.Upload(context.Background(), pdf("Retainer.PDF", 1572864), "case-1", "user-1")
	require.NoError(t, err)

	wantPath := "case-1/1741339800000-f3a9.PDF"
	require.Contains(t, blobs.objects, wantPath)
	assert.Len(t, blobs.objects[wantPath], 1572864)

	require.Len(t, records.documents, 1)
	assert.Equal(t, store.Document{
		ID:         "doc-1",
		CaseID:     "case-1",
		Name:       "Retainer.PDF",
		UploadDate: time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC),
		SizeBytes:  1572864,
		MimeType:   "application/pdf",
		URL:        "https://blobs.example.com/case-documents/" + wantPath,
		UploadedBy: "user-1",
	}, records.documents[0])
	assert.Equal(t, "doc-1", doc.ID)

	require.Len(t, records.activities, 1)
	act := records.activities[0]
	assert.Equal(t, "case-1", act.CaseID)
	assert.Equal(t, ActivityDocumentUploaded, act.Type)
	assert.Equal(t, "Document uploaded", act.Title)
	assert.Equal(t, "Retainer.PDF - 3/7/2025", act.Description)
	assert.Equal(t, "user-1", act.CreatedBy)
	assert.JSONEq(t, `{"fileName":"Retainer.PDF","filesize":"1.50 MB"}`, string(act.Metadata))
}

func TestUploadsInTheSameMillisecondKeepBothFiles(t *testing.T) {
	blobs, records := &fakeBlobs{}, &fakeRecords{}
	p := newPipeline(blobs, records)
	ctx := context.Background()

	first := File{Name: "brief.pdf", Size: 3, ContentType: "application/pdf", Body: strings.NewReader("AAA")}
	second := File{Name: "brief.pdf", Size: 3, ContentType: "application/pdf", Body: strings.NewReader("BBB")}
	docA, err := p.Upload(ctx, first, "case-1", "client-1")
	require.NoError(t, err)
	docB, err := p.Upload(ctx, second, "case-1", "lawyer-1")
	require.NoError(t, err)

	require.Len(t, blobs.objects, 2)
	assert.NotEqual(t, docA.URL, docB.URL)
	for path, data := range blobs.objects {
		assert.True(t, strings.HasPrefix(path, "case-1/1741339800000-"), path)
		assert.True(t, strings.HasSuffix(path, ".pdf"), path)
		assert.Contains(t, []string{"AAA", "BBB"}, string(data))
	}
	assert.NotEqual(t, string(blobs.objects[strings.TrimPrefix(docA.URL, "https://blobs.example.com/case-documents/")]),
		string(blobs.objects[strings.TrimPrefix(docB.URL, "https://blobs.example.com/case-documents/")]))
}

func TestUploadValidation(t *testing.T) {
	cases := []struct {
		name   string
		file   File
		caseID string
	}{
		{"missing case", pdf("a.pdf", 10), ""},
		{"missing name", pdf("  ", 10), "case-1"},
		{"empty file", pdf("a.pdf", 0), "case-1"},
		{"no body", File{Name: "a.pdf", Size: 10}, "case-1"},
		{"too large", File{Name: "a.pdf", Size: 11 << 20, Body: strings.NewReader("x")}, "case-1"},
		{"bad extension", pdf("run.exe", 10), "case-1"},
		{"no extension", pdf("README", 10), "case-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blobs, records := &fakeBlobs{}, &fakeRecords{}
			_, err := newPipeline(blobs, records).Upload(context.Background(), tc.file, tc.caseID, "user-1")

			var uploadErr *UploadError
			require.ErrorAs(t, err, &uploadErr)
			assert.Equal(t, StepValidate, uploadErr.Step)
			assert.ErrorIs(t, err, ErrInvalidUpload)
			assert.Empty(t, blobs.objects)
			assert.Empty(t, records.activities)
		})
	}
}

func TestUploadFailureStepsLeaveNoActivity(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name      string
		blobs     *fakeBlobs
		records   *fakeRecords
		step      UploadStep
		wantBlobs int
		wantDocs  int
	}{
		{"store", &fakeBlobs{uploadErr: boom}, &fakeRecords{}, StepStore, 0, 0},
		{"url", &fakeBlobs{urlErr: boom}, &fakeRecords{}, StepURL, 1, 0},
		{"document", &fakeBlobs{}, &fakeRecords{documentErr: boom}, StepDocument, 1, 0},
		{"activity", &fakeBlobs{}, &fakeRecords{activityErr: boom}, StepActivity, 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newPipeline(tc.blobs, tc.records).Upload(context.Background(), pdf("a.pdf", 100), "case-1", "user-1")

			var uploadErr *UploadError
			require.ErrorAs(t, err, &uploadErr)
			assert.Equal(t, tc.step, uploadErr.Step)
			assert.ErrorIs(t, err, boom)

			// Earlier steps are not rolled back.
			assert.Len(t, tc.blobs.objects, tc.wantBlobs)
			assert.Len(t, tc.records.documents, tc.wantDocs)
			assert.Empty(t, tc.records.activities)
		})
	}
}

func TestFormatMegabytes(t *testing.T) {
	assert.Equal(t, "0.00 MB", FormatMegabytes(0))
	assert.Equal(t, "1.00 MB", FormatMegabytes(1<<20))
	assert.Equal(t, "0.12 MB", FormatMegabytes(123456))
}

func TestUploadMetadataIsJSONObject(t *testing.T) {
	records := &fakeRecords{}
	_, err := newPipeline(&fakeBlobs{}, records).Upload(context.Background(), pdf("scan.jpeg", 2048), "case-1", "user-1")
	require.NoError(t, err)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(records.activities[0].Metadata, &meta))
	assert.Equal(t, "scan.jpeg", meta["fileName"])
	assert.Equal(t, "0.00 MB", meta["filesize"])
}
