package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"caseportal/api/internal/store"
	"caseportal/api/internal/util"
	"go.uber.org/zap"
)

const ActivityDocumentUploaded = "document_uploaded"

// AllowedExtensions are the document types the portal accepts.
var AllowedExtensions = []string{".pdf", ".doc", ".docx", ".png", ".jpg", ".jpeg"}

type BlobStore interface {
	Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	PublicURL(path string) (string, error)
}

type RecordWriter interface {
	InsertDocument(ctx context.Context, item store.Document) (store.Document, error)
	InsertActivity(ctx context.Context, item store.Activity) (store.Activity, error)
}

type File struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// UploadPipeline stores a document and records it. The steps are not
// atomic: a failure leaves earlier steps in place (a blob with no
// document row is possible) and nothing is retried.
type UploadPipeline struct {
	blobs    BlobStore
	records  RecordWriter
	maxBytes int64
	log      *zap.SugaredLogger
	now      func() time.Time
	newID    func() string
}

func NewUploadPipeline(blobs BlobStore, records RecordWriter, maxBytes int64, log *zap.SugaredLogger) *UploadPipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &UploadPipeline{
		blobs:    blobs,
		records:  records,
		maxBytes: maxBytes,
		log:      log,
		now:      time.Now,
		newID:    func() string { return util.NewID("") },
	}
}

func (p *UploadPipeline) Upload(ctx context.Context, file File, caseID, userID string) (store.Document, error) {
	if err := p.validate(file, caseID); err != nil {
		return store.Document{}, p.fail(StepValidate, caseID, err)
	}

	now := p.now()
	name := path.Base(file.Name)
	// Uploads to one case can land in the same millisecond; the id keeps
	// them from overwriting each other.
	objectPath := fmt.Sprintf("%s/%d-%s%s", caseID, now.UnixMilli(), p.newID(), path.Ext(name))

	if err := p.blobs.Upload(ctx, objectPath, file.Body, file.Size, file.ContentType); err != nil {
		return store.Document{}, p.fail(StepStore, caseID, err)
	}
	url, err := p.blobs.PublicURL(objectPath)
	if err != nil {
		return store.Document{}, p.fail(StepURL, caseID, err)
	}

	doc, err := p.records.InsertDocument(ctx, store.Document{
		CaseID:     caseID,
		Name:       name,
		SizeBytes:  file.Size,
		MimeType:   file.ContentType,
		URL:        url,
		UploadedBy: userID,
	})
	if err != nil {
		return store.Document{}, p.fail(StepDocument, caseID, err)
	}

	metadata, err := json.Marshal(map[string]string{
		"fileName": name,
		"filesize": FormatMegabytes(file.Size),
	})
	if err != nil {
		return store.Document{}, p.fail(StepActivity, caseID, err)
	}
	if _, err := p.records.InsertActivity(ctx, store.Activity{
		CaseID:      caseID,
		Type:        ActivityDocumentUploaded,
		Title:       "Document uploaded",
		Description: fmt.Sprintf("%s - %s", name, now.Format("1/2/2006")),
		Metadata:    metadata,
		CreatedBy:   userID,
	}); err != nil {
		return store.Document{}, p.fail(StepActivity, caseID, err)
	}

	p.log.Infow("document uploaded", "case_id", caseID, "document_id", doc.ID, "path", objectPath, "size", file.Size)
	return doc, nil
}

func (p *UploadPipeline) validate(file File, caseID string) error {
	switch {
	case caseID == "":
		return fmt.Errorf("%w: case id is required", ErrInvalidUpload)
	case strings.TrimSpace(file.Name) == "":
		return fmt.Errorf("%w: file name is required", ErrInvalidUpload)
	case file.Size <= 0:
		return fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	case file.Body == nil:
		return fmt.Errorf("%w: file body is required", ErrInvalidUpload)
	case p.maxBytes > 0 && file.Size > p.maxBytes:
		return fmt.Errorf("%w: file exceeds %s", ErrInvalidUpload, FormatMegabytes(p.maxBytes))
	}
	ext := strings.ToLower(path.Ext(file.Name))
	if !slices.Contains(AllowedExtensions, ext) {
		return fmt.Errorf("%w: unsupported file type %q", ErrInvalidUpload, ext)
	}
	return nil
}

func (p *UploadPipeline) fail(step UploadStep, caseID string, err error) error {
	p.log.Warnw("upload failed", "case_id", caseID, "step", step, "error", err)
	return &UploadError{Step: step, Err: err}
}

// FormatMegabytes renders a byte count as megabytes with two decimals.
func FormatMegabytes(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}
