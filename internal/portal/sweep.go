package portal

import (
	"context"
	"fmt"
	"time"

	"caseportal/api/internal/blob"
	"go.uber.org/zap"
)

// BlobInventory is the blob side of an orphan sweep.
type BlobInventory interface {
	List(ctx context.Context, prefix string) ([]blob.Object, error)
	PublicURL(path string) (string, error)
	Remove(ctx context.Context, path string) error
}

type DocumentURLLister interface {
	ListDocumentURLs(ctx context.Context) ([]string, error)
}

type SweepResult struct {
	Scanned int
	Orphans []string
	Removed int
}

// OrphanSweeper finds blobs left behind by uploads that failed after the
// store step, i.e. objects no document row links to.
type OrphanSweeper struct {
	blobs   BlobInventory
	records DocumentURLLister
	log     *zap.SugaredLogger
}

func NewOrphanSweeper(blobs BlobInventory, records DocumentURLLister, log *zap.SugaredLogger) *OrphanSweeper {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &OrphanSweeper{blobs: blobs, records: records, log: log}
}

// Sweep reports objects last modified before cutoff that no document
// references, and removes them unless dryRun is set. Newer objects are
// skipped: their upload may still be writing its document row.
func (s *OrphanSweeper) Sweep(ctx context.Context, cutoff time.Time, dryRun bool) (SweepResult, error) {
	urls, err := s.records.ListDocumentURLs(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	referenced := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		referenced[u] = struct{}{}
	}

	objects, err := s.blobs.List(ctx, "")
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Scanned: len(objects), Orphans: []string{}}
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		link, err := s.blobs.PublicURL(obj.Path)
		if err != nil {
			return result, fmt.Errorf("link for %s: %w", obj.Path, err)
		}
		if _, ok := referenced[link]; ok {
			continue
		}
		result.Orphans = append(result.Orphans, obj.Path)
		if dryRun {
			continue
		}
		if err := s.blobs.Remove(ctx, obj.Path); err != nil {
			return result, err
		}
		result.Removed++
		s.log.Infow("removed orphan blob", "path", obj.Path, "size", obj.Size)
	}
	return result, nil
}
