package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"caseportal/api/internal/livesync"
	"caseportal/api/internal/realtime"
	"caseportal/api/internal/store"
	"go.uber.org/zap"
)

const (
	ActivityFetchLimit = 10
	NotAssigned        = "Not assigned"
)

type CaseReader interface {
	GetCase(ctx context.Context, caseID string) (store.Case, error)
	ListDocuments(ctx context.Context, caseID string) ([]store.Document, error)
	ListActivities(ctx context.Context, caseID string, limit int) ([]store.Activity, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, f realtime.Filter, handler func(realtime.Event)) (*realtime.Subscription, error)
}

type SyncOptions struct {
	Retries    int
	RetryDelay time.Duration
	Logger     *zap.SugaredLogger
}

func subscribeTo(ch Subscriber, table string, ops ...realtime.Operation) livesync.SubscribeFunc {
	return func(ctx context.Context, key string, deliver func(livesync.RawEvent)) (livesync.Handle, error) {
		sub, err := ch.Subscribe(ctx, realtime.Filter{Table: table, CaseID: key, Operations: ops}, func(e realtime.Event) {
			deliver(livesync.RawEvent{Op: livesync.Op(e.Operation), Row: e.Row})
		})
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}

func withAttorneyDefault(c store.Case) store.Case {
	if c.AttorneyName == "" {
		c.AttorneyName = NotAssigned
	}
	return c
}

func decodeCase(raw json.RawMessage) (store.Case, error) {
	var c store.Case
	if err := json.Unmarshal(raw, &c); err != nil {
		return store.Case{}, fmt.Errorf("decode case: %w", err)
	}
	if c.ID == "" {
		return store.Case{}, errors.New("decode case: missing id")
	}
	return withAttorneyDefault(c), nil
}

func decodeDocument(raw json.RawMessage) (store.Document, error) {
	var d store.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return store.Document{}, fmt.Errorf("decode document: %w", err)
	}
	if d.ID == "" || d.CaseID == "" {
		return store.Document{}, errors.New("decode document: missing id or case_id")
	}
	return d, nil
}

func decodeActivity(raw json.RawMessage) (store.Activity, error) {
	var a store.Activity
	if err := json.Unmarshal(raw, &a); err != nil {
		return store.Activity{}, fmt.Errorf("decode activity: %w", err)
	}
	if a.ID == "" || a.CaseID == "" {
		return store.Activity{}, errors.New("decode activity: missing id or case_id")
	}
	return a, nil
}

// NewCaseSync tracks the single case record for a case id. The case table
// only ever receives updates from the portal, but an insert is accepted
// and replaces the record.
func NewCaseSync(reader CaseReader, ch Subscriber, opts SyncOptions) (*livesync.Sync[store.Case], error) {
	return livesync.New(livesync.Config[store.Case]{
		Kind: realtime.TableCases,
		Fetch: func(ctx context.Context, caseID string) ([]store.Case, error) {
			c, err := reader.GetCase(ctx, caseID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return []store.Case{withAttorneyDefault(c)}, nil
		},
		Subscribe:  subscribeTo(ch, realtime.TableCases, realtime.OpInsert, realtime.OpUpdate),
		Decode:     decodeCase,
		ID:         func(c store.Case) string { return c.ID },
		Key:        func(c store.Case) string { return c.ID },
		Singleton:  true,
		Retries:    opts.Retries,
		RetryDelay: opts.RetryDelay,
		Logger:     opts.Logger,
	})
}

// NewDocumentSync tracks a case's documents, newest upload first.
func NewDocumentSync(reader CaseReader, ch Subscriber, opts SyncOptions) (*livesync.Sync[store.Document], error) {
	return livesync.New(livesync.Config[store.Document]{
		Kind:       realtime.TableDocuments,
		Fetch:      reader.ListDocuments,
		Subscribe:  subscribeTo(ch, realtime.TableDocuments, realtime.OpInsert, realtime.OpUpdate),
		Decode:     decodeDocument,
		ID:         func(d store.Document) string { return d.ID },
		Key:        func(d store.Document) string { return d.CaseID },
		Retries:    opts.Retries,
		RetryDelay: opts.RetryDelay,
		Logger:     opts.Logger,
	})
}

// NewActivitySync tracks a case's activity feed, newest first. The fetch
// is capped at ActivityFetchLimit; live inserts are added on top without
// trimming.
func NewActivitySync(reader CaseReader, ch Subscriber, opts SyncOptions) (*livesync.Sync[store.Activity], error) {
	return livesync.New(livesync.Config[store.Activity]{
		Kind: realtime.TableActivities,
		Fetch: func(ctx context.Context, caseID string) ([]store.Activity, error) {
			return reader.ListActivities(ctx, caseID, ActivityFetchLimit)
		},
		Subscribe:  subscribeTo(ch, realtime.TableActivities, realtime.OpInsert, realtime.OpUpdate),
		Decode:     decodeActivity,
		ID:         func(a store.Activity) string { return a.ID },
		Key:        func(a store.Activity) string { return a.CaseID },
		Retries:    opts.Retries,
		RetryDelay: opts.RetryDelay,
		Logger:     opts.Logger,
	})
}

// CaseWatch keeps the case, its documents and its activity feed live for
// one case id at a time.
type CaseWatch struct {
	Case       *livesync.Sync[store.Case]
	Documents  *livesync.Sync[store.Document]
	Activities *livesync.Sync[store.Activity]
}

func NewCaseWatch(reader CaseReader, ch Subscriber, opts SyncOptions) (*CaseWatch, error) {
	caseSync, err := NewCaseSync(reader, ch, opts)
	if err != nil {
		return nil, err
	}
	documents, err := NewDocumentSync(reader, ch, opts)
	if err != nil {
		return nil, err
	}
	activities, err := NewActivitySync(reader, ch, opts)
	if err != nil {
		return nil, err
	}
	return &CaseWatch{Case: caseSync, Documents: documents, Activities: activities}, nil
}

func (w *CaseWatch) Attach(ctx context.Context, caseID string) CaseViews {
	return CaseViews{
		Case:       w.Case.Attach(ctx, caseID),
		Documents:  w.Documents.Attach(ctx, caseID),
		Activities: w.Activities.Attach(ctx, caseID),
	}
}

func (w *CaseWatch) Detach() {
	w.Case.Detach()
	w.Documents.Detach()
	w.Activities.Detach()
}

type CaseViews struct {
	Case       *livesync.Collection[store.Case]
	Documents  *livesync.Collection[store.Document]
	Activities *livesync.Collection[store.Activity]
}

// Wait blocks until any of the three collections changes. It returns false
// when ctx is done or the views have been superseded.
func (v CaseViews) Wait(ctx context.Context) bool {
	var ok bool
	select {
	case <-ctx.Done():
		return false
	case _, ok = <-v.Case.Changes():
	case _, ok = <-v.Documents.Changes():
	case _, ok = <-v.Activities.Changes():
	}
	return ok
}

// CaseSnapshot is the combined view sent to the dashboard.
type CaseSnapshot struct {
	CaseID     string           `json:"caseId"`
	Case       *store.Case      `json:"case"`
	Documents  []store.Document `json:"documents"`
	Activities []store.Activity `json:"activities"`
	Live       bool             `json:"live"`
	Errors     []string         `json:"errors,omitempty"`
}

func (v CaseViews) Snapshot() CaseSnapshot {
	c := v.Case.Snapshot()
	docs := v.Documents.Snapshot()
	acts := v.Activities.Snapshot()

	out := CaseSnapshot{
		CaseID:     c.Key,
		Documents:  docs.Items,
		Activities: acts.Items,
		Live:       c.State == livesync.Live && docs.State == livesync.Live && acts.State == livesync.Live,
	}
	if len(c.Items) > 0 {
		item := c.Items[0]
		out.Case = &item
	}
	if out.Documents == nil {
		out.Documents = []store.Document{}
	}
	if out.Activities == nil {
		out.Activities = []store.Activity{}
	}
	for _, err := range []error{c.Err, docs.Err, acts.Err, c.SubscribeErr, docs.SubscribeErr, acts.SubscribeErr} {
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
		}
	}
	return out
}
