// Package realtime is the portal's push channel: row-change events for
// cases, documents and activities, fanned out per case over Redis pub/sub.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	// OpDelete is recognised on the wire but no producer emits it.
	OpDelete Operation = "DELETE"
)

// Tables that carry change events.
const (
	TableCases      = "cases"
	TableDocuments  = "documents"
	TableActivities = "activities"
)

// Event is one committed row change. Row is the row as the store encodes
// it; consumers parse it into their own types.
type Event struct {
	Table     string          `json:"table"`
	Operation Operation       `json:"operation"`
	CaseID    string          `json:"case_id"`
	Row       json.RawMessage `json:"row"`
}

var ErrInvalidEvent = errors.New("invalid event")

func (e Event) Validate() error {
	if e.Table == "" || e.CaseID == "" {
		return fmt.Errorf("%w: table and case_id are required", ErrInvalidEvent)
	}
	switch e.Operation {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidEvent, e.Operation)
	}
	if len(e.Row) == 0 {
		return fmt.Errorf("%w: missing row", ErrInvalidEvent)
	}
	return nil
}

// Filter selects the events a subscription receives. An empty
// Operations list means every operation.
type Filter struct {
	Table      string
	CaseID     string
	Operations []Operation
}

func (f Filter) Matches(e Event) bool {
	if e.Table != f.Table || e.CaseID != f.CaseID {
		return false
	}
	return len(f.Operations) == 0 || slices.Contains(f.Operations, e.Operation)
}

func channelName(prefix, table, caseID string) string {
	return prefix + table + ":" + caseID
}
