package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ChangedRow loads the current row behind a change notification, encoded
// the way push subscribers decode it. Cases carry the joined attorney name.
func (s *PostgresStore) ChangedRow(ctx context.Context, table, id string) (json.RawMessage, error) {
	var (
		row any
		err error
	)
	switch table {
	case "cases":
		row, err = s.GetCase(ctx, id)
	case "documents":
		row, err = s.GetDocument(ctx, id)
	case "activities":
		row, err = s.GetActivity(ctx, id)
	default:
		return nil, fmt.Errorf("changed row: unknown table %q", table)
	}
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode %s row: %w", table, err)
	}
	return raw, nil
}
