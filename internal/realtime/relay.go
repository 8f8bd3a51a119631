package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// NotifyChannel is the Postgres channel the change triggers notify on.
const NotifyChannel = "portal_changes"

// Publisher is the side of Channel the relay needs.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// RowLoader reads the current row a notification points at.
type RowLoader interface {
	ChangedRow(ctx context.Context, table, id string) (json.RawMessage, error)
}

// notification is the trigger payload. It names the row rather than
// carrying it, since rows can exceed the NOTIFY size limit.
type notification struct {
	Table     string    `json:"table"`
	Operation Operation `json:"operation"`
	CaseID    string    `json:"case_id"`
	ID        string    `json:"id"`
}

// Relay listens for Postgres change notifications and republishes them
// on the push channel. Notifications arrive in commit order and are
// forwarded one at a time, so per-case ordering carries through.
//
// Notifications raised while the relay is disconnected are lost;
// subscribers recover by refetching when they next attach.
type Relay struct {
	databaseURL string
	rows        RowLoader
	publisher   Publisher
	log         *zap.SugaredLogger
	minBackoff  time.Duration
	maxBackoff  time.Duration
}

func NewRelay(databaseURL string, rows RowLoader, publisher Publisher, log *zap.SugaredLogger) *Relay {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Relay{
		databaseURL: databaseURL,
		rows:        rows,
		publisher:   publisher,
		log:         log,
		minBackoff:  time.Second,
		maxBackoff:  30 * time.Second,
	}
}

// Run blocks until ctx is cancelled, reconnecting with exponential
// backoff whenever the listen connection fails.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.minBackoff
	for {
		err := r.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warnw("change relay disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

func (r *Relay) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, r.databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	r.log.Infow("change relay listening", "channel", NotifyChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		if err := r.forward(ctx, notification.Payload); err != nil {
			r.log.Warnw("change relay dropped notification", "error", err)
		}
	}
}

func (r *Relay) forward(ctx context.Context, payload string) error {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if n.ID == "" {
		return fmt.Errorf("%w: missing row id", ErrInvalidEvent)
	}

	row, err := r.rows.ChangedRow(ctx, n.Table, n.ID)
	if err != nil {
		return fmt.Errorf("load %s %s: %w", n.Table, n.ID, err)
	}
	e := Event{Table: n.Table, Operation: n.Operation, CaseID: n.CaseID, Row: row}
	if err := e.Validate(); err != nil {
		return err
	}
	if err := r.publisher.Publish(ctx, e); err != nil {
		return fmt.Errorf("forward %s %s: %w", e.Table, e.Operation, err)
	}
	return nil
}
