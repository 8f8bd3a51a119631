package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// CreateUser inserts a user and its role row in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, user User, role string) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin create user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, user.ID, user.Email, user.PasswordHash).Scan(&user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	if role != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, user.ID, role); err != nil {
			return User{}, fmt.Errorf("insert user role: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit create user: %w", err)
	}
	return user, nil
}

// CreateLawyer records the display name shown to a lawyer's clients.
func (s *PostgresStore) CreateLawyer(ctx context.Context, userID, fullName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lawyers (id, full_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name
	`, userID, fullName)
	if err != nil {
		return fmt.Errorf("create lawyer: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateCase(ctx context.Context, item Case) (Case, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	var nextHearing sql.NullTime
	if item.NextHearing != nil {
		nextHearing = sql.NullTime{Time: *item.NextHearing, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, client_id, lawyer_id, case_number, case_type, status, next_hearing, description)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8)
	`, item.ID, item.ClientID, item.LawyerID, item.CaseNumber, item.CaseType, item.Status, nextHearing, item.Description)
	if err != nil {
		return Case{}, fmt.Errorf("create case: %w", err)
	}
	return s.GetCase(ctx, item.ID)
}

// GetUserRole returns the raw role value. A user with no role row
// yields ErrNotFound; callers decide the default.
func (s *PostgresStore) GetUserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) CaseIDForClient(ctx context.Context, clientID string) (string, error) {
	if !validID(clientID) {
		return "", ErrNotFound
	}
	var caseID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM cases WHERE client_id = $1`, clientID).Scan(&caseID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup client case: %w", err)
	}
	return caseID, nil
}

const selectCase = `
	SELECT c.id, c.client_id, COALESCE(c.lawyer_id::text, ''), c.case_number, c.case_type, c.status,
		COALESCE(l.full_name, ''), c.next_hearing, c.description, c.updated_at
	FROM cases c
	LEFT JOIN lawyers l ON l.id = c.lawyer_id
`

func scanCase(row interface{ Scan(...any) error }) (Case, error) {
	var (
		item        Case
		nextHearing sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.ClientID, &item.LawyerID, &item.CaseNumber, &item.CaseType, &item.Status,
		&item.AttorneyName, &nextHearing, &item.Description, &item.UpdatedAt); err != nil {
		return Case{}, err
	}
	if nextHearing.Valid {
		hearing := nextHearing.Time
		item.NextHearing = &hearing
	}
	return item, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (Case, error) {
	if !validID(caseID) {
		return Case{}, ErrNotFound
	}
	item, err := scanCase(s.db.QueryRowContext(ctx, selectCase+` WHERE c.id = $1`, caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("get case: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListCasesForLawyer(ctx context.Context, lawyerID string) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx, selectCase+` WHERE c.lawyer_id = $1 ORDER BY c.updated_at DESC`, lawyerID)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := make([]Case, 0)
	for rows.Next() {
		item, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return items, nil
}

// UpdateCase applies the non-nil fields and returns the joined row.
func (s *PostgresStore) UpdateCase(ctx context.Context, caseID string, update CaseUpdate) (Case, error) {
	if !validID(caseID) {
		return Case{}, ErrNotFound
	}
	var nextHearing sql.NullTime
	if update.NextHearing != nil {
		nextHearing = sql.NullTime{Time: *update.NextHearing, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE cases SET
			status = COALESCE($2, status),
			next_hearing = CASE WHEN $3::timestamptz IS NULL THEN next_hearing ELSE $3::timestamptz END,
			description = COALESCE($4, description),
			updated_at = NOW()
		WHERE id = $1
	`, caseID, nullString(update.Status), nextHearing, nullString(update.Description))
	if err != nil {
		return Case{}, fmt.Errorf("update case: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return Case{}, ErrNotFound
	}
	return s.GetCase(ctx, caseID)
}

const selectDocument = `
	SELECT id, case_id, name, upload_date, size_bytes, mime_type, url, uploaded_by
	FROM documents
`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	err := row.Scan(&item.ID, &item.CaseID, &item.Name, &item.UploadDate, &item.SizeBytes, &item.MimeType, &item.URL, &item.UploadedBy)
	return item, err
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	if !validID(documentID) {
		return Document{}, ErrNotFound
	}
	item, err := scanDocument(s.db.QueryRowContext(ctx, selectDocument+` WHERE id = $1`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, caseID string) ([]Document, error) {
	if !validID(caseID) {
		return []Document{}, nil
	}
	rows, err := s.db.QueryContext(ctx, selectDocument+` WHERE case_id = $1 ORDER BY upload_date DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// ListDocumentURLs returns the blob link of every stored document.
func (s *PostgresStore) ListDocumentURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("list document urls: %w", err)
	}
	defer rows.Close()

	urls := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan document url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document urls: %w", err)
	}
	return urls, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) (Document, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, case_id, name, size_bytes, mime_type, url, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING upload_date
	`, item.ID, item.CaseID, item.Name, item.SizeBytes, item.MimeType, item.URL, item.UploadedBy).Scan(&item.UploadDate)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return item, nil
}

const selectActivity = `
	SELECT id, case_id, activity_type, title, description, metadata, COALESCE(created_by::text, ''), created_at
	FROM activities
`

func scanActivity(row interface{ Scan(...any) error }) (Activity, error) {
	var (
		item     Activity
		metadata []byte
	)
	if err := row.Scan(&item.ID, &item.CaseID, &item.Type, &item.Title, &item.Description, &metadata, &item.CreatedBy, &item.CreatedAt); err != nil {
		return Activity{}, err
	}
	item.Metadata = json.RawMessage(metadata)
	return item, nil
}

func (s *PostgresStore) GetActivity(ctx context.Context, activityID string) (Activity, error) {
	if !validID(activityID) {
		return Activity{}, ErrNotFound
	}
	item, err := scanActivity(s.db.QueryRowContext(ctx, selectActivity+` WHERE id = $1`, activityID))
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	if err != nil {
		return Activity{}, fmt.Errorf("get activity: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, caseID string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 10
	}
	if !validID(caseID) {
		return []Activity{}, nil
	}
	rows, err := s.db.QueryContext(ctx, selectActivity+` WHERE case_id = $1 ORDER BY created_at DESC LIMIT $2`, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		item, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, item Activity) (Activity, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	metadata := item.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	var createdBy sql.NullString
	if item.CreatedBy != "" {
		createdBy = sql.NullString{String: item.CreatedBy, Valid: true}
	}
	var createdAt sql.NullTime
	if !item.CreatedAt.IsZero() {
		createdAt = sql.NullTime{Time: item.CreatedAt, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO activities (id, case_id, activity_type, title, description, metadata, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, COALESCE($8, NOW()))
		RETURNING created_at
	`, item.ID, item.CaseID, item.Type, item.Title, item.Description, string(metadata), createdBy, createdAt).Scan(&item.CreatedAt)
	if err != nil {
		return Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	item.Metadata = metadata
	return item, nil
}

// validID reports whether id can be a primary key. Anything else cannot
// match a row, and Postgres would reject it as a uuid.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

