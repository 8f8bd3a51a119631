package store

import (
	"encoding/json"
	"time"
)

// JSON tags match the column names: push payloads carry rows serialized
// by the database (to_jsonb), and they decode straight into these types.

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Case struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"client_id"`
	LawyerID     string     `json:"lawyer_id"`
	CaseNumber   string     `json:"case_number"`
	CaseType     string     `json:"case_type"`
	Status       string     `json:"status"`
	AttorneyName string     `json:"attorney_name"`
	NextHearing  *time.Time `json:"next_hearing"`
	Description  string     `json:"description"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Document struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"case_id"`
	Name       string    `json:"name"`
	UploadDate time.Time `json:"upload_date"`
	SizeBytes  int64     `json:"size_bytes"`
	MimeType   string    `json:"mime_type"`
	URL        string    `json:"url"`
	UploadedBy string    `json:"uploaded_by"`
}

type Activity struct {
	ID          string          `json:"id"`
	CaseID      string          `json:"case_id"`
	Type        string          `json:"activity_type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CaseUpdate holds the lawyer-editable case fields. Nil leaves a field unchanged.
type CaseUpdate struct {
	Status      *string
	NextHearing *time.Time
	Description *string
}
