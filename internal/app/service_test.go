package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"caseportal/api/internal/authpw"
	"caseportal/api/internal/config"
	"caseportal/api/internal/portal"
	"caseportal/api/internal/realtime"
	"caseportal/api/internal/rbac"
	"caseportal/api/internal/store"
	"github.com/alicebob/miniredis/v2"
)

type fakeStore struct {
	mu          sync.Mutex
	roles       map[string]string
	clientCases map[string]string
	cases       map[string]store.Case
	documents   map[string][]store.Document
	activities  map[string][]store.Activity
	pingErr     error
	updates     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles: map[string]string{
			"u-lawyer": "lawyer",
			"u-client": "client",
			"u-other":  "client",
		},
		clientCases: map[string]string{
			"u-client": "case-1",
			"u-other":  "case-2",
		},
		cases: map[string]store.Case{
			"case-1": {ID: "case-1", ClientID: "u-client", LawyerID: "u-lawyer", CaseNumber: "CV-2025-001", CaseType: "Civil", Status: "open"},
			"case-2": {ID: "case-2", ClientID: "u-other", CaseNumber: "CV-2025-002", Status: "open"},
		},
		documents:  map[string][]store.Document{},
		activities: map[string][]store.Activity{},
	}
}

func (f *fakeStore) GetCase(_ context.Context, caseID string) (store.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[caseID]
	if !ok {
		return store.Case{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, caseID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Document(nil), f.documents[caseID]...), nil
}

func (f *fakeStore) ListActivities(_ context.Context, caseID string, limit int) ([]store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := append([]store.Activity(nil), f.activities[caseID]...)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) InsertDocument(_ context.Context, item store.Document) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = "doc-" + item.Name
	item.UploadDate = time.Now()
	f.documents[item.CaseID] = append([]store.Document{item}, f.documents[item.CaseID]...)
	return item, nil
}

func (f *fakeStore) InsertActivity(_ context.Context, item store.Activity) (store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = "act-" + item.Type
	item.CreatedAt = time.Now()
	f.activities[item.CaseID] = append([]store.Activity{item}, f.activities[item.CaseID]...)
	return item, nil
}

func (f *fakeStore) GetUserRole(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return role, nil
}

func (f *fakeStore) CaseIDForClient(_ context.Context, clientID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	caseID, ok := f.clientCases[clientID]
	if !ok {
		return "", store.ErrNotFound
	}
	return caseID, nil
}

func (f *fakeStore) ListCasesForLawyer(_ context.Context, lawyerID string) ([]store.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Case
	for _, c := range f.cases {
		if c.LawyerID == lawyerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateCase(_ context.Context, caseID string, update store.CaseUpdate) (store.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[caseID]
	if !ok {
		return store.Case{}, store.ErrNotFound
	}
	if update.Status != nil {
		c.Status = *update.Status
	}
	if update.NextHearing != nil {
		c.NextHearing = update.NextHearing
	}
	if update.Description != nil {
		c.Description = *update.Description
	}
	f.cases[caseID] = c
	f.updates++
	return c, nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

type fakeAuth struct {
	mu        sync.Mutex
	passwords map[string]string
	users     map[string]authpw.User
	tokens    map[string]authpw.User
}

func newFakeAuth() *fakeAuth {
	users := map[string]authpw.User{
		"lawyer@example.com": {ID: "u-lawyer", Email: "lawyer@example.com"},
		"client@example.com": {ID: "u-client", Email: "client@example.com"},
		"other@example.com":  {ID: "u-other", Email: "other@example.com"},
		"nocase@example.com": {ID: "u-nocase", Email: "nocase@example.com"},
	}
	a := &fakeAuth{passwords: map[string]string{}, users: users, tokens: map[string]authpw.User{}}
	for email, u := range users {
		a.passwords[email] = "correct-horse"
		a.tokens["tok-"+u.ID] = u
	}
	return a
}

func (a *fakeAuth) SignInWithPassword(_ context.Context, email, password string) (authpw.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.passwords[email] != password || password == "" {
		return authpw.Token{}, authpw.ErrInvalidCredentials
	}
	user := a.users[email]
	token := "tok-" + user.ID
	a.tokens[token] = user
	return authpw.Token{AccessToken: token, ExpiresAt: time.Now().Add(time.Hour), User: user}, nil
}

func (a *fakeAuth) CurrentUser(_ context.Context, token string) (authpw.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.tokens[token]
	if !ok {
		return authpw.User{}, authpw.ErrNotSignedIn
	}
	return user, nil
}

func (a *fakeAuth) SignOut(_ context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
	return nil
}

type fakeBlobs struct {
	mu    sync.Mutex
	paths []string
}

func (b *fakeBlobs) Upload(_ context.Context, path string, body io.Reader, _ int64, _ string) error {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = append(b.paths, path)
	return nil
}

func (b *fakeBlobs) PublicURL(path string) (string, error) {
	return "https://blobs.example.com/" + path, nil
}

type fixture struct {
	store   *fakeStore
	auth    *fakeAuth
	blobs   *fakeBlobs
	channel *realtime.Channel
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	channel, err := realtime.NewChannel("redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("connect channel: %v", err)
	}
	t.Cleanup(func() { _ = channel.Close() })

	f := &fixture{store: newFakeStore(), auth: newFakeAuth(), blobs: &fakeBlobs{}, channel: channel}
	cfg := config.Config{MaxUploadBytes: 10 << 20}
	f.service = NewService(cfg, f.store, f.auth, channel, f.blobs, nil)
	return f
}

func clientSession() portal.Session {
	return portal.Session{UserID: "u-client", Email: "client@example.com", Role: rbac.RoleClient}
}

func lawyerSession() portal.Session {
	return portal.Session{UserID: "u-lawyer", Email: "lawyer@example.com", Role: rbac.RoleLawyer}
}

func TestCaseSnapshotForOwnCase(t *testing.T) {
	f := newFixture(t)
	f.store.documents["case-1"] = []store.Document{{ID: "d1", CaseID: "case-1", Name: "a.pdf"}}

	snapshot, err := f.service.CaseSnapshot(context.Background(), clientSession(), "case-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snapshot.Live {
		t.Fatalf("expected live snapshot")
	}
	if snapshot.Case == nil || snapshot.Case.AttorneyName != portal.NotAssigned {
		t.Fatalf("expected case with default attorney, got %+v", snapshot.Case)
	}
	if len(snapshot.Documents) != 1 || snapshot.Documents[0].ID != "d1" {
		t.Fatalf("unexpected documents %+v", snapshot.Documents)
	}
}

func TestAuthorizeCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		session portal.Session
		caseID  string
		action  rbac.Action
		status  int
	}{
		{"client own case", clientSession(), "case-1", rbac.ActionViewCase, 0},
		{"client other case", clientSession(), "case-2", rbac.ActionViewCase, http.StatusForbidden},
		{"client cannot update", clientSession(), "case-1", rbac.ActionUpdateCase, http.StatusForbidden},
		{"lawyer assigned case", lawyerSession(), "case-1", rbac.ActionUpdateCase, 0},
		{"lawyer unassigned case", lawyerSession(), "case-2", rbac.ActionViewCase, http.StatusForbidden},
		{"lawyer missing case", lawyerSession(), "case-404", rbac.ActionViewCase, http.StatusNotFound},
		{"client without case", portal.Session{UserID: "u-nocase", Role: rbac.RoleClient}, "case-1", rbac.ActionViewCase, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.service.authorizeCase(ctx, tc.session, tc.caseID, tc.action)
			if tc.status == 0 {
				if err != nil {
					t.Fatalf("expected access, got %v", err)
				}
				return
			}
			status, _, _, _ := mapError(err)
			if status != tc.status {
				t.Fatalf("expected status %d, got %d (%v)", tc.status, status, err)
			}
		})
	}
}

func TestUpdateCaseRequiresAField(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.UpdateCase(context.Background(), lawyerSession(), "case-1", store.CaseUpdate{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.store.updates != 0 {
		t.Fatalf("store should not be touched")
	}
}

func TestDashboardVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lawyer, err := f.service.Dashboard(ctx, lawyerSession())
	if err != nil {
		t.Fatalf("lawyer dashboard: %v", err)
	}
	if lawyer.Variant != portal.LawyerDashboard || len(lawyer.Cases) != 1 || lawyer.Cases[0].ID != "case-1" {
		t.Fatalf("unexpected lawyer dashboard %+v", lawyer)
	}

	client, err := f.service.Dashboard(ctx, clientSession())
	if err != nil {
		t.Fatalf("client dashboard: %v", err)
	}
	if client.Variant != portal.ClientDashboard || client.Case == nil {
		t.Fatalf("unexpected client dashboard %+v", client)
	}
	if client.Case.NextHearingLabel != "Not scheduled" {
		t.Fatalf("expected Not scheduled, got %q", client.Case.NextHearingLabel)
	}

	nocase, err := f.service.Dashboard(ctx, portal.Session{UserID: "u-nocase", Role: rbac.RoleUnknown})
	if err != nil {
		t.Fatalf("dashboard without case: %v", err)
	}
	if nocase.Variant != portal.ClientDashboard || nocase.Case != nil {
		t.Fatalf("unexpected dashboard %+v", nocase)
	}
}

func TestNewCaseCardFormatsHearing(t *testing.T) {
	hearing := time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC)
	card := newCaseCard(store.Case{ID: "c1", NextHearing: &hearing, AttorneyName: "Dana Reyes"})
	if card.NextHearingLabel != "June 9, 2025" {
		t.Fatalf("unexpected label %q", card.NextHearingLabel)
	}
	if card.AttorneyName != "Dana Reyes" {
		t.Fatalf("attorney name overwritten")
	}
}
