package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"caseportal/api/internal/authpw"
	"caseportal/api/internal/config"
	"caseportal/api/internal/logging"
	"caseportal/api/internal/portal"
	"caseportal/api/internal/rbac"
	"caseportal/api/internal/store"
	"go.uber.org/zap"
)

// Store is everything the portal reads and writes in the relational store.
type Store interface {
	portal.CaseReader
	portal.RecordWriter
	portal.RoleLookup
	CaseIDForClient(ctx context.Context, clientID string) (string, error)
	ListCasesForLawyer(ctx context.Context, lawyerID string) ([]store.Case, error)
	UpdateCase(ctx context.Context, caseID string, update store.CaseUpdate) (store.Case, error)
	Ping(ctx context.Context) error
}

type AuthService interface {
	SignInWithPassword(ctx context.Context, email, password string) (authpw.Token, error)
	CurrentUser(ctx context.Context, accessToken string) (authpw.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

type Service struct {
	cfg      config.Config
	store    Store
	auth     AuthService
	channel  portal.Subscriber
	sessions *portal.SessionResolver
	gate     *portal.Gate
	uploads  *portal.UploadPipeline
	probes   []probe
	log      *zap.SugaredLogger
}

// Pinger is a dependency the readiness check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type probe struct {
	name string
	dep  Pinger
}

func NewService(cfg config.Config, st Store, auth AuthService, channel portal.Subscriber, blobs portal.BlobStore, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	sessions := portal.NewSessionResolver(auth, st, log)
	return &Service{
		cfg:      cfg,
		store:    st,
		auth:     auth,
		channel:  channel,
		sessions: sessions,
		gate:     portal.NewGate(sessions),
		uploads:  portal.NewUploadPipeline(blobs, st, cfg.MaxUploadBytes, log),
		log:      log,
	}
}

// WithProbe adds a dependency to the readiness report. The database is
// always probed.
func (s *Service) WithProbe(name string, dep Pinger) *Service {
	s.probes = append(s.probes, probe{name: name, dep: dep})
	return s
}

// Readiness pings every dependency and returns the failures by name.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	results := map[string]error{"database": s.store.Ping(ctx)}
	for _, p := range s.probes {
		results[p.name] = p.dep.Ping(ctx)
	}
	return results
}

func (s *Service) Gate() *portal.Gate {
	return s.gate
}

func (s *Service) ResolveSession(ctx context.Context, accessToken string) (portal.Session, error) {
	return s.sessions.Resolve(ctx, accessToken)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (authpw.Token, portal.Session, error) {
	token, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return authpw.Token{}, portal.Session{}, err
	}
	session, err := s.sessions.Resolve(ctx, token.AccessToken)
	if err != nil {
		return authpw.Token{}, portal.Session{}, err
	}
	return token, session, nil
}

func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	return s.auth.SignOut(ctx, accessToken)
}

// CaseCard is a case plus the display label for its next hearing.
type CaseCard struct {
	store.Case
	NextHearingLabel string `json:"next_hearing_label"`
}

func newCaseCard(c store.Case) CaseCard {
	label := "Not scheduled"
	if c.NextHearing != nil {
		label = c.NextHearing.Format("January 2, 2006")
	}
	if c.AttorneyName == "" {
		c.AttorneyName = portal.NotAssigned
	}
	return CaseCard{Case: c, NextHearingLabel: label}
}

type DashboardPayload struct {
	Variant portal.Variant       `json:"variant"`
	Session portal.Session       `json:"session"`
	Cases   []CaseCard           `json:"cases,omitempty"`
	Case    *CaseCard            `json:"case,omitempty"`
	Live    *portal.CaseSnapshot `json:"live,omitempty"`
}

// Dashboard builds the dashboard for whichever variant the session routes
// to. Lawyers get their case list; clients get their own case.
func (s *Service) Dashboard(ctx context.Context, session portal.Session) (DashboardPayload, error) {
	payload := DashboardPayload{Variant: portal.RouteDashboard(session), Session: session}

	if payload.Variant == portal.LawyerDashboard {
		cases, err := s.store.ListCasesForLawyer(ctx, session.UserID)
		if err != nil {
			return DashboardPayload{}, fmt.Errorf("load lawyer dashboard: %w", err)
		}
		payload.Cases = make([]CaseCard, 0, len(cases))
		for _, c := range cases {
			payload.Cases = append(payload.Cases, newCaseCard(c))
		}
		return payload, nil
	}

	caseID, err := s.store.CaseIDForClient(ctx, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return payload, nil
	}
	if err != nil {
		return DashboardPayload{}, fmt.Errorf("load client dashboard: %w", err)
	}
	snapshot, err := s.loadCase(ctx, caseID)
	if err != nil {
		return DashboardPayload{}, err
	}
	payload.Live = &snapshot
	if snapshot.Case != nil {
		card := newCaseCard(*snapshot.Case)
		payload.Case = &card
	}
	return payload, nil
}

// CaseSnapshot returns the case, its documents and its recent activity.
func (s *Service) CaseSnapshot(ctx context.Context, session portal.Session, caseID string) (portal.CaseSnapshot, error) {
	if err := s.authorizeCase(ctx, session, caseID, rbac.ActionViewCase); err != nil {
		return portal.CaseSnapshot{}, err
	}
	return s.loadCase(ctx, caseID)
}

func (s *Service) loadCase(ctx context.Context, caseID string) (portal.CaseSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	watch, err := s.newWatch()
	if err != nil {
		return portal.CaseSnapshot{}, err
	}
	defer watch.Detach()

	views := watch.Attach(ctx, caseID)
	for {
		snapshot := views.Snapshot()
		if snapshot.Live {
			return snapshot, nil
		}
		if !views.Wait(ctx) {
			return portal.CaseSnapshot{}, fmt.Errorf("load case %s: %w", caseID, context.Cause(ctx))
		}
	}
}

// WatchCase authorizes the session and returns a watch the caller attaches
// and detaches.
func (s *Service) WatchCase(ctx context.Context, session portal.Session, caseID string) (*portal.CaseWatch, error) {
	if err := s.authorizeCase(ctx, session, caseID, rbac.ActionViewCase); err != nil {
		return nil, err
	}
	return s.newWatch()
}

func (s *Service) newWatch() (*portal.CaseWatch, error) {
	watch, err := portal.NewCaseWatch(s.store, s.channel, portal.SyncOptions{
		Retries:    s.cfg.SubscribeRetries,
		RetryDelay: s.cfg.SubscribeRetryDelay,
		Logger:     s.log,
	})
	if err != nil {
		return nil, fmt.Errorf("create case watch: %w", err)
	}
	return watch, nil
}

func (s *Service) UploadDocument(ctx context.Context, session portal.Session, caseID string, file portal.File) (store.Document, error) {
	if err := s.authorizeCase(ctx, session, caseID, rbac.ActionUploadDocument); err != nil {
		return store.Document{}, err
	}
	return s.uploads.Upload(ctx, file, caseID, session.UserID)
}

func (s *Service) UpdateCase(ctx context.Context, session portal.Session, caseID string, update store.CaseUpdate) (CaseCard, error) {
	if err := s.authorizeCase(ctx, session, caseID, rbac.ActionUpdateCase); err != nil {
		return CaseCard{}, err
	}
	if update.Status == nil && update.NextHearing == nil && update.Description == nil {
		return CaseCard{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Nothing to update", nil)
	}
	updated, err := s.store.UpdateCase(ctx, caseID, update)
	if err != nil {
		return CaseCard{}, err
	}
	s.log.Infow("case updated", "case_id", caseID, "user_id", session.UserID)
	return newCaseCard(updated), nil
}

// authorizeCase checks the role permission, then that the case belongs to
// the caller: lawyers see the cases assigned to them, clients their own.
func (s *Service) authorizeCase(ctx context.Context, session portal.Session, caseID string, action rbac.Action) error {
	if !rbac.Can(session.Role, action) {
		return errForbidden
	}

	if session.Role == rbac.RoleLawyer {
		c, err := s.store.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.LawyerID != session.UserID {
			return errForbidden
		}
		return nil
	}

	own, err := s.store.CaseIDForClient(ctx, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return errForbidden
	}
	if err != nil {
		return fmt.Errorf("lookup client case: %w", err)
	}
	if own != caseID {
		return errForbidden
	}
	return nil
}
