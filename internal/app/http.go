package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"caseportal/api/internal/auth"
	"caseportal/api/internal/authpw"
	"caseportal/api/internal/logging"
	"caseportal/api/internal/portal"
	"caseportal/api/internal/store"
	"caseportal/api/internal/util"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	tokenCookie  = "portal_token"
	writeTimeout = 10 * time.Second
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.SugaredLogger
	upgrader   websocket.Upgrader
}

func NewHTTPServer(service *Service, corsOrigin string, log *zap.SugaredLogger) *HTTPServer {
	if log == nil {
		log = logging.Nop()
	}
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Readiness(ctx) {
			if err == nil {
				checks[name] = map[string]any{"status": "ok"}
				continue
			}
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == portal.LandingPath {
		decision := s.service.Gate().Public(r.Context(), accessToken(r))
		if !decision.Render {
			redirect(w, decision.Redirect)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"page": "landing", "signIn": "/api/auth/signin"})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		if token := accessToken(r); token != "" {
			if err := s.service.SignOut(r.Context(), token); err != nil && !errors.Is(err, authpw.ErrNotSignedIn) {
				s.log.Warnw("sign out failed", "error", err)
			}
		}
		http.SetCookie(w, &http.Cookie{Name: tokenCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		session, err := s.service.ResolveSession(r.Context(), accessToken(r))
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"email":         session.Email,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == portal.DashboardPath {
		session, decision := s.service.Gate().Protected(r.Context(), accessToken(r))
		if !decision.Render {
			redirect(w, decision.Redirect)
			return
		}
		payload, err := s.service.Dashboard(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "cases" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleCase(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCase(w http.ResponseWriter, r *http.Request, session portal.Session, caseID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		snapshot, err := s.service.CaseSnapshot(r.Context(), session, caseID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)

	case len(rest) == 0 && r.Method == http.MethodPatch:
		var body struct {
			Status      *string    `json:"status"`
			NextHearing *time.Time `json:"nextHearing"`
			Description *string    `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.UpdateCase(r.Context(), session, caseID, store.CaseUpdate{
			Status:      body.Status,
			NextHearing: body.NextHearing,
			Description: body.Description,
		})
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, card)

	case len(rest) == 1 && rest[0] == "documents" && r.Method == http.MethodPost:
		s.handleUpload(w, r, session, caseID)

	case len(rest) == 1 && rest[0] == "stream" && r.Method == http.MethodGet:
		s.handleStream(w, r, session, caseID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		s.writeMappedError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token.AccessToken,
		Path:     "/",
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": token.AccessToken,
		"expiresAt":   token.ExpiresAt.Unix(),
		"userId":      session.UserID,
		"email":       session.Email,
		"role":        session.Role,
		"redirect":    portal.DashboardPath,
	})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session portal.Session, caseID string) {
	limit := s.service.cfg.MaxUploadBytes
	if limit > 0 {
		// Leave room for the multipart framing around the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File is too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form with a file field", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form with a file field", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	doc, err := s.service.UploadDocument(r.Context(), session, caseID, portal.File{
		Name:        header.Filename,
		Size:        header.Size,
		ContentType: contentType,
		Body:        file,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

type streamFrame struct {
	Type string               `json:"type"`
	Data *portal.CaseSnapshot `json:"data,omitempty"`
}

// handleStream sends a snapshot frame when the socket opens and another
// after every change, until the client goes away.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, session portal.Session, caseID string) {
	watch, err := s.service.WatchCase(r.Context(), session, caseID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "case_id", caseID, "error", err)
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	views := watch.Attach(ctx, caseID)
	defer watch.Detach()

	log := s.log.With("case_id", caseID, "user_id", session.UserID)
	log.Infow("case stream opened")
	for {
		snapshot := views.Snapshot()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(streamFrame{Type: "snapshot", Data: &snapshot}); err != nil {
			log.Debugw("case stream write failed", "error", err)
			return
		}
		if !views.Wait(ctx) {
			break
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	log.Infow("case stream closed")
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.corsOrigin == "*" {
		return true
	}
	return origin == s.corsOrigin
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (portal.Session, bool) {
	session, err := s.service.ResolveSession(r.Context(), accessToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return portal.Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "request_id", requestID(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		s.log.Infow("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func redirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusSeeOther, map[string]any{"redirect": location})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// accessToken reads the bearer header, then the session cookie, then the
// access_token query parameter (browsers cannot set headers on websockets).
func accessToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := r.Cookie(tokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var uploadErr *portal.UploadError
	if errors.As(err, &uploadErr) {
		if uploadErr.Step == portal.StepValidate {
			return http.StatusUnprocessableEntity, "INVALID_UPLOAD", uploadErr.Err.Error(), map[string]any{"step": uploadErr.Step}
		}
		return http.StatusBadGateway, "UPLOAD_FAILED", "Failed to upload document", map[string]any{"step": uploadErr.Step}
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, portal.ErrUnauthenticated) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
