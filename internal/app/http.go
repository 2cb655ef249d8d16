package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docgate/internal/apperr"
	"docgate/internal/auth"
	"docgate/internal/authpw"
	"docgate/internal/rbac"
	"docgate/internal/review"
	"docgate/internal/search"
	"docgate/internal/session"
)

// Reviewer is the authenticated caller.
type Reviewer struct {
	Name   string
	Role   rbac.Role
	Claims auth.Claims
}

type HTTPServer struct {
	service     *Service
	issuer      *auth.Issuer
	revocations session.Revocations
	directory   Directory
	corsOrigin  string
	logger      *slog.Logger
	metrics     http.Handler
}

func NewHTTPServer(service *Service, issuer *auth.Issuer, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		service:    service,
		issuer:     issuer,
		corsOrigin: corsOrigin,
		logger:     logger.With("component", "http"),
		metrics:    promhttp.Handler(),
	}
}

// Directory authenticates reviewers by password.
type Directory interface {
	SignIn(name, password string) (authpw.Account, error)
}

// WithDirectory enables POST /api/login.
func (s *HTTPServer) WithDirectory(d Directory) *HTTPServer {
	s.directory = d
	return s
}

// WithRevocations makes the server reject revoked tokens and enables the
// logout and revoke endpoints.
func (s *HTTPServer) WithRevocations(r session.Revocations) *HTTPServer {
	s.revocations = r
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, reviewer Reviewer, action rbac.Action) {
	s.logger.Warn("request forbidden",
		"request_id", requestID(r.Context()),
		"reviewer", reviewer.Name,
		"role", reviewer.Role,
		"action", action,
		"path", r.URL.Path)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
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

		ready, checks := s.service.Readiness(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		s.login(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	reviewer, ok := s.requireReviewer(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/me":
		writeJSON(w, http.StatusOK, map[string]any{"name": reviewer.Name, "role": reviewer.Role})
		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/logout":
		s.revoke(w, r, reviewer, reviewer.Claims)
		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/tokens/revoke":
		if !s.allow(w, r, reviewer, rbac.ActionAdmin) {
			return
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		claims, err := s.issuer.Verify(strings.TrimSpace(body.Token))
		if errors.Is(err, auth.ErrExpiredToken) {
			writeJSON(w, http.StatusOK, map[string]any{"revoked": false, "reason": "token already expired"})
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Token is not valid", nil)
			return
		}
		s.revoke(w, r, reviewer, claims)
		return
	case parts[1] == "reviews":
		s.handleReviews(w, r, reviewer, parts[2:])
		return
	case r.Method == http.MethodGet && r.URL.Path == "/api/audit":
		if !s.allow(w, r, reviewer, rbac.ActionAdmin) {
			return
		}
		events, err := s.service.RecentAudit(r.Context(), queryInt(r, "limit", 50))
		s.respond(w, r, http.StatusOK, map[string]any{"events": events}, err)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/api/ledger":
		if !s.allow(w, r, reviewer, rbac.ActionRead) {
			return
		}
		commits, err := s.service.LedgerHistory(queryInt(r, "limit", 50))
		s.respond(w, r, http.StatusOK, map[string]any{"commits": commits}, err)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/api/cache/stats":
		if !s.allow(w, r, reviewer, rbac.ActionRead) {
			return
		}
		stats, err := s.service.CacheStats(r.Context())
		s.respond(w, r, http.StatusOK, stats, err)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/api/breakers":
		if !s.allow(w, r, reviewer, rbac.ActionRead) {
			return
		}
		states, err := s.service.Breakers()
		s.respond(w, r, http.StatusOK, map[string]any{"breakers": states}, err)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/api/folders":
		if !s.allow(w, r, reviewer, rbac.ActionRead) {
			return
		}
		infos, err := s.service.Folders()
		s.respond(w, r, http.StatusOK, map[string]any{"folders": infos}, err)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/api/search":
		if !s.allow(w, r, reviewer, rbac.ActionRead) {
			return
		}
		resp, err := s.service.Search(r.Context(), search.Query{
			Text:   strings.TrimSpace(r.URL.Query().Get("q")),
			Folder: strings.TrimSpace(r.URL.Query().Get("folder")),
			Limit:  queryInt(r, "limit", 20),
			Offset: queryInt(r, "offset", 0),
		})
		s.respond(w, r, http.StatusOK, resp, err)
		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/sync":
		if !s.allow(w, r, reviewer, rbac.ActionAdmin) {
			return
		}
		summary, err := s.service.TriggerSync(r.Context())
		s.respond(w, r, http.StatusOK, summary, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReviews(w http.ResponseWriter, r *http.Request, reviewer Reviewer, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if !s.allow(w, r, reviewer, rbac.ActionRead) {
			return
		}
		items, err := s.service.ListReviews(r.Context(), r.URL.Query().Get("status"))
		s.respond(w, r, http.StatusOK, map[string]any{"items": items}, err)
	case len(parts) == 1 && parts[0] == "cleanup" && r.Method == http.MethodPost:
		if !s.allow(w, r, reviewer, rbac.ActionAdmin) {
			return
		}
		removed, err := s.service.CleanupReviews(r.Context())
		s.respond(w, r, http.StatusOK, map[string]any{"removed": removed}, err)
	case len(parts) == 1 && r.Method == http.MethodGet:
		if !s.allow(w, r, reviewer, rbac.ActionRead) {
			return
		}
		item, err := s.service.GetReview(r.Context(), parts[0])
		s.respond(w, r, http.StatusOK, item, err)
	case len(parts) == 2 && parts[1] == "audit" && r.Method == http.MethodGet:
		if !s.allow(w, r, reviewer, rbac.ActionAdmin) {
			return
		}
		events, err := s.service.AuditForReview(r.Context(), parts[0])
		s.respond(w, r, http.StatusOK, map[string]any{"events": events}, err)
	case len(parts) == 2 && (parts[1] == "approve" || parts[1] == "reject") && r.Method == http.MethodPost:
		if !s.allow(w, r, reviewer, rbac.ActionReview) {
			return
		}
		var body struct {
			Notes string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var (
			decision Decision
			err      error
		)
		if parts[1] == "approve" {
			decision, err = s.service.Approve(r.Context(), parts[0], reviewer.Name, body.Notes)
		} else {
			decision, err = s.service.Reject(r.Context(), parts[0], reviewer.Name, body.Notes)
		}
		s.respond(w, r, http.StatusOK, decision, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) login(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "password sign-in is not configured", nil)
		return
	}
	var body struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	account, err := s.directory.SignIn(body.Name, body.Password)
	if err != nil {
		s.logger.Warn("sign-in failed", "request_id", requestID(r.Context()), "name", body.Name)
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid name or password", nil)
		return
	}
	token, claims, err := s.issuer.Issue(account.Name, account.Role)
	if err != nil {
		s.respond(w, r, http.StatusOK, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"name":      claims.Name,
		"role":      claims.Role,
		"expiresAt": time.Unix(claims.Exp, 0).UTC(),
	})
}

func (s *HTTPServer) revoke(w http.ResponseWriter, r *http.Request, by Reviewer, claims auth.Claims) {
	if s.revocations == nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "token revocation is not configured", nil)
		return
	}
	err := s.revocations.Revoke(r.Context(), claims.JTI, session.RevokedToken{
		Subject:   claims.Sub,
		RevokedBy: by.Claims.Sub,
	}, time.Unix(claims.Exp, 0))
	if err != nil {
		s.respond(w, r, http.StatusOK, nil, err)
		return
	}
	s.logger.Info("token revoked",
		"request_id", requestID(r.Context()),
		"subject", claims.Sub,
		"revoked_by", by.Claims.Sub)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true, "subject": claims.Sub})
}

func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request, reviewer Reviewer, action rbac.Action) bool {
	if rbac.Can(reviewer.Role, action) {
		return true
	}
	s.forbid(w, r, reviewer, action)
	return false
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed", "request_id", requestID(r.Context()), "path", r.URL.Path, "error", err)
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) requireReviewer(w http.ResponseWriter, r *http.Request) (Reviewer, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Reviewer{}, false
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Reviewer{}, false
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(r.Context(), claims.JTI)
		if err != nil {
			s.logger.Error("revocation lookup failed", "request_id", requestID(r.Context()), "error", err)
			writeError(w, http.StatusServiceUnavailable, "REVOCATION_UNAVAILABLE", "Cannot verify token status", nil)
			return Reviewer{}, false
		}
		if revoked {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Reviewer{}, false
		}
	}
	return Reviewer{Name: claims.Name, Role: rbac.Normalize(claims.Role), Claims: claims}, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds())
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status, reqErr.Code, reqErr.Message, nil
	}
	switch {
	case errors.Is(err, review.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Review not found", nil
	case errors.Is(err, review.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil
	case errors.Is(err, review.ErrReviewerRequired):
		return http.StatusBadRequest, "REVIEWER_REQUIRED", "Reviewer is required", nil
	case errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	switch apperr.KindOf(err) {
	case apperr.KindSecurityBlock:
		return http.StatusForbidden, "SECURITY_BLOCK", err.Error(), nil
	case apperr.KindTransient:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Upstream unavailable, retry later", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
