package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"brokerflow/api/internal/auth"
	"brokerflow/api/internal/logger"
	"brokerflow/api/internal/metrics"
	"brokerflow/api/internal/rbac"
	"brokerflow/api/internal/store"
)

const (
	maxUploadBytes  = 25 << 20
	maxInboundBytes = 50 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logger.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *logger.Logger) *HTTPServer {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
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
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && (r.URL.Path == "/api/metrics" || r.URL.Path == "/metrics") {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/email/inbound" {
		s.handleInbound(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/cron/") {
		s.handleCron(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "assignments":
		s.handleAssignments(w, r, session, parts)
	case "documents":
		s.handleDocuments(w, r, session, parts)
	case "tasks":
		s.handleTasks(w, r, session, parts)
	case "generations":
		s.handleGenerations(w, r, session, parts)
	case "tenant":
		if len(parts) == 3 && parts[2] == "data" && r.Method == http.MethodDelete {
			if !s.service.Can(session.Role, rbac.ActionPurgeTenant) {
				s.forbid(w, r, session, string(rbac.ActionPurgeTenant))
				return
			}
			result, err := s.service.PurgeTenant(r.Context(), session)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"redis":    map[string]any{"status": "disabled"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if configured, err := s.service.PingLocker(ctx); configured {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     statusCode == http.StatusOK,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleCron(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.CronAuthorized(bearerToken(r)) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return
	}

	switch r.URL.Path {
	case "/api/cron/retention":
		report, err := s.service.RunRetention(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case "/api/cron/reminders":
		report, err := s.service.SendTaskReminders(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleInbound(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxInboundBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid form data", nil)
		return
	}

	msg := InboundEmail{
		From:      r.FormValue("from"),
		Subject:   r.FormValue("subject"),
		Recipient: r.FormValue("recipient"),
		Timestamp: r.FormValue("timestamp"),
		Token:     r.FormValue("token"),
		Signature: r.FormValue("signature"),
	}
	if r.MultipartForm != nil {
		keys := make([]string, 0, len(r.MultipartForm.File))
		for key := range r.MultipartForm.File {
			if strings.HasPrefix(key, "attachment-") {
				keys = append(keys, key)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return attachmentIndex(keys[i]) < attachmentIndex(keys[j]) })
		for _, key := range keys {
			for _, header := range r.MultipartForm.File[key] {
				file, err := header.Open()
				if err != nil {
					s.log.Warn("open inbound attachment", "field", key, "error", err)
					continue
				}
				data, err := io.ReadAll(file)
				file.Close()
				if err != nil {
					s.log.Warn("read inbound attachment", "field", key, "error", err)
					continue
				}
				msg.Attachments = append(msg.Attachments, InboundAttachment{
					Filename:    header.Filename,
					ContentType: header.Header.Get("Content-Type"),
					Data:        data,
				})
			}
		}
	}

	result, err := s.service.ReceiveInboundEmail(r.Context(), msg)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func attachmentIndex(key string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(key, "attachment-"))
	if err != nil {
		return 1 << 30
	}
	return n
}

func (s *HTTPServer) handleAssignments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.ListAssignments(r.Context(), session, store.AssignmentFilter{
			Status: r.URL.Query().Get("status"),
			Query:  r.URL.Query().Get("q"),
			Limit:  limit,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assignments": items})
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, string(rbac.ActionWrite))
			return
		}
		var body CreateAssignmentInput
		if err := decodeAndValidate(r, &body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		item, err := s.service.CreateAssignment(r.Context(), session, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return
	}

	if len(parts) == 3 && parts[2] == "search" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, s.service.SearchAssignments(r.Context(), session,
			r.URL.Query().Get("q"), r.URL.Query().Get("status"), limit))
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	assignmentID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			item, err := s.service.GetAssignment(r.Context(), session, assignmentID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w, r, session, string(rbac.ActionWrite))
				return
			}
			if err := s.service.DeleteAssignment(r.Context(), session, assignmentID); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[3] {
	case "status":
		s.handleAssignmentStatus(w, r, session, assignmentID)
	case "property-data":
		s.handlePropertyData(w, r, session, assignmentID)
	case "documents":
		s.handleAssignmentDocuments(w, r, session, assignmentID)
	case "tasks":
		s.handleAssignmentTasks(w, r, session, assignmentID)
	case "transaction":
		s.handleTransaction(w, r, session, assignmentID, parts)
	case "generations":
		s.handleAssignmentGenerations(w, r, session, assignmentID)
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleAssignmentStatus(w http.ResponseWriter, r *http.Request, session Session, assignmentID string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionWrite) {
		s.forbid(w, r, session, string(rbac.ActionWrite))
		return
	}
	var body struct {
		Status string `json:"status" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	result, err := s.service.ChangeAssignmentStatus(r.Context(), session, assignmentID, body.Status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePropertyData(w http.ResponseWriter, r *http.Request, session Session, assignmentID string) {
	if r.Method == http.MethodGet {
		merged, err := s.service.MergedPropertyData(r.Context(), session, assignmentID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, merged)
		return
	}

	if r.Method == http.MethodPut || r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, string(rbac.ActionWrite))
			return
		}
		var body struct {
			Data   map[string]any `json:"data" validate:"required"`
			Edited bool           `json:"edited"`
		}
		if err := decodeAndValidate(r, &body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		item, err := s.service.ConfirmPropertyData(r.Context(), session, assignmentID, body.Data, body.Edited)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleAssignmentDocuments(w http.ResponseWriter, r *http.Request, session Session, assignmentID string) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListDocuments(r.Context(), session, assignmentID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	if r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, string(rbac.ActionWrite))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+(1<<20))
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid form data", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			s.writeServiceError(w, r, validationError("Fil saknas", map[string]any{"field": "file"}))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read file", nil)
			return
		}
		doc, err := s.service.UploadDocument(r.Context(), session, assignmentID, UploadInput{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleAssignmentTasks(w http.ResponseWriter, r *http.Request, session Session, assignmentID string) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListTasks(r.Context(), session, assignmentID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
		return
	}

	if r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, string(rbac.ActionWrite))
			return
		}
		var body CreateTaskInput
		if err := decodeAndValidate(r, &body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		task, err := s.service.CreateTask(r.Context(), session, assignmentID, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleTransaction(w http.ResponseWriter, r *http.Request, session Session, assignmentID string, parts []string) {
	if len(parts) == 4 && r.Method == http.MethodGet {
		tx, err := s.service.GetTransaction(r.Context(), session, assignmentID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)
		return
	}

	if len(parts) == 5 && parts[4] == "status" && (r.Method == http.MethodPut || r.Method == http.MethodPost) {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, string(rbac.ActionWrite))
			return
		}
		var body struct {
			Status string `json:"status" validate:"required"`
		}
		if err := decodeAndValidate(r, &body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		tx, err := s.service.UpdateTransactionStatus(r.Context(), session, assignmentID, body.Status)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleAssignmentGenerations(w http.ResponseWriter, r *http.Request, session Session, assignmentID string) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListGenerations(r.Context(), session, assignmentID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"generations": items})
		return
	}

	if r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, string(rbac.ActionWrite))
			return
		}
		var body GenerateInput
		if err := decodeAndValidate(r, &body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		item, err := s.service.RunGeneration(r.Context(), session, assignmentID, body.Type, body.Tone)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	documentID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, string(rbac.ActionWrite))
			return
		}
		if err := s.service.DeleteDocument(r.Context(), session, documentID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "url" && r.Method == http.MethodGet {
		url, err := s.service.DocumentURL(r.Context(), session, documentID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url, "expires_in": int(signedURLExpiry.Seconds())})
		return
	}

	if len(parts) == 4 && (parts[3] == "extract" || parts[3] == "contract") && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, string(rbac.ActionWrite))
			return
		}
		var body struct {
			AssignmentID string `json:"assignment_id"`
		}
		if err := decodeAndValidate(r, &body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		var (
			payload any
			err     error
		)
		if parts[3] == "extract" {
			payload, err = s.service.RunExtraction(r.Context(), session, documentID, body.AssignmentID)
		} else {
			payload, err = s.service.ProcessContract(r.Context(), session, documentID, body.AssignmentID)
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 3 || (r.Method != http.MethodPatch && r.Method != http.MethodPut) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionWrite) {
		s.forbid(w, r, session, string(rbac.ActionWrite))
		return
	}
	var body UpdateTaskInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	task, err := s.service.UpdateTask(r.Context(), session, parts[2], body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleGenerations(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	generationID := parts[2]

	if len(parts) == 3 && (r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w, r, session, string(rbac.ActionWrite))
			return
		}
		var body struct {
			EditedText string `json:"edited_text" validate:"required"`
		}
		if err := decodeAndValidate(r, &body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		item, err := s.service.EditGeneration(r.Context(), session, generationID, body.EditedText)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}

	if len(parts) == 4 && parts[3] == "approve" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionApprove) {
			s.forbid(w, r, session, string(rbac.ActionApprove))
			return
		}
		item, err := s.service.ApproveGeneration(r.Context(), session, generationID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}

	if len(parts) == 4 && parts[3] == "pdf" && r.Method == http.MethodGet {
		result, err := s.service.ExportGenerationPDF(r.Context(), session, generationID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action string) {
	s.log.Warn("forbidden", "request_id", requestIDFrom(r.Context()), "user_id", session.UserID,
		"tenant_id", session.TenantID, "role", session.Role, "action", action)
	writeError(w, http.StatusForbidden, CodeForbidden, "Forbidden", nil)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, CodeServerError, "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
		s.log.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
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
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reports bad JSON as INVALID_BODY and failed struct tags as VALIDATION_ERROR.
func decodeAndValidate(r *http.Request, target any) error {
	if err := decodeBody(r, target); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	if err := validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]map[string]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				fields = append(fields, map[string]string{"field": fieldErr.Field(), "rule": fieldErr.Tag()})
			}
			return validationError("Ogiltiga fält", map[string]any{"fields": fields})
		}
		return validationError(err.Error(), nil)
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
