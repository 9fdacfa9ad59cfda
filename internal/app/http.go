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
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"surveyforge/api/internal/editor"
	"surveyforge/api/internal/export"
	"surveyforge/api/internal/publish"
	"surveyforge/api/internal/schema"
	"surveyforge/api/internal/search"
	"surveyforge/api/internal/store"
	"surveyforge/api/internal/survey"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[1] {
	case "surveys":
		s.handleSurveys(w, r, parts)
	case "sessions":
		s.handleSessions(w, r, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"sessions": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if err := s.service.PingSessions(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["sessions"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.Search(search.Query{
		Text:   text,
		Locale: strings.TrimSpace(query.Get("locale")),
		Limit:  limit,
		Offset: offset,
	}))
}

// handleSurveys serves the stored-survey API used by the builder's save and
// load dialogs and by the form renderer.
func (s *HTTPServer) handleSurveys(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListSurveys(r.Context())
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		case http.MethodPost:
			var body struct {
				SurveyData json.RawMessage `json:"surveyData"`
				SurveyID   json.RawMessage `json:"surveyId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if len(body.SurveyData) == 0 || string(body.SurveyData) == "null" {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "surveyData is required", nil)
				return
			}
			surveyID, err := looseID(body.SurveyID)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			id, err := s.service.SaveSurvey(r.Context(), surveyID, body.SurveyData)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			status, message := http.StatusCreated, "Survey saved"
			if surveyID != "" {
				status, message = http.StatusOK, "Survey updated"
			}
			writeJSON(w, status, map[string]any{"success": true, "message": message, "surveyId": id})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	surveyID := parts[2]
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			content, err := s.service.GetSurvey(r.Context(), surveyID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeRawJSON(w, http.StatusOK, content)
		case http.MethodDelete:
			if err := s.service.DeleteSurvey(r.Context(), surveyID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Survey deleted"})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case parts[3] == "schema" && r.Method == http.MethodGet:
		content, err := s.service.RendererSchema(r.Context(), surveyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeRawJSON(w, http.StatusOK, content)

	case parts[3] == "results" && r.Method == http.MethodPost:
		var body struct {
			Results json.RawMessage `json:"results"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		id, err := s.service.SubmitResult(r.Context(), surveyID, body.Results)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Results saved", "resultId": id})

	case parts[3] == "results" && r.Method == http.MethodGet:
		items, err := s.service.ListResults(r.Context(), surveyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)

	case parts[3] == "export" && r.Method == http.MethodGet:
		result, err := s.service.ExportSurvey(r.Context(), surveyID, r.URL.Query().Get("format"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// handleSessions serves the builder API. Every mutation answers with the
// full session, including the encoded preview document.
func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		view, err := s.service.CreateSession(ctx)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
		return
	}

	sessionID := parts[2]
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			respond(w)(s.service.GetSession(ctx, sessionID))
		case http.MethodDelete:
			if err := s.service.DeleteSession(ctx, sessionID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	action := parts[3]
	switch {
	case action == "survey" && len(parts) == 4 && r.Method == http.MethodPatch:
		var patch survey.SettingsPatch
		if !decodeOrFail(w, r, &patch) {
			return
		}
		respond(w)(s.service.UpdateSettings(ctx, sessionID, patch))

	case action == "schema" && len(parts) == 4 && r.Method == http.MethodGet:
		view, err := s.service.GetSession(ctx, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view.Schema)

	case action == "select" && len(parts) == 4 && r.Method == http.MethodPost:
		var body SelectInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		respond(w)(s.service.Select(ctx, sessionID, body))

	case action == "load" && len(parts) == 4 && r.Method == http.MethodPost:
		var body struct {
			SurveyID json.RawMessage `json:"surveyId"`
			Force    bool            `json:"force"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		surveyID, err := looseID(body.SurveyID)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		respond(w)(s.service.LoadSurvey(ctx, sessionID, surveyID, body.Force))

	case action == "publish" && len(parts) == 4 && r.Method == http.MethodPost:
		respond(w)(s.service.PublishSession(ctx, sessionID))

	case action == "sections":
		s.handleSections(w, r, sessionID, parts)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// handleSections covers /api/sessions/{sid}/sections and everything below it.
func (s *HTTPServer) handleSections(w http.ResponseWriter, r *http.Request, sessionID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 4 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		respond(w)(s.service.AddSection(ctx, sessionID))
		return
	}

	sectionID, ok := pathInt(w, parts[4], "section id")
	if !ok {
		return
	}

	if len(parts) == 5 {
		switch r.Method {
		case http.MethodPatch:
			var patch survey.SectionPatch
			if !decodeOrFail(w, r, &patch) {
				return
			}
			respond(w)(s.service.UpdateSection(ctx, sessionID, sectionID, patch))
		case http.MethodDelete:
			respond(w)(s.service.DeleteSection(ctx, sessionID, sectionID))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if parts[5] != "questions" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	if len(parts) == 6 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		respond(w)(s.service.AddQuestion(ctx, sessionID, sectionID))
		return
	}

	questionID, ok := pathInt(w, parts[6], "question id")
	if !ok {
		return
	}

	switch {
	case len(parts) == 7 && r.Method == http.MethodPatch:
		var patch survey.QuestionPatch
		if !decodeOrFail(w, r, &patch) {
			return
		}
		respond(w)(s.service.UpdateQuestion(ctx, sessionID, sectionID, questionID, patch))

	case len(parts) == 7 && r.Method == http.MethodDelete:
		respond(w)(s.service.DeleteQuestion(ctx, sessionID, sectionID, questionID))

	case len(parts) == 8 && parts[7] == "move" && r.Method == http.MethodPost:
		var body struct {
			Direction string `json:"direction"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		respond(w)(s.service.MoveQuestion(ctx, sessionID, sectionID, questionID, body.Direction))

	case len(parts) == 8 && parts[7] == "choices" && r.Method == http.MethodPut:
		var body struct {
			Text string `json:"text"`
		}
		if !decodeOrFail(w, r, &body) {
			return
		}
		respond(w)(s.service.SetChoices(ctx, sessionID, sectionID, questionID, body.Text))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// respond returns a writer for the (view, error) pair of a session call.
func respond(w http.ResponseWriter) func(SessionView, error) {
	return func(view SessionView, err error) {
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

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
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeRawJSON sends a stored document as is.
func writeRawJSON(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.WriteHeader(status)
	_, _ = w.Write(payload)
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

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
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

func decodeOrFail(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func pathInt(w http.ResponseWriter, raw, name string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", name+" must be an integer", nil)
		return 0, false
	}
	return n, true
}

// looseID accepts an id sent either as a JSON string or a JSON number.
func looseID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text), nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String(), nil
	}
	return "", fmt.Errorf("surveyId must be a string or a number")
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
	switch {
	case errors.Is(err, editor.ErrBusy):
		return http.StatusConflict, "BUSY", "A load or publish is already in progress", nil
	case errors.Is(err, editor.ErrLocked):
		return http.StatusConflict, "SESSION_LOCKED", "The session is being changed by another request", nil
	case errors.Is(err, editor.ErrUnsavedChanges):
		return http.StatusConflict, "UNSAVED_CHANGES", "The session has unsaved changes", nil
	case errors.Is(err, survey.ErrInvariantViolation):
		return http.StatusConflict, "INVARIANT_VIOLATION", err.Error(), nil
	case errors.Is(err, editor.ErrTitleRequired):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Survey title is required", nil
	case errors.Is(err, editor.ErrExternalIO):
		return http.StatusBadGateway, "EXTERNAL_IO", err.Error(), nil
	case errors.Is(err, schema.ErrInvalidDocument):
		return http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error(), nil
	case errors.Is(err, editor.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sql.ErrNoRows), errors.Is(err, publish.ErrNotPublished):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'json', 'pdf' or 'docx'", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusUnprocessableEntity, "EXPORT_CONTENT_UNAVAILABLE", "Stored survey could not be decoded", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
