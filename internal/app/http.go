package app

import (
	"bytes"
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
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tadbir/api/internal/auth"
	"tadbir/api/internal/blob"
	"tadbir/api/internal/perm"
	"tadbir/api/internal/store"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	blobs      *blob.Store
	corsOrigin string
}

func NewHTTPServer(service *Service, blobs *blob.Store, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, blobs: blobs, corsOrigin: corsOrigin}
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
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
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

	if r.Method == http.MethodGet && r.URL.Path == "/api/status" {
		writeJSON(w, http.StatusOK, map[string]any{"online": s.service.Online()})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/status/retry" {
		writeJSON(w, http.StatusOK, map[string]any{"online": s.service.RetryConnect(r.Context())})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Username, body.Password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"username":      session.Username,
			"fullName":      session.FullName,
			"title":         session.Title,
			"role":          string(session.Role),
			"permissions":   session.Permissions,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		payload, err := s.service.Dashboard(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, dashboardJSON(payload))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		section := perm.Section(strings.TrimSpace(r.URL.Query().Get("type")))
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		items, err := s.service.SearchResolutions(r.Context(), session, section, q)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": resolutionListJSON(items)})
		return
	}

	if r.URL.Path == "/api/users" {
		s.handleUsersCollection(w, r, session)
		return
	}

	if r.URL.Path == "/api/titles" {
		s.handleTitlesCollection(w, r, session)
		return
	}

	if r.URL.Path == "/api/categories" {
		s.handleCategoriesCollection(w, r, session)
		return
	}

	if r.URL.Path == "/api/resolutions" {
		s.handleResolutionsCollection(w, r, session)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/resolutions/by-grade" {
		grade := strings.TrimSpace(r.URL.Query().Get("grade"))
		items, err := s.service.ListResolutionsByGrade(r.Context(), session, grade)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolutions": resolutionListJSON(items)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/resolutions/by-lesson" {
		lesson := strings.TrimSpace(r.URL.Query().Get("lesson"))
		items, err := s.service.ListResolutionsByLesson(r.Context(), session, lesson)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolutions": resolutionListJSON(items)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/resolutions/uncompleted" {
		items, err := s.service.ListUncompletedResolutions(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolutions": resolutionListJSON(items)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/files" {
		s.handleUpload(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "users" && parts[3] == "permissions" {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Permissions perm.Permissions `json:"permissions"`
			Title       string           `json:"title"`
			Role        string           `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateUserPermissions(r.Context(), session, parts[2], body.Permissions, body.Title, body.Role); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "titles" {
		s.handleTitleItem(w, r, session, parts[2])
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "categories" {
		s.handleCategoryItem(w, r, session, parts[2])
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "resolutions" {
		s.handleResolutionItem(w, r, session, parts[2])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "resolutions" {
		s.handleResolutionAction(w, r, session, parts[2], parts[3])
		return
	}

	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "workgroups" && parts[3] == "pdfs" {
		s.handleWorkgroupPDFs(w, r, session, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleUsersCollection(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		users, err := s.service.ListUsers(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(users))
		for _, user := range users {
			payload = append(payload, userJSON(user))
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": payload})
		return
	}

	if r.Method == http.MethodPost {
		var body SaveUserInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.SaveUser(r.Context(), session, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": userJSON(user)})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleTitlesCollection(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		titles, err := s.service.ListCustomTitles(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(titles))
		for _, title := range titles {
			payload = append(payload, titleJSON(title))
		}
		writeJSON(w, http.StatusOK, map[string]any{"titles": payload})
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		title, err := s.service.SaveCustomTitle(r.Context(), session, body.Title)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"title": titleJSON(title)})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleTitleItem(w http.ResponseWriter, r *http.Request, session Session, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title id must be an integer", nil)
		return
	}

	if r.Method == http.MethodPut {
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateCustomTitle(r.Context(), session, id, body.Title); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteCustomTitle(r.Context(), session, id); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleCategoriesCollection(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		categories, err := s.service.ListCategories(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(categories))
		for _, cat := range categories {
			payload = append(payload, categoryJSON(cat))
		}
		writeJSON(w, http.StatusOK, map[string]any{"categories": payload})
		return
	}

	if r.Method == http.MethodPost {
		cat, ok := decodeCategory(w, r, "")
		if !ok {
			return
		}
		saved, err := s.service.SaveCategory(r.Context(), session, cat)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"category": categoryJSON(saved)})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleCategoryItem(w http.ResponseWriter, r *http.Request, session Session, categoryID string) {
	if r.Method == http.MethodPut {
		cat, ok := decodeCategory(w, r, categoryID)
		if !ok {
			return
		}
		saved, err := s.service.SaveCategory(r.Context(), session, cat)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"category": categoryJSON(saved)})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteCategory(r.Context(), session, categoryID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeCategory(w http.ResponseWriter, r *http.Request, categoryID string) (store.Category, bool) {
	var body struct {
		ID       string  `json:"id"`
		ParentID *string `json:"parentId"`
		Name     string  `json:"name"`
		Type     string  `json:"type"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return store.Category{}, false
	}
	if categoryID != "" {
		body.ID = categoryID
	}
	return store.Category{
		ID:       body.ID,
		ParentID: body.ParentID,
		Name:     body.Name,
		Type:     perm.Section(body.Type),
	}, true
}

func (s *HTTPServer) handleResolutionsCollection(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		parentID := strings.TrimSpace(r.URL.Query().Get("parentId"))
		executor := strings.TrimSpace(r.URL.Query().Get("executor"))
		var items []ResolutionView
		var err error
		if parentID == "" && executor != "" {
			items, err = s.service.ListResolutionsByExecutor(r.Context(), session, executor)
		} else {
			items, err = s.service.ListResolutions(r.Context(), session, parentID)
		}
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolutions": resolutionListJSON(items)})
		return
	}

	if r.Method == http.MethodPost {
		var body SaveResolutionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.SaveResolution(r.Context(), session, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolution": resolutionJSON(item)})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleResolutionItem(w http.ResponseWriter, r *http.Request, session Session, resolutionID string) {
	if r.Method == http.MethodGet {
		item, err := s.service.GetResolution(r.Context(), session, resolutionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolution": resolutionJSON(item)})
		return
	}

	if r.Method == http.MethodPut {
		var body SaveResolutionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.ID = resolutionID
		item, err := s.service.SaveResolution(r.Context(), session, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolution": resolutionJSON(item)})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteResolution(r.Context(), session, resolutionID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleResolutionAction(w http.ResponseWriter, r *http.Request, session Session, resolutionID, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var item ResolutionView
	var err error
	switch action {
	case "claim":
		item, err = s.service.ClaimResolution(r.Context(), session, resolutionID)
	case "approve":
		item, err = s.service.ApproveResolution(r.Context(), session, resolutionID)
	case "reject":
		item, err = s.service.RejectResolution(r.Context(), session, resolutionID)
	case "ratify":
		item, err = s.service.RatifyResolution(r.Context(), session, resolutionID)
	case "revoke":
		item, err = s.service.RevokeResolution(r.Context(), session, resolutionID)
	case "progress":
		var body struct {
			Progress int `json:"progress"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err = s.service.SetResolutionProgress(r.Context(), session, resolutionID, body.Progress)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolution": resolutionJSON(item)})
}

func (s *HTTPServer) handleWorkgroupPDFs(w http.ResponseWriter, r *http.Request, session Session, workgroupID string, parts []string) {
	if len(parts) == 4 && r.Method == http.MethodGet {
		pdfs, err := s.service.ListWorkgroupPDFs(r.Context(), session, workgroupID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(pdfs))
		for _, pdf := range pdfs {
			payload = append(payload, pdfJSON(pdf))
		}
		writeJSON(w, http.StatusOK, map[string]any{"pdfs": payload})
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost {
		var body struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			FileURL     string `json:"fileUrl"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		pdf, err := s.service.SaveWorkgroupPDF(r.Context(), session, store.WorkgroupPDF{
			WorkgroupID: workgroupID,
			Title:       body.Title,
			Description: body.Description,
			FileURL:     body.FileURL,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pdf": pdfJSON(pdf)})
		return
	}

	if len(parts) == 5 && r.Method == http.MethodDelete {
		if err := s.service.DeleteWorkgroupPDF(r.Context(), session, workgroupID, parts[4]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// handleUpload receives a multipart file and stores it in the object store.
// With compress=true the payload must be a decodable image; it is re-encoded
// as JPEG before upload.
func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
		return
	}
	if !s.service.Online() {
		status, code, message, details := mapError(errOffline())
		writeError(w, status, code, message, details)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file field is required", nil)
		return
	}
	defer file.Close()

	folder := strings.TrimSpace(r.FormValue("folder"))
	if folder == "" {
		folder = "uploads"
	}

	fileName := header.Filename
	var content io.Reader = file
	size := header.Size

	if r.FormValue("compress") == "true" {
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read file", nil)
			return
		}
		compressed, err := blob.CompressImage(data)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is not a decodable image", nil)
			return
		}
		fileName = strings.TrimSuffix(fileName, filepath.Ext(fileName)) + ".jpg"
		content = bytes.NewReader(compressed)
		size = int64(len(compressed))
	}

	url, err := s.blobs.Upload(r.Context(), content, size, fileName, folder)
	if err != nil {
		log.Printf("upload %s: %v", fileName, err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not store file", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// ---------------------------------------------------------------------------
// JSON shapes

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"username":     session.Username,
		"fullName":     session.FullName,
		"title":        session.Title,
		"role":         string(session.Role),
		"permissions":  session.Permissions,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func userJSON(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"username":    user.Username,
		"fullName":    user.FullName,
		"phone":       user.Phone,
		"title":       user.Title,
		"role":        string(user.Role),
		"isActive":    user.IsActive,
		"permissions": user.Permissions,
	}
}

func categoryJSON(cat store.Category) map[string]any {
	var parentID any
	if cat.ParentID != nil && *cat.ParentID != "" {
		parentID = *cat.ParentID
	}
	return map[string]any{
		"id":       cat.ID,
		"parentId": parentID,
		"name":     cat.Name,
		"type":     string(cat.Type),
	}
}

func titleJSON(title store.CustomTitle) map[string]any {
	return map[string]any{
		"id":    title.ID,
		"title": title.Title,
	}
}

func pdfJSON(pdf store.WorkgroupPDF) map[string]any {
	return map[string]any{
		"id":          pdf.ID,
		"workgroupId": pdf.WorkgroupID,
		"title":       pdf.Title,
		"description": pdf.Description,
		"fileUrl":     pdf.FileURL,
		"createdAt":   pdf.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func resolutionListJSON(items []ResolutionView) []map[string]any {
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, resolutionJSON(item))
	}
	return payload
}

func resolutionJSON(v ResolutionView) map[string]any {
	images := v.Images
	if images == nil {
		images = []string{}
	}
	return map[string]any{
		"id":                v.ID,
		"parentId":          v.ParentID,
		"title":             v.Title,
		"description":       v.Description,
		"workgroup":         v.Workgroup,
		"grade":             v.Grade,
		"lesson":            v.Lesson,
		"executor":          v.Executor,
		"needsDate":         v.NeedsDate,
		"executionDate":     v.ExecutionDate,
		"executionTerm":     v.ExecutionTerm,
		"discussionTime":    v.DiscussionTime,
		"images":            images,
		"isApproved":        v.IsApproved,
		"createdAt":         v.CreatedAt.UTC().Format(time.RFC3339),
		"progress":          v.Progress,
		"executorClaim":     v.ExecutorClaim,
		"executorClaimDate": nullableTime(v.ExecutorClaimDate),
		"isCompleted":       v.IsCompleted,
		"lastCompletedAt":   nullableTime(v.LastCompletedAt),
		"reminderType":      string(v.ReminderType),
		"reminderStartDate": v.ReminderStart,
		"reminderEndDate":   v.ReminderEnd,
		"state":             string(v.State),
		"reminderActive":    v.ReminderActive,
	}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func dashboardJSON(d Dashboard) map[string]any {
	return map[string]any{
		"tasks": map[string]any{
			"pending":    resolutionListJSON(d.Tasks.Pending),
			"inProgress": resolutionListJSON(d.Tasks.InProgress),
			"claimed":    resolutionListJSON(d.Tasks.Claimed),
			"completed":  resolutionListJSON(d.Tasks.Completed),
		},
		"reminders": resolutionListJSON(d.Reminders),
		"stats": map[string]any{
			"workgroupResolutions": d.Stats.WorkgroupResolutions,
			"councilResolutions":   d.Stats.CouncilResolutions,
			"workgroups":           d.Stats.Workgroups,
		},
	}
}

// ---------------------------------------------------------------------------
// Middleware and plumbing

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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
		if errors.Is(err, http.ErrBodyReadAfterClose) {
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
