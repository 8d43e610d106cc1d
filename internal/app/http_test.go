package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"tadbir/api/internal/perm"
	"tadbir/api/internal/store"
)

func newTestHandler(fs *fakeStore) http.Handler {
	return NewHTTPServer(newTestService(fs), nil, "*").Handler()
}

func seedLoginUser(t *testing.T, fs *fakeStore, user store.User, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user.PasswordHash = string(hash)
	fs.users[user.ID] = user
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	payload := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	return rec, payload
}

func loginToken(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec, payload := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("no token in login response: %v", payload)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(newFakeStore())
	rec, payload := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload["ok"] != true {
		t.Fatalf("body = %v", payload)
	}
}

func TestAuthRequiredOnProtectedRoutes(t *testing.T) {
	handler := newTestHandler(newFakeStore())
	for _, path := range []string{"/api/dashboard", "/api/categories", "/api/resolutions?parentId=x", "/api/users"} {
		rec, payload := doJSON(t, handler, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", path, rec.Code)
		}
		if payload["code"] != "UNAUTHORIZED" {
			t.Fatalf("%s: code = %v", path, payload["code"])
		}
	}
}

func TestLoginFlowAndCategoryListing(t *testing.T) {
	fs := newFakeStore()
	seedLoginUser(t, fs, store.User{
		ID: "usr_1", Username: "maryam", FullName: "مریم احمدی", Title: "مربی قرآن",
		Role: perm.RoleCustom, IsActive: true,
		Permissions: perm.Permissions{Programs: perm.SectionPermission{CanView: true}},
	}, "secret123")
	fs.categories["cat1"] = store.Category{ID: "cat1", Name: "برنامه صبحگاه", Type: perm.SectionPrograms}
	seedWorkgroup(fs, "wg1", "کارگروه قرآن")
	handler := newTestHandler(fs)

	token := loginToken(t, handler, "maryam", "secret123")

	rec, payload := doJSON(t, handler, http.MethodGet, "/api/categories", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	categories, _ := payload["categories"].([]any)
	// Only the programs category: no workgroups enumeration grant.
	if len(categories) != 1 {
		t.Fatalf("expected 1 category, got %v", payload)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	fs := newFakeStore()
	seedLoginUser(t, fs, store.User{ID: "usr_1", Username: "maryam", Role: perm.RoleCustom, IsActive: true}, "secret123")
	handler := newTestHandler(fs)

	rec, payload := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "maryam", "password": "nope",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("code = %v", payload["code"])
	}
}

func TestResolutionActionRouting(t *testing.T) {
	fs := newFakeStore()
	seedLoginUser(t, fs, store.User{
		ID: "usr_1", Username: "maryam", Title: "مربی قرآن", Role: perm.RoleCustom, IsActive: true,
	}, "secret123")
	seedWorkgroup(fs, "wg1", "کارگروه قرآن")
	seedResolution(fs, store.Resolution{ID: "res1", ParentID: "wg1", Title: "x", Executor: "مربی قرآن", IsApproved: true})
	handler := newTestHandler(fs)

	token := loginToken(t, handler, "maryam", "secret123")

	rec, payload := doJSON(t, handler, http.MethodPost, "/api/resolutions/res1/claim", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim status = %d, body %s", rec.Code, rec.Body.String())
	}
	resolution, _ := payload["resolution"].(map[string]any)
	if resolution["state"] != "claimed" {
		t.Fatalf("state = %v", resolution["state"])
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/resolutions/res1/frobnicate", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action status = %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/api/resolutions/res1/claim", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on action status = %d", rec.Code)
	}
}

func TestUsersEndpointIsAdminOnly(t *testing.T) {
	fs := newFakeStore()
	seedLoginUser(t, fs, store.User{ID: "usr_1", Username: "maryam", Role: perm.RoleCustom, IsActive: true}, "secret123")
	seedLoginUser(t, fs, store.User{ID: "usr_adm", Username: "admin", Role: perm.RoleAdmin, IsActive: true}, "adminpw1")
	handler := newTestHandler(fs)

	custom := loginToken(t, handler, "maryam", "secret123")
	rec, _ := doJSON(t, handler, http.MethodGet, "/api/users", custom, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("custom role status = %d, want 403", rec.Code)
	}

	admin := loginToken(t, handler, "admin", "adminpw1")
	rec, payload := doJSON(t, handler, http.MethodGet, "/api/users", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}
	users, _ := payload["users"].([]any)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %v", payload)
	}
}

func TestUploadWithoutStorageConfigured(t *testing.T) {
	fs := newFakeStore()
	seedLoginUser(t, fs, store.User{ID: "usr_adm", Username: "admin", Role: perm.RoleAdmin, IsActive: true}, "adminpw1")
	handler := newTestHandler(fs)
	token := loginToken(t, handler, "admin", "adminpw1")

	rec, payload := doJSON(t, handler, http.MethodPost, "/api/files", token, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if payload["code"] != "STORAGE_UNAVAILABLE" {
		t.Fatalf("code = %v", payload["code"])
	}
}

func TestStatusEndpointReflectsConnectivity(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.conn = NewConnectivity(func(context.Context) error { return nil })
	handler := NewHTTPServer(svc, nil, "*").Handler()

	rec, payload := doJSON(t, handler, http.MethodGet, "/api/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload["online"] != false {
		t.Fatalf("expected offline before the first probe, got %v", payload)
	}

	rec, payload = doJSON(t, handler, http.MethodPost, "/api/status/retry", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d", rec.Code)
	}
	if payload["online"] != true {
		t.Fatalf("expected online after successful retry, got %v", payload)
	}
}
