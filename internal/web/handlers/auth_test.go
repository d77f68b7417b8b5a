package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-vault/internal/web/middleware"
)

func newAuthHandler(env *testEnv, embedder *stubEmbedder) (*AuthHandler, *middleware.SessionManager) {
	sm := middleware.NewSessionManager("test-secret")
	return NewAuthHandler(env.db, sm, embedder), sm
}

func registerBody(t *testing.T, username, password string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		t.Fatalf("marshal credentials: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestAuthHandler_Register_Success(t *testing.T) {
	env := newTestEnv()
	handler, _ := newAuthHandler(env, &stubEmbedder{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", registerBody(t, "alice", "hunter22"))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	handler.Register(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)

	var resp LoginResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Success {
		t.Errorf("expected success, got %+v", resp)
	}
	if resp.SessionID == "" {
		t.Error("expected a session id")
	}
	if len(recorder.Result().Cookies()) == 0 {
		t.Error("expected a session cookie to be set")
	}

	user, err := env.db.GetUserByUsername(context.Background(), "alice")
	if err != nil || user == nil {
		t.Fatalf("user not stored: %v", err)
	}
	if string(user.PasswordHash) == "hunter22" {
		t.Error("password stored in plain text")
	}
	if user.PersonID != nil {
		t.Error("no selfie was sent, no primary person expected")
	}
}

func TestAuthHandler_Register_WithSelfie(t *testing.T) {
	env := newTestEnv()
	handler, _ := newAuthHandler(env, &stubEmbedder{embedding: unitEmbedding(3)})

	body, contentType := multipartForm(t, map[string]string{
		"username": "bob",
		"password": "hunter22",
	}, "selfie", "selfie.jpg", []byte("fake-jpeg-bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()

	handler.Register(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)

	user, err := env.db.GetUserByUsername(context.Background(), "bob")
	if err != nil || user == nil {
		t.Fatalf("user not stored: %v", err)
	}
	if user.PersonID == nil {
		t.Fatal("expected an enrollment person")
	}
	person, err := env.db.GetPerson(context.Background(), *user.PersonID)
	if err != nil || person == nil {
		t.Fatalf("primary person not stored: %v", err)
	}
	if !person.IsClaimed || person.UserID == nil || *person.UserID != user.ID {
		t.Errorf("enrollment person should be claimed by the new user, got %+v", person)
	}
	count, err := env.db.CountFaces(context.Background(), person.ID)
	if err != nil {
		t.Fatalf("CountFaces failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected one enrollment face, got %d", count)
	}
}

func TestAuthHandler_Register_BadSelfie(t *testing.T) {
	env := newTestEnv()
	handler, _ := newAuthHandler(env, &stubEmbedder{err: errBoom})

	body, contentType := multipartForm(t, map[string]string{
		"username": "carol",
		"password": "hunter22",
	}, "selfie", "selfie.jpg", []byte("not-a-face"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()

	handler.Register(recorder, req)

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)

	user, err := env.db.GetUserByUsername(context.Background(), "carol")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if user != nil {
		t.Error("account should not be created when enrollment fails")
	}
}

func TestAuthHandler_Register_DuplicateUsername(t *testing.T) {
	env := newTestEnv()
	env.user(t, "alice")
	handler, _ := newAuthHandler(env, &stubEmbedder{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", registerBody(t, "alice", "hunter22"))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	handler.Register(recorder, req)

	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestAuthHandler_Register_MissingFields(t *testing.T) {
	env := newTestEnv()
	handler, _ := newAuthHandler(env, &stubEmbedder{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", registerBody(t, "alice", ""))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	handler.Register(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestAuthHandler_Login(t *testing.T) {
	env := newTestEnv()
	handler, _ := newAuthHandler(env, &stubEmbedder{})

	// Register through the handler so the stored hash is real.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", registerBody(t, "alice", "hunter22"))
	req.Header.Set("Content-Type", "application/json")
	handler.Register(httptest.NewRecorder(), req)

	t.Run("Success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", registerBody(t, "alice", "hunter22"))
		recorder := httptest.NewRecorder()

		handler.Login(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		var resp LoginResponse
		parseJSONResponse(t, recorder, &resp)
		if !resp.Success || resp.SessionID == "" {
			t.Errorf("expected a session, got %+v", resp)
		}
	})

	t.Run("WrongPassword", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", registerBody(t, "alice", "wrong"))
		recorder := httptest.NewRecorder()

		handler.Login(recorder, req)

		assertStatusCode(t, recorder, http.StatusUnauthorized)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", registerBody(t, "mallory", "hunter22"))
		recorder := httptest.NewRecorder()

		handler.Login(recorder, req)

		assertStatusCode(t, recorder, http.StatusUnauthorized)
	})
}

func TestAuthHandler_LogoutAndStatus(t *testing.T) {
	env := newTestEnv()
	handler, sm := newAuthHandler(env, &stubEmbedder{})
	user := env.user(t, "alice")

	session, err := sm.CreateSession(user.ID, user.Username)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Carry the signed cookie the way a browser would.
	cookieRecorder := httptest.NewRecorder()
	sm.SetSessionCookie(cookieRecorder, session)
	cookie := cookieRecorder.Result().Cookies()[0]

	statusReq := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
	statusReq.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	handler.Status(recorder, statusReq)
	assertStatusCode(t, recorder, http.StatusOK)
	var status map[string]any
	parseJSONResponse(t, recorder, &status)
	if status["authenticated"] != true {
		t.Errorf("expected authenticated status, got %v", status)
	}

	logoutReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	logoutReq.AddCookie(cookie)
	recorder = httptest.NewRecorder()
	handler.Logout(recorder, logoutReq)
	assertStatusCode(t, recorder, http.StatusOK)

	// Session is gone server-side even if the client replays the cookie.
	statusReq = httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
	statusReq.AddCookie(cookie)
	recorder = httptest.NewRecorder()
	handler.Status(recorder, statusReq)
	parseJSONResponse(t, recorder, &status)
	if status["authenticated"] != false {
		t.Errorf("expected unauthenticated status after logout, got %v", status)
	}
}
