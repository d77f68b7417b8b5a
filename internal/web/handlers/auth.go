package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kozaktomas/face-vault/internal/store"
	"github.com/kozaktomas/face-vault/internal/vision"
	"github.com/kozaktomas/face-vault/internal/web/middleware"
)

const maxSelfieBytes = 10 << 20 // 10 MB

// maxSelfieEdge bounds the enrollment image sent to the embedder sidecar.
const maxSelfieEdge = 1024

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	db             store.Store
	sessionManager *middleware.SessionManager
	embedder       vision.Embedder
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(db store.Store, sm *middleware.SessionManager, embedder vision.Embedder) *AuthHandler {
	return &AuthHandler{
		db:             db,
		sessionManager: sm,
		embedder:       embedder,
	}
}

// credentials carries a username/password pair from either a JSON body or
// multipart form fields.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	Username  string `json:"username,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Register creates a new account. The request is either JSON with username
// and password, or a multipart form with the same fields plus an optional
// enrollment selfie under "selfie". With a selfie, a claimed primary person
// is created from its embedding so future uploads associate automatically.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	creds, selfie, err := parseRegisterRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if creds.Username == "" || creds.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	ctx := r.Context()

	existing, err := h.db.GetUserByUsername(ctx, creds.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to check username")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "username already taken")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	var embedding []float32
	if len(selfie) > 0 {
		// An undecodable selfie goes through as-is and fails in the
		// embedder below.
		if resized, err := vision.ResizeImage(selfie, maxSelfieEdge); err == nil {
			selfie = resized
		}
		embedding, err = h.embedder.EmbedFace(ctx, selfie)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "no usable face in enrollment image")
			return
		}
	}

	user := &store.User{Username: creds.Username, PasswordHash: hash}
	err = h.db.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		if embedding == nil {
			return nil
		}

		userID := user.ID
		person := &store.Person{
			Name:      creds.Username,
			IsClaimed: true,
			UserID:    &userID,
		}
		if err := tx.CreatePerson(ctx, person); err != nil {
			return err
		}
		if err := tx.SetPrimaryPerson(ctx, user.ID, &person.ID); err != nil {
			return err
		}
		user.PersonID = &person.ID

		face := &store.Face{
			ImagePath: "enrollment/" + user.ID.String(),
			BBox:      store.BoundingBox{Width: 1, Height: 1},
			Embedding: embedding,
			PersonID:  &person.ID,
		}
		return tx.CreateFace(ctx, face)
	})
	if err != nil {
		log.Printf("register %s failed: %v", sanitizeForLog(creds.Username), err)
		respondError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	session, err := h.sessionManager.CreateSession(user.ID, user.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessionManager.SetSessionCookie(w, session)

	respondJSON(w, http.StatusCreated, LoginResponse{
		Success:   true,
		SessionID: session.ID,
		Username:  user.Username,
		ExpiresAt: session.ExpiresAt.Format("2006-01-02T15:04:05Z"),
	})
}

func parseRegisterRequest(r *http.Request) (credentials, []byte, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxSelfieBytes); err != nil {
			return credentials{}, nil, fmt.Errorf("parse multipart form: %w", err)
		}
		creds := credentials{
			Username: r.FormValue("username"),
			Password: r.FormValue("password"),
		}
		file, _, err := r.FormFile("selfie")
		if err != nil {
			// Selfie part is optional.
			return creds, nil, nil
		}
		defer file.Close()
		selfie, err := io.ReadAll(io.LimitReader(file, maxSelfieBytes))
		if err != nil {
			return credentials{}, nil, fmt.Errorf("read selfie: %w", err)
		}
		return creds, selfie, nil
	}

	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		return credentials{}, nil, fmt.Errorf("decode body: %w", err)
	}
	return creds, nil, nil
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if creds.Username == "" || creds.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.db.GetUserByUsername(r.Context(), creds.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)) != nil {
		respondJSON(w, http.StatusUnauthorized, LoginResponse{
			Success: false,
			Error:   "invalid credentials",
		})
		return
	}

	session, err := h.sessionManager.CreateSession(user.ID, user.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessionManager.SetSessionCookie(w, session)

	respondJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		SessionID: session.ID,
		Username:  user.Username,
		ExpiresAt: session.ExpiresAt.Format("2006-01-02T15:04:05Z"),
	})
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		h.sessionManager.DeleteSession(session.ID)
	}
	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Status reports whether the request carries a valid session
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session == nil {
		respondJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"session":       session.ToJSON(),
	})
}
