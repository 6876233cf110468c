package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/middleware"
	"github.com/phonegate/server/internal/model"
)

// UserHandler handles registration, login and profile endpoints
type UserHandler struct {
	authService *auth.AuthService
}

// NewUserHandler creates a new user handler
func NewUserHandler(authService *auth.AuthService) *UserHandler {
	return &UserHandler{authService: authService}
}

// registerRequest is the "user" object in POST /api/register
type registerRequest struct {
	Username    string `json:"username"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

// loginRequest is the "user" object in POST /api/login
type loginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

// updateRequest is the "user" object in PATCH /api/user. Pointer fields
// distinguish "absent" from "set to empty".
type updateRequest struct {
	Username    *string `json:"username"`
	PhoneNumber *string `json:"phone_number"`
	Password    *string `json:"password"`
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
}

// authResponse is the "user" object returned by register and login
type authResponse struct {
	Username    string `json:"username"`
	PhoneNumber string `json:"phone_number"`
	Token       string `json:"token"`
}

// profileResponse is the "user" object returned by profile endpoints
type profileResponse struct {
	Username    string  `json:"username"`
	PhoneNumber string  `json:"phone_number"`
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Token       string  `json:"token"`
}

// HandleRegister handles POST /api/register
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeUserEnvelope(w, r, &req) {
		return
	}

	user, token, err := h.authService.Register(r.Context(), auth.RegisterInput{
		Username:    strings.TrimSpace(req.Username),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Password:    req.Password,
	})
	if err != nil {
		logMaskedPhone(req.PhoneNumber, "registration failed: %v", err)
		respondWithAuthError(w, err)
		return
	}

	respondWithUser(w, http.StatusCreated, authResponse{
		Username:    user.Username,
		PhoneNumber: user.PhoneNumber,
		Token:       token,
	})
}

// HandleLogin handles POST /api/login
func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeUserEnvelope(w, r, &req) {
		return
	}

	user, token, err := h.authService.Login(r.Context(), strings.TrimSpace(req.PhoneNumber), req.Password)
	if err != nil {
		logMaskedPhone(req.PhoneNumber, "login failed: %v", err)
		respondWithAuthError(w, err)
		return
	}

	respondWithUser(w, http.StatusOK, authResponse{
		Username:    user.Username,
		PhoneNumber: user.PhoneNumber,
		Token:       token,
	})
}

// HandleGetUser handles GET /api/user and GET /api/users/me (protected).
// Returns the authenticated user with a freshly issued token.
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	token, err := h.authService.IssueToken(user.ID)
	if err != nil {
		log.Printf("Failed to issue token: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	respondWithUser(w, http.StatusOK, profilePayload(user, token))
}

// HandleUpdateUser handles PATCH and PUT /api/user (protected). Applies a
// partial update; password values are re-hashed before persisting.
func (h *UserHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateRequest
	if !decodeUserEnvelope(w, r, &req) {
		return
	}

	updated, token, err := h.authService.UpdateProfile(r.Context(), *user, auth.ProfileUpdate{
		Username:    req.Username,
		PhoneNumber: req.PhoneNumber,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
	})
	if err != nil {
		logMaskedPhone(user.PhoneNumber, "profile update failed: %v", err)
		respondWithAuthError(w, err)
		return
	}

	respondWithUser(w, http.StatusOK, profilePayload(&updated, token))
}

// HandleListUsers handles GET /api/users (protected). The listing is scoped
// to the requesting user, so it returns a single-element list.
func (h *UserHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	token, err := h.authService.IssueToken(user.ID)
	if err != nil {
		log.Printf("Failed to issue token: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	payload := []profileResponse{profilePayload(user, token)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"users": payload}); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// HandleRetrieveUser handles GET /api/users/{username} (protected). Lookups
// are scoped to the requesting user: any other username is not found.
func (h *UserHandler) HandleRetrieveUser(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	username := chi.URLParam(r, "username")
	if username != user.Username {
		respondWithError(w, http.StatusNotFound, "user not found")
		return
	}

	token, err := h.authService.IssueToken(user.ID)
	if err != nil {
		log.Printf("Failed to issue token: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	respondWithUser(w, http.StatusOK, profilePayload(user, token))
}

func profilePayload(user *model.User, token string) profileResponse {
	return profileResponse{
		Username:    user.Username,
		PhoneNumber: user.PhoneNumber,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Token:       token,
	}
}

// decodeUserEnvelope decodes a request body of the form {"user": {...}} into
// dst. Writes a 400 and returns false when the body cannot be decoded or the
// envelope is missing.
func decodeUserEnvelope(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	var envelope struct {
		User json.RawMessage `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if len(envelope.User) == 0 {
		respondWithError(w, http.StatusBadRequest, `request body must contain a "user" object`)
		return false
	}
	if err := json.Unmarshal(envelope.User, dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondWithUser writes a success response wrapped in the user envelope.
// The token is always a plain JSON string.
func respondWithUser(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"user": payload}); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondWithAuthError maps the closed error taxonomy to HTTP responses:
// field validation 400 with per-field messages, credential failures 400 with
// non-field errors, storage conflicts 409, everything else 500.
func respondWithAuthError(w http.ResponseWriter, err error) {
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		respondWithFieldErrors(w, http.StatusBadRequest, verr.Fields)
		return
	}

	var aerr *auth.AuthenticationError
	if errors.As(err, &aerr) {
		respondWithFieldErrors(w, http.StatusBadRequest, map[string][]string{
			"non_field_errors": {aerr.Reason},
		})
		return
	}

	var cerr *auth.ConflictError
	if errors.As(err, &cerr) {
		respondWithError(w, http.StatusConflict, cerr.Error())
		return
	}

	respondWithError(w, http.StatusInternalServerError, "internal server error")
}

// respondWithFieldErrors writes {"errors": {field: [messages]}}
func respondWithFieldErrors(w http.ResponseWriter, statusCode int, fields map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"errors": fields}); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}

// logMaskedPhone logs a message with masked phone number
func logMaskedPhone(phone, format string, args ...interface{}) {
	log.Printf("Phone "+maskPhone(phone)+": "+format, args...)
}

// maskPhone masks a phone number for logging (e.g., 09*******89)
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
