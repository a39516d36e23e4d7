package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

// Authenticator is the part of auth.Authenticator the HTTP layer uses.
type Authenticator interface {
	TokenVerifier
	Authenticate(ctx context.Context, email, password string) (auth.Identity, error)
	IssueToken(identity auth.Identity) (string, time.Time, error)
	Register(ctx context.Context, draft user.User, password string) (*user.User, error)
}

type TokenRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required,min=1"`
	LastName  string `json:"last_name" validate:"required,min=1"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type AuthHandler struct {
	auth     Authenticator
	validate *validator.Validate
}

func NewAuthHandler(authenticator Authenticator) *AuthHandler {
	return &AuthHandler{auth: authenticator, validate: newValidator()}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Post("/token", h.handleToken)
	router.Post("/register", h.handleRegister)
}

// handleToken accepts either a JSON body or an OAuth2 password-grant form
// (username, password).
func (h *AuthHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid form payload")
			return
		}
		req.Email = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		if req.Email == "" || req.Password == "" {
			respondWithError(w, http.StatusBadRequest, "username and password are required")
			return
		}
	} else if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	identity, err := h.auth.Authenticate(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondWithServiceError(w, err, "Failed to authenticate")
		return
	}

	token, expiresAt, err := h.auth.IssueToken(identity)
	if err != nil {
		respondWithServiceError(w, err, "Failed to issue token")
		return
	}

	respondWithJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt})
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.auth.Register(r.Context(), user.User{
		Email:     strings.TrimSpace(req.Email),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}, req.Password)
	if err != nil {
		respondWithServiceError(w, err, "Failed to register user")
		return
	}

	log.Info().Str("user_id", created.ID).Msg("User registered")
	respondWithJSON(w, http.StatusCreated, created)
}
