package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/auth"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type UpdateProfileRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required,min=1"`
	LastName  string `json:"last_name" validate:"required,min=1"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

type AddressRequest struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
	IsDefault  bool   `json:"is_default"`
}

type UserHandler struct {
	service  user.Service
	validate *validator.Validate
}

func NewUserHandler(service user.Service) *UserHandler {
	return &UserHandler{service: service, validate: newValidator()}
}

// RegisterRoutes mounts the self-service routes. They require Authenticate.
func (h *UserHandler) RegisterRoutes(router chi.Router) {
	router.Get("/users/me", h.handleGetMe)
	router.Put("/users/me", h.handleUpdateMe)
	router.Put("/users/me/password", h.handleChangePassword)
	router.Post("/users/me/addresses", h.handleAddAddress)
	router.Put("/users/me/addresses/{index}/default", h.handleSetDefaultAddress)
}

// RegisterAdminRoutes mounts user administration. It requires the admin role.
func (h *UserHandler) RegisterAdminRoutes(router chi.Router) {
	router.Get("/admin/users", h.handleListUsers)
	router.Delete("/admin/users/{id}", h.handleDeactivateUser)
}

// currentUser loads the account behind the request's identity. Tokens carry
// the email, so the user id is resolved here.
func currentUser(ctx context.Context, users user.Service) (*user.User, error) {
	identity, ok := auth.IdentityFrom(ctx)
	if !ok {
		return nil, auth.ErrTokenInvalid
	}
	u, err := users.GetUserByEmail(ctx, identity.Email)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, auth.ErrInvalidCredentials
	}
	return u, nil
}

func (h *UserHandler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	u, err := currentUser(r.Context(), h.service)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load current user")
		return
	}
	respondWithJSON(w, http.StatusOK, u)
}

func (h *UserHandler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	u, err := currentUser(r.Context(), h.service)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load current user")
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), u.ID, user.Profile{
		Email:     strings.TrimSpace(req.Email),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to update profile")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *UserHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	u, err := currentUser(r.Context(), h.service)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load current user")
		return
	}

	ok, err := user.CheckPassword(u.PasswordHash, req.CurrentPassword)
	if err != nil {
		respondWithServiceError(w, err, "Failed to verify password")
		return
	}
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	if err := h.service.ChangePassword(r.Context(), u.ID, req.NewPassword); err != nil {
		respondWithServiceError(w, err, "Failed to change password")
		return
	}

	log.Info().Str("user_id", u.ID).Msg("Password changed")
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) handleAddAddress(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	u, err := currentUser(r.Context(), h.service)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load current user")
		return
	}

	updated, err := h.service.AddAddress(r.Context(), u.ID, user.Address{
		Street:     req.Street,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
		IsDefault:  req.IsDefault,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to add address")
		return
	}
	respondWithJSON(w, http.StatusCreated, updated)
}

func (h *UserHandler) handleSetDefaultAddress(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid address index")
		return
	}

	u, err := currentUser(r.Context(), h.service)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load current user")
		return
	}

	updated, err := h.service.SetDefaultAddress(r.Context(), u.ID, index)
	if err != nil {
		respondWithServiceError(w, err, "Failed to set default address")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *UserHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	users, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list users")
		return
	}
	respondWithJSON(w, http.StatusOK, users)
}

func (h *UserHandler) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		respondWithServiceError(w, err, "Failed to deactivate user")
		return
	}

	log.Info().Str("user_id", id).Msg("User deactivated")
	w.WriteHeader(http.StatusNoContent)
}
