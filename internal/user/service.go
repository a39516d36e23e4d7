package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type Service interface {
	CreateUser(ctx context.Context, user *User, password string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id string, profile Profile) (*User, error)
	ChangePassword(ctx context.Context, id string, password string) error
	Deactivate(ctx context.Context, id string) error
	AddAddress(ctx context.Context, id string, address Address) (*User, error)
	SetDefaultAddress(ctx context.Context, id string, index int) (*User, error)
	ListUsers(ctx context.Context, limit, offset int64) ([]User, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateUser(ctx context.Context, user *User, password string) (*User, error) {
	if user.Role == "" {
		user.Role = RoleCustomer
	}
	if !user.Role.Valid() {
		return nil, ErrInvalidRole
	}

	hash, err := HashPassword(password)
	if err != nil {
		if !errors.Is(err, ErrEmptyPassword) {
			log.Error().Err(err).Msg("service: failed to hash password")
		}
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate user id: %w", err)
	}

	now := time.Now().UTC()
	user.ID = id.String()
	user.PasswordHash = hash
	user.IsActive = true
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Addresses == nil {
		user.Addresses = []Address{}
	}
	normalizeDefault(user.Addresses)

	createdID, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		log.Error().Err(err).Msg("service: failed to create user in repository")
		return nil, fmt.Errorf("service: failed to save user: %w", err)
	}
	user.ID = createdID

	log.Info().Str("user_id", user.ID).Stringer("role", user.Role).Msg("service: user created")
	return user, nil
}

func (s *service) GetUserByID(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Str("user_id", id).Msg("service: failed to get user by id")
		return nil, fmt.Errorf("service: failed to get user by id '%s': %w", id, err)
	}
	return u, nil
}

func (s *service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Msg("service: failed to get user by email")
		return nil, fmt.Errorf("service: failed to get user by email: %w", err)
	}
	return u, nil
}

func (s *service) UpdateProfile(ctx context.Context, id string, profile Profile) (*User, error) {
	if err := s.repo.UpdateProfile(ctx, id, profile); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrEmailExists) {
			return nil, err
		}
		log.Error().Err(err).Str("user_id", id).Msg("service: failed to update user profile")
		return nil, fmt.Errorf("service: failed to update user '%s': %w", id, err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *service) ChangePassword(ctx context.Context, id string, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	if err := s.repo.UpdatePassword(ctx, id, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		log.Error().Err(err).Str("user_id", id).Msg("service: failed to update password")
		return fmt.Errorf("service: failed to update password for '%s': %w", id, err)
	}
	return nil
}

// Deactivate clears the active flag. Users are never removed.
func (s *service) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		log.Error().Err(err).Str("user_id", id).Msg("service: failed to deactivate user")
		return fmt.Errorf("service: failed to deactivate user '%s': %w", id, err)
	}
	log.Info().Str("user_id", id).Msg("service: user deactivated")
	return nil
}

func (s *service) AddAddress(ctx context.Context, id string, address Address) (*User, error) {
	u, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if address.IsDefault {
		clearDefault(u.Addresses)
	}
	u.Addresses = append(u.Addresses, address)
	normalizeDefault(u.Addresses)

	return s.saveAddresses(ctx, u)
}

func (s *service) SetDefaultAddress(ctx context.Context, id string, index int) (*User, error) {
	u, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(u.Addresses) {
		return nil, ErrAddressIndexRange
	}

	clearDefault(u.Addresses)
	u.Addresses[index].IsDefault = true

	return s.saveAddresses(ctx, u)
}

func (s *service) saveAddresses(ctx context.Context, u *User) (*User, error) {
	if err := s.repo.SetAddresses(ctx, u.ID, u.Addresses); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Str("user_id", u.ID).Msg("service: failed to save addresses")
		return nil, fmt.Errorf("service: failed to save addresses for '%s': %w", u.ID, err)
	}
	return u, nil
}

func (s *service) ListUsers(ctx context.Context, limit, offset int64) ([]User, error) {
	users, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list users")
		return nil, fmt.Errorf("service: failed to list users: %w", err)
	}
	return users, nil
}

func clearDefault(addresses []Address) {
	for i := range addresses {
		addresses[i].IsDefault = false
	}
}

// normalizeDefault keeps only the last address flagged as default, and makes
// a lone address the default.
func normalizeDefault(addresses []Address) {
	last := -1
	for i := range addresses {
		if addresses[i].IsDefault {
			last = i
		}
	}
	clearDefault(addresses)
	switch {
	case last >= 0:
		addresses[last].IsDefault = true
	case len(addresses) == 1:
		addresses[0].IsDefault = true
	}
}
