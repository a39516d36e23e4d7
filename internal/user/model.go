package user

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrEmailExists       = errors.New("user with this email already exists")
	ErrEmptyPassword     = errors.New("password cannot be empty")
	ErrInvalidRole       = errors.New("invalid user role")
	ErrAddressIndexRange = errors.New("address index out of range")
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCustomer, RoleStaff:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

type Address struct {
	Street     string `json:"street" bson:"street"`
	City       string `json:"city" bson:"city"`
	State      string `json:"state" bson:"state"`
	PostalCode string `json:"postal_code" bson:"postal_code"`
	Country    string `json:"country" bson:"country"`
	IsDefault  bool   `json:"is_default" bson:"is_default"`
}

type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	FirstName    string    `json:"first_name" bson:"first_name"`
	LastName     string    `json:"last_name" bson:"last_name"`
	Phone        string    `json:"phone,omitempty" bson:"phone,omitempty"`
	Role         Role      `json:"role" bson:"role"`
	IsActive     bool      `json:"is_active" bson:"is_active"`
	PasswordHash string    `json:"-" bson:"hashed_password"`
	Addresses    []Address `json:"addresses" bson:"addresses"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// DefaultAddress returns the address flagged as default, if any.
func (u *User) DefaultAddress() (Address, bool) {
	for _, a := range u.Addresses {
		if a.IsDefault {
			return a, true
		}
	}
	return Address{}, false
}

// Profile carries the fields a user may change about themselves.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}
