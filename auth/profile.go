package auth

import (
	"time"

	"github.com/andrebq/famvault/vault"
)

type (
	// Profile is the public view of a user, never carries key material
	// or the password hash.
	Profile struct {
		ID               string    `json:"id"`
		Username         string    `json:"username"`
		Email            string    `json:"email"`
		FullName         string    `json:"fullName"`
		Role             string    `json:"role"`
		BiometricEnabled bool      `json:"biometricEnabled"`
		CreatedAt        time.Time `json:"createdAt"`
	}
)

func NewProfile(u *vault.User) Profile {
	return Profile{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		FullName:         u.FullName,
		Role:             string(u.Role),
		BiometricEnabled: u.BiometricEnabled(),
		CreatedAt:        u.CreatedAt,
	}
}
