package vault

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

type (
	UserNotFound struct {
		Key string
	}

	FileNotFound struct {
		Name string
	}

	// DuplicateUser does not tell which of username or email collided.
	DuplicateUser struct{}

	// CredentialInUse is returned when a credential id is already bound to another user
	CredentialInUse struct {
		ID string
	}
)

func (u UserNotFound) Error() string {
	return fmt.Sprintf("user %v not found", u.Key)
}

func (f FileNotFound) Error() string {
	return fmt.Sprintf("file %v not found", f.Name)
}

func (DuplicateUser) Error() string {
	return "a user with the same username or email already exists"
}

func (c CredentialInUse) Error() string {
	return fmt.Sprintf("credential %v is bound to another user", c.ID)
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
