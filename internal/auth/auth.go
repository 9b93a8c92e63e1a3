// Package auth defines credential validation for the login handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cory-johannsen/floe/internal/config"
	"github.com/cory-johannsen/floe/internal/datamodel"
)

var (
	// ErrUnknownUser is returned when no account matches the username.
	ErrUnknownUser = errors.New("unknown user")
	// ErrWrongPassword is returned when the password does not match.
	ErrWrongPassword = errors.New("wrong password")
)

// Identity is the verdict of a successful validation.
type Identity struct {
	PlayerID datamodel.PlayerID
	Username string
	Nickname string
}

// CredentialValidator checks a username and password.
type CredentialValidator interface {
	// Validate returns the player's identity, ErrUnknownUser,
	// ErrWrongPassword, or an infrastructure error.
	Validate(ctx context.Context, username, password string) (Identity, error)
}

// StaticValidator serves a fixed account table, typically from configuration.
type StaticValidator struct {
	accounts map[string]config.StaticAccount
}

// NewStaticValidator builds a validator over accounts. Usernames are
// matched case-insensitively.
func NewStaticValidator(accounts []config.StaticAccount) *StaticValidator {
	m := make(map[string]config.StaticAccount, len(accounts))
	for _, a := range accounts {
		m[strings.ToLower(a.Username)] = a
	}
	return &StaticValidator{accounts: m}
}

// Validate implements CredentialValidator. Accounts configured without a
// password accept any password.
func (v *StaticValidator) Validate(_ context.Context, username, password string) (Identity, error) {
	acct, ok := v.accounts[strings.ToLower(username)]
	if !ok {
		return Identity{}, fmt.Errorf("%q: %w", username, ErrUnknownUser)
	}
	if acct.Password != "" && acct.Password != password {
		return Identity{}, fmt.Errorf("%q: %w", username, ErrWrongPassword)
	}
	nick := acct.Nickname
	if nick == "" {
		nick = acct.Username
	}
	return Identity{
		PlayerID: datamodel.PlayerID(acct.PlayerID),
		Username: acct.Username,
		Nickname: nick,
	}, nil
}
