package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/npezzotti/go-dirchat/internal/config"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is what the directory knows about an account.
type Identity struct {
	Username   string
	Fullname   string
	Email      string
	Department string
	Position   string
	IsAdmin    bool
}

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (Identity, error)
}

// Directory lists every account eligible to use the service.
type Directory interface {
	ListUsers(ctx context.Context) ([]Identity, error)
}

// StaticAuthenticator checks credentials against bcrypt hashes from the
// configuration file.
type StaticAuthenticator struct {
	users map[string]config.StaticUser
}

func NewStaticAuthenticator(users []config.StaticUser) *StaticAuthenticator {
	sa := &StaticAuthenticator{users: make(map[string]config.StaticUser, len(users))}
	for _, u := range users {
		sa.users[strings.ToLower(u.Username)] = u
	}
	return sa
}

func (sa *StaticAuthenticator) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	u, ok := sa.users[strings.ToLower(username)]
	if !ok || password == "" || !verifyPassword(u.PasswordHash, password) {
		return Identity{}, ErrInvalidCredentials
	}

	return staticIdentity(u), nil
}

func (sa *StaticAuthenticator) ListUsers(ctx context.Context) ([]Identity, error) {
	ids := make([]Identity, 0, len(sa.users))
	for _, u := range sa.users {
		ids = append(ids, staticIdentity(u))
	}
	return ids, nil
}

func staticIdentity(u config.StaticUser) Identity {
	return Identity{
		Username:   u.Username,
		Fullname:   u.Fullname,
		Email:      u.Email,
		Department: u.Department,
		Position:   u.Position,
		IsAdmin:    u.Admin,
	}
}

func HashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
