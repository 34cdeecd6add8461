package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/npezzotti/go-dirchat/internal/server"
)

const (
	defaultExp     = time.Hour * 24
	tokenCookieKey = "token"
)

type contextKey string

const sessionKey contextKey = "session"

// Session is the identity carried by the token cookie.
type Session struct {
	UserId  int
	IsAdmin bool
}

func (s Session) authContext() server.AuthContext {
	return server.AuthContext{UserId: s.UserId, IsAdmin: s.IsAdmin}
}

type sessionClaims struct {
	UserId int  `json:"user-id"`
	Admin  bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}

func WithUserId(ctx context.Context, userId int) context.Context {
	return WithSession(ctx, Session{UserId: userId})
}

func UserId(ctx context.Context) (int, bool) {
	s, ok := SessionFrom(ctx)
	return s.UserId, ok
}

func (s *GoChatApp) createJwtForSession(sess Session, exp time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		UserId: sess.UserId,
		Admin:  sess.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(exp)),
		},
	})

	return token.SignedString(s.signingKey)
}

func (s *GoChatApp) parseSessionToken(tokenString string) (Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Session{}, fmt.Errorf("parse token: %w", err)
	}

	if claims.UserId <= 0 {
		return Session{}, errors.New("invalid user id claim")
	}

	return Session{UserId: claims.UserId, IsAdmin: claims.Admin}, nil
}

// sessionFromRequest reads and verifies the token cookie.
func (s *GoChatApp) sessionFromRequest(r *http.Request) (Session, error) {
	cookie, err := r.Cookie(tokenCookieKey)
	if err != nil {
		return Session{}, fmt.Errorf("get cookie: %w", err)
	}

	return s.parseSessionToken(cookie.Value)
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func expiredJwtCookie() *http.Cookie {
	c := createJwtCookie("", 0)
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	return c
}
