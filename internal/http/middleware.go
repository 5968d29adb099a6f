package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/fjod/go_cinema/internal/order"
	"github.com/golang-jwt/jwt/v5"
)

const roleAdmin = "admin"

// Claims is the access token issued by the account service. Subject carries
// the user id.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type User struct {
	ID    string
	Email string
	Admin bool
}

func (u User) actor() order.Actor {
	return order.Actor{UserID: u.ID, Admin: u.Admin}
}

func (u User) customer() domain.Customer {
	return domain.Customer{UserID: u.ID, Email: u.Email}
}

type ctxKey int

const userKey ctxKey = iota

func withUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func userFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok && u.ID != ""
}

// AuthMiddleware validates the bearer token and stores the caller in the
// request context.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			claims, err := parseToken(raw, secret)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			u := User{ID: claims.Subject, Email: claims.Email, Admin: claims.Role == roleAdmin}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
		})
	}
}

func parseToken(raw string, secret []byte) (*Claims, error) {
	t, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return c, nil
}
