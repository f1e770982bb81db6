// Package auth turns a bearer token into the user id the rest of the service trusts.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Vasu1712/scenyx-realtime/internal/httpx"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

type contextKey struct{}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the authenticated user id from ctx.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Verifier checks HS256 tokens; the subject claim is the user id.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify validates raw and returns its subject.
func (v *Verifier) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", models.WrapError(models.ErrUnauthorized, "invalid token", err)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", models.NewError(models.ErrUnauthorized, "unexpected issuer")
	}
	if claims.Subject == "" {
		return "", models.NewError(models.ErrUnauthorized, "token has no subject")
	}
	return claims.Subject, nil
}

// Authenticator resolves the caller of a request. With no verifier it runs in
// development mode and trusts the X-User-ID header or user_id query parameter.
type Authenticator struct {
	verifier *Verifier
}

func NewAuthenticator(verifier *Verifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Authenticate returns the user id behind r.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if a.verifier == nil {
		id := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if id == "" {
			id = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if id == "" {
			return "", models.NewError(models.ErrUnauthorized, "missing user id")
		}
		return id, nil
	}

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		// Browsers cannot set headers on a websocket upgrade.
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return "", models.NewError(models.ErrUnauthorized, "missing bearer token")
	}
	return a.verifier.Verify(token)
}

// Middleware rejects unauthenticated requests and stores the user id in the context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.Authenticate(r)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
