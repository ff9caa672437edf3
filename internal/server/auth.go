package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type subjectKey struct{}

// JWTAuthMiddleware requires an HS256 bearer token signed with secret on
// every route except /healthz. A non-empty issuer must match the iss claim.
func JWTAuthMiddleware(secret []byte, issuer string) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				writeError(w, r, unauthorized("missing bearer token"))
				return
			}

			claims := &jwt.RegisteredClaims{}
			if _, err := parser.ParseWithClaims(tokenStr, claims, keyFunc); err != nil {
				AddLogField(r.Context(), "auth_error", err.Error())
				writeError(w, r, unauthorized("invalid or expired token"))
				return
			}

			AddLogField(r.Context(), "subject", claims.Subject)
			ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject returns the authenticated token subject, or "".
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

func unauthorized(msg string) *APIError {
	return &APIError{Type: ErrorTypeAuthentication, Message: msg, StatusCode: http.StatusUnauthorized}
}
